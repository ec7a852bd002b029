package membership

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(t *testing.T) (*Directory, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	dir, err := NewDirectory("redis://"+mr.Addr(), "test", 2*time.Second)
	require.NoError(t, err)
	return dir, mr
}

func TestDirectory_RegisterAndList(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, dir.Register(ctx, Peer{NodeName: "node1", Priority: 100, Role: "LEADING"}))
	require.NoError(t, dir.Register(ctx, Peer{NodeName: "node2", Priority: 50, Role: "FOLLOWING"}))

	peers, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 2)
}

func TestDirectory_ExpiresAfterTTL(t *testing.T) {
	dir, mr := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, dir.Register(ctx, Peer{NodeName: "node1", Priority: 100}))
	mr.FastForward(3 * time.Second)

	peers, err := dir.List(ctx)
	require.NoError(t, err)
	require.Empty(t, peers)
}

func TestDirectory_Unregister(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, dir.Register(ctx, Peer{NodeName: "node1", Priority: 100}))
	require.NoError(t, dir.Unregister(ctx, "node1"))

	peers, err := dir.List(ctx)
	require.NoError(t, err)
	require.Empty(t, peers)
}
