package httpsx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManager_SubmitCompletesTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr := NewManager(srv.Client(), nil, nil)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	tx, err := mgr.Submit(req, time.Now().Add(2*time.Second))
	require.NoError(t, err)

	select {
	case <-tx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transaction never completed")
	}

	resp, txErr := tx.Result()
	require.NoError(t, txErr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWaitQueue_TrackAndUntrack(t *testing.T) {
	q := NewWaitQueue()
	q.Track("cmd-1")
	q.Track("cmd-2")
	require.Equal(t, 2, q.Len())

	q.Untrack("cmd-1")
	require.Equal(t, 1, q.Len())

	q.Untrack("cmd-1") // idempotent
	require.Equal(t, 1, q.Len())
}

func TestManager_SubmitRespectsDeadline(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(blocked)
	}))
	defer srv.Close()

	mgr := NewManager(srv.Client(), nil, nil)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	tx, err := mgr.Submit(req, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)

	select {
	case <-tx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transaction never completed after deadline")
	}
	_, txErr := tx.Result()
	require.Error(t, txErr)

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
	}
	_ = context.Background()
}
