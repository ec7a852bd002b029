package database

import (
	"context"
	"errors"
	"testing"

	"github.com/bedrockdb/bedrock/core"
	"github.com/stretchr/testify/require"
)

func TestInMemory_ExecThenQuery(t *testing.T) {
	db := NewInMemory()
	ctx := context.Background()

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "widgets", Row{"id": "w1", "color": "red"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	rows, err := db.Query(ctx, "widgets")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "red", rows[0]["color"])
}

func TestInMemory_CommitConflictsWithConcurrentWriter(t *testing.T) {
	db := NewInMemory()
	ctx := context.Background()

	txA, err := db.BeginTx(ctx)
	require.NoError(t, err)
	txB, err := db.BeginTx(ctx)
	require.NoError(t, err)

	_, err = txA.Exec(ctx, "widgets", Row{"id": "w1"})
	require.NoError(t, err)
	require.NoError(t, txA.Commit())

	_, err = txB.Exec(ctx, "widgets", Row{"id": "w2"})
	require.NoError(t, err)
	err = txB.Commit()
	require.Error(t, err)
	require.True(t, errors.Is(err, core.ErrConflict))
}

func TestInMemory_ExecRequiresRowWithID(t *testing.T) {
	db := NewInMemory()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)

	_, err = tx.Exec(ctx, "widgets", "not a row")
	require.Error(t, err)

	_, err = tx.Exec(ctx, "widgets", Row{"color": "red"})
	require.Error(t, err)
}

func TestInMemory_RollbackDiscardsWrites(t *testing.T) {
	db := NewInMemory()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "widgets", Row{"id": "w1"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rows, err := db.Query(ctx, "widgets")
	require.NoError(t, err)
	require.Empty(t, rows)
}
