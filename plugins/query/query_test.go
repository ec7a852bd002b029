package query

import (
	"context"
	"testing"

	"github.com/bedrockdb/bedrock/core"
	"github.com/bedrockdb/bedrock/database"
	"github.com/stretchr/testify/require"
)

func TestPlugin_InsertThenSelect(t *testing.T) {
	db := database.NewInMemory()
	p := New(nil)

	insert := core.NewCommand(core.Request{
		core.HeaderMethodLine: "Query",
		fieldAction:           actionInsert,
		fieldTable:            "widgets",
		fieldID:               "w1",
		fieldColumns:          "color=red,size=large",
	})

	tx, err := db.BeginTx(context.Background())
	require.NoError(t, err)
	ok, err := p.Process(tx, insert)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tx.Commit())
	require.Equal(t, core.StatusOK, insert.Response.Status)

	sel := core.NewCommand(core.Request{
		core.HeaderMethodLine: "Query",
		fieldAction:           actionSelect,
		fieldTable:            "widgets",
	})
	final, err := p.Peek(db, sel)
	require.NoError(t, err)
	require.True(t, final)
	require.Contains(t, string(sel.Response.Body), "w1")
}

func TestPlugin_SelectMissingTableAborts(t *testing.T) {
	db := database.NewInMemory()
	p := New(nil)

	cmd := core.NewCommand(core.Request{
		core.HeaderMethodLine: "Query",
		fieldAction:           actionSelect,
	})
	final, err := p.Peek(db, cmd)
	require.False(t, final)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Missing table")
}

func TestPlugin_IgnoresUnrelatedCommands(t *testing.T) {
	db := database.NewInMemory()
	p := New(nil)

	cmd := core.NewCommand(core.Request{core.HeaderMethodLine: "Ping"})
	final, err := p.Peek(db, cmd)
	require.NoError(t, err)
	require.False(t, final)
}
