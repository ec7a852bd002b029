package node

import (
	"context"
	"testing"
	"time"

	"github.com/bedrockdb/bedrock/core"
	"github.com/bedrockdb/bedrock/database"
	"github.com/bedrockdb/bedrock/plugin"
	"github.com/stretchr/testify/require"
)

// acceptingPlugin processes every command it sees and commits.
type acceptingPlugin struct {
	plugin.BasePlugin
	name string
}

func (p *acceptingPlugin) Name() string { return p.name }
func (p *acceptingPlugin) Peek(database.Database, *core.Command) (bool, error) {
	return false, nil
}
func (p *acceptingPlugin) Process(tx database.Tx, cmd *core.Command) (bool, error) {
	_, err := tx.Exec(context.Background(), "t", database.Row{"id": cmd.ID, "query": cmd.Request["query"]})
	if err != nil {
		return false, err
	}
	return true, nil
}

func newTestController(t *testing.T, p plugin.Plugin) (*Controller, database.Database) {
	t.Helper()
	registry := plugin.NewRegistry()
	require.NoError(t, registry.Register(p.Name(), func(plugin.NodeRef) plugin.Plugin { return p }))

	cfg := core.DefaultConfig()
	cfg.NodeName = "test-node"
	cfg.Priority = 100

	db := database.NewInMemory()
	ctrl := NewController(cfg, db, registry, core.NoOpLogger{})
	require.NoError(t, registry.Freeze(ctrl))
	return ctrl, db
}

func TestController_AcceptedCommandCommitsAndDelivers(t *testing.T) {
	ctrl, _ := newTestController(t, &acceptingPlugin{name: "accept"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	cmd := core.NewCommand(core.Request{"query": "INSERT INTO t VALUES (1)"})
	require.NoError(t, ctrl.Submit(ctx, cmd))

	select {
	case delivered := <-ctrl.Deliveries():
		require.Equal(t, cmd.ID, delivered.ID)
		require.Equal(t, "accept", delivered.ProcessedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("command was never delivered")
	}
}

// refusingPlugin never accepts, so the controller must report no-plugin
// as an internal failure.
type refusingPlugin struct {
	plugin.BasePlugin
}

func (refusingPlugin) Name() string { return "refuse" }
func (refusingPlugin) Peek(database.Database, *core.Command) (bool, error) {
	return false, nil
}
func (refusingPlugin) Process(database.Tx, *core.Command) (bool, error) {
	return false, nil
}

func TestController_NoPluginAcceptsReportsInternalError(t *testing.T) {
	ctrl, _ := newTestController(t, refusingPlugin{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	cmd := core.NewCommand(core.Request{"query": "SELECT 1"})
	require.NoError(t, ctrl.Submit(ctx, cmd))

	select {
	case delivered := <-ctrl.Deliveries():
		require.Equal(t, core.StatusInternal, delivered.Response.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("command was never delivered")
	}
}

// abortingPlugin always fails with a client-facing AbortError during Peek.
type abortingPlugin struct {
	plugin.BasePlugin
}

func (abortingPlugin) Name() string { return "abort" }
func (abortingPlugin) Peek(database.Database, *core.Command) (bool, error) {
	return false, plugin.NewAbortError(402, "Missing userID")
}

func TestController_AbortErrorDuringPeekWritesStatusLine(t *testing.T) {
	ctrl, _ := newTestController(t, abortingPlugin{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	cmd := core.NewCommand(core.Request{"query": "SELECT 1"})
	cmd.Repeek = true
	require.NoError(t, ctrl.Submit(ctx, cmd))

	select {
	case delivered := <-ctrl.Deliveries():
		require.Equal(t, "402 Missing userID", delivered.Response.Status)
		require.False(t, delivered.Repeek)
	case <-time.After(2 * time.Second):
		t.Fatal("command was never delivered")
	}
}

// conflictingPlugin reports core.ErrConflict from its first Process call
// and accepts every later call, exercising the controller's conflict-retry
// escalation.
type conflictingPlugin struct {
	plugin.BasePlugin
	attempts int
}

func (p *conflictingPlugin) Name() string { return "conflict" }
func (p *conflictingPlugin) Peek(database.Database, *core.Command) (bool, error) {
	return false, nil
}
func (p *conflictingPlugin) Process(tx database.Tx, cmd *core.Command) (bool, error) {
	p.attempts++
	if p.attempts < 2 {
		return false, core.ErrConflict
	}
	return true, nil
}

func TestController_ConflictRetriesThenSucceeds(t *testing.T) {
	ctrl, _ := newTestController(t, &conflictingPlugin{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	cmd := core.NewCommand(core.Request{"query": "SELECT 1"})
	require.NoError(t, ctrl.Submit(ctx, cmd))

	select {
	case delivered := <-ctrl.Deliveries():
		require.Equal(t, "conflict", delivered.ProcessedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("command was never delivered")
	}
}
