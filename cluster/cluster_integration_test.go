//go:build integration

package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/bedrockdb/bedrock/core"
	"github.com/bedrockdb/bedrock/database"
	"github.com/bedrockdb/bedrock/node"
	"github.com/bedrockdb/bedrock/plugin"
	"github.com/stretchr/testify/require"
)

type acceptingPlugin struct {
	plugin.BasePlugin
}

func (acceptingPlugin) Name() string { return "accept" }
func (acceptingPlugin) Peek(database.Database, *core.Command) (bool, error) {
	return false, nil
}
func (acceptingPlugin) Process(database.Tx, *core.Command) (bool, error) {
	return true, nil
}

func factories() map[string]plugin.Factory {
	return map[string]plugin.Factory{
		"accept": func(plugin.NodeRef) plugin.Plugin { return acceptingPlugin{} },
	}
}

// TestFiveNodePriorityFailover exercises §8's failover scenario: the
// highest-priority node stands up to LEADING, a command commits against
// it, then contact is lost and it must return to SEARCHING.
func TestFiveNodePriorityFailover(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priorities := []int{500, 400, 300, 200, 0} // node4 is the permafollower
	ct, err := NewClusterTester(ctx, len(priorities), priorities, factories())
	require.NoError(t, err)

	leader, ok := ct.ByName("node0")
	require.True(t, ok)
	leader.Ctrl.Role().ApplyEvent(node.EventPeersDiscoveredBehind)
	leader.Ctrl.Role().ApplyEvent(node.EventCaughtUpToQuorum)
	role, ok := leader.Ctrl.Role().ApplyEvent(node.EventHighestPriorityNoLeader)
	require.True(t, ok)
	require.Equal(t, node.RoleStandingUp, role)
	role, ok = leader.Ctrl.Role().ApplyEvent(node.EventMajorityAcked)
	require.True(t, ok)
	require.Equal(t, node.RoleLeading, role)

	cmd := core.NewCommand(core.Request{core.HeaderMethodLine: "Noop"})
	delivered, err := ct.Submit(ctx, "node0", cmd)
	require.NoError(t, err)
	require.Equal(t, "accept", delivered.ProcessedBy)

	role, ok = leader.Ctrl.Role().ApplyEvent(node.EventPeerContactLost)
	require.True(t, ok)
	require.Equal(t, node.RoleSearching, role)
}

// TestPermafollowerNeverLeads exercises §8's permafollower scenario: a
// priority-0 node reaching WAITING never stands up even when it observes
// no leader.
func TestPermafollowerNeverLeads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priorities := []int{500, 0}
	ct, err := NewClusterTester(ctx, len(priorities), priorities, factories())
	require.NoError(t, err)

	follower, ok := ct.ByName("node1")
	require.True(t, ok)
	require.True(t, follower.Ctrl.Role().Permafollower())

	follower.Ctrl.Role().ApplyEvent(node.EventPeersDiscoveredBehind)
	follower.Ctrl.Role().ApplyEvent(node.EventCaughtUpToQuorum)
	role, ok := follower.Ctrl.Role().ApplyEvent(node.EventHighestPriorityNoLeader)
	require.False(t, ok)
	require.Equal(t, node.RoleWaiting, role)
}

// TestForgetConnectionGetsLongerDeadline exercises §8's forget-write
// scenario indirectly: a forget-flagged command receives the longer
// timeout and its processing still completes asynchronously.
func TestForgetConnectionGetsLongerDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ct, err := NewClusterTester(ctx, 1, []int{500}, factories())
	require.NoError(t, err)

	cmd := core.NewCommand(core.Request{
		core.HeaderMethodLine: "Noop",
		core.HeaderConnection: core.ConnectionForget,
	})
	require.Greater(t, time.Until(cmd.Deadline()), core.DefaultCommandTimeout)

	n, _ := ct.ByName("node0")
	require.NoError(t, n.Ctrl.Submit(ctx, cmd))
	select {
	case delivered := <-n.Ctrl.Deliveries():
		require.Equal(t, "accept", delivered.ProcessedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("forgotten command never completed processing")
	}
}
