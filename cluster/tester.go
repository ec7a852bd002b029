package cluster

import (
	"context"
	"fmt"

	"github.com/bedrockdb/bedrock/core"
	"github.com/bedrockdb/bedrock/database"
	"github.com/bedrockdb/bedrock/node"
	"github.com/bedrockdb/bedrock/plugin"
)

// TestNode bundles one in-process node.Controller with its name and its
// Database, for integration scenarios that need to reach into a
// specific node's role machine or crash registry.
type TestNode struct {
	Name string
	Ctrl *node.Controller
	DB   database.Database
}

// ClusterTester wires up N in-process node.Controllers sharing a plugin
// registry factory set, one independent in-memory Database each (they do
// not actually replicate writes — the wire protocol is out of scope, see
// DESIGN.md), for exercising role-machine and admission behavior across a
// simulated cluster without real network I/O.
type ClusterTester struct {
	Nodes []*TestNode
}

// NewClusterTester builds count nodes named "node0".."nodeN-1", node i
// taking priorities[i], each running its own registry instantiated via
// factories.
func NewClusterTester(ctx context.Context, count int, priorities []int, factories map[string]plugin.Factory) (*ClusterTester, error) {
	if len(priorities) != count {
		return nil, fmt.Errorf("cluster: need %d priorities, got %d", count, len(priorities))
	}

	ct := &ClusterTester{}
	for i := 0; i < count; i++ {
		cfg := core.DefaultConfig()
		cfg.NodeName = fmt.Sprintf("node%d", i)
		cfg.Priority = priorities[i]

		registry := plugin.NewRegistry()
		for name, factory := range factories {
			if err := registry.Register(name, factory); err != nil {
				return nil, err
			}
		}

		db := database.NewInMemory()
		ctrl := node.NewController(cfg, db, registry, core.NoOpLogger{})
		if err := registry.Freeze(ctrl); err != nil {
			return nil, err
		}
		ctrl.Start(ctx)

		ct.Nodes = append(ct.Nodes, &TestNode{Name: cfg.NodeName, Ctrl: ctrl, DB: db})
	}
	return ct, nil
}

// ByName returns the node registered under name.
func (ct *ClusterTester) ByName(name string) (*TestNode, bool) {
	for _, n := range ct.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// Submit submits cmd to the named node and waits for its delivery.
func (ct *ClusterTester) Submit(ctx context.Context, nodeName string, cmd *core.Command) (*core.Command, error) {
	n, ok := ct.ByName(nodeName)
	if !ok {
		return nil, fmt.Errorf("cluster: no such node %q", nodeName)
	}
	if err := n.Ctrl.Submit(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case delivered := <-n.Ctrl.Deliveries():
		return delivered, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
