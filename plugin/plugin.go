// Package plugin defines the hook contract a Bedrock plugin implements
// (§4.2) and the process-wide registry that instantiates and owns them.
package plugin

import (
	"fmt"
	"sync"

	"github.com/bedrockdb/bedrock/core"
	"github.com/bedrockdb/bedrock/database"
)

// Timer identifies a periodic hook, passed to TimerFired. node.Controller
// neither schedules nor fires timers.
type Timer struct {
	Name string
}

// RewriteHandler is the statement rewrite hook a plugin returns from
// ShouldEnableQueryRewriting. database.InMemory does not invoke it.
type RewriteHandler func(query string) (string, error)

// NodeRef is the subset of the node controller a plugin may reach into:
// the node's name and whether it is leading. Declared here
// (rather than importing node) to avoid a dependency cycle; node.Controller
// satisfies this interface.
type NodeRef interface {
	NodeName() string
	IsLeading() bool
}

// Plugin is the hook contract every Bedrock plugin implements (§4.2). A
// plugin owns no threads of its own; the controller calls its hooks from
// worker or sync-thread goroutines. node.Controller calls only Name, Peek
// and Process; nothing in this module invokes the other hooks.
type Plugin interface {
	Name() string

	// Peek may read the database via a read-only handle and may mutate
	// cmd. Returning true means the response is final; false passes the
	// command to Process.
	Peek(db database.Database, cmd *core.Command) (bool, error)

	// Process runs under an open write transaction. Returning true
	// commits; false aborts and rolls back.
	Process(tx database.Tx, cmd *core.Command) (bool, error)

	// UpgradeDatabase runs once on leader ascension, inside a single
	// transaction, to apply idempotent schema migrations.
	UpgradeDatabase(tx database.Tx) error

	// TimerFired is the periodic hook for timers the plugin scheduled.
	TimerFired(timer Timer)

	// HandleFailedReply is invoked when the transport cannot deliver cmd's
	// response (e.g. client disconnected).
	HandleFailedReply(cmd *core.Command)

	// ShouldEnableQueryRewriting installs handler when returning true.
	ShouldEnableQueryRewriting() (handler RewriteHandler, enabled bool)

	// PreventAttach reports whether this plugin refuses to let the node
	// attach to the cluster (e.g. pending migration not yet applied).
	PreventAttach() bool

	// ShouldSuppressTimeoutWarnings mutes the controller's 555 timeout
	// logging for commands this plugin last touched.
	ShouldSuppressTimeoutWarnings() bool
}

// BasePlugin implements every hook as a permissive no-op so concrete
// plugins only need to override the hooks they care about, the way the
// reference framework's optional interfaces default to no-ops rather than
// forcing every implementer to stub every method.
type BasePlugin struct{}

func (BasePlugin) UpgradeDatabase(database.Tx) error { return nil }
func (BasePlugin) TimerFired(Timer)                  {}
func (BasePlugin) HandleFailedReply(*core.Command)   {}
func (BasePlugin) ShouldEnableQueryRewriting() (RewriteHandler, bool) {
	return nil, false
}
func (BasePlugin) PreventAttach() bool                  { return false }
func (BasePlugin) ShouldSuppressTimeoutWarnings() bool  { return false }

// Factory constructs a Plugin bound to a node reference. Called exactly
// once per registered name at node startup (§4.2).
type Factory func(n NodeRef) Plugin

// Registry is the process-wide mapping from plugin name to factory. It is
// guarded by a mutex during registration (before threading begins) and
// treated as a frozen, ordered list of instances afterward (§5).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string

	instances []Plugin
	frozen    bool
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named factory. Returns an error wrapping
// core.ErrAlreadyStarted if called after Freeze, matching
// the reference framework's stance that registration is a startup-only
// concern (its plugin registration pattern uses a sync.Once-guarded
// singleton plus explicit setters before serving begins).
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("plugin: cannot register %q after registry is frozen: %w", name, core.ErrAlreadyStarted)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("plugin: %q already registered", name)
	}
	r.factories[name] = factory
	r.order = append(r.order, name)
	return nil
}

// Freeze instantiates every registered factory, in registration order,
// bound to n, and forbids further registration. Called once at node
// startup before any command is admitted.
func (r *Registry) Freeze(n NodeRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil
	}
	instances := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		p := r.factories[name](n)
		instances = append(instances, p)
	}
	r.instances = instances
	r.frozen = true
	return nil
}

// Instances returns the frozen, ordered list of plugin instances. Safe for
// concurrent use once Freeze has returned; the slice is never mutated
// afterward.
func (r *Registry) Instances() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances
}

// ByName returns the instance registered under name, if any.
func (r *Registry) ByName(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.instances {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}
