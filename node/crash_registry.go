package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bedrockdb/bedrock/core"
)

// crashRegistryTTL is how long a recognized fingerprint is remembered when
// backed by a persistent core.Memory; unbounded (0) for the in-process map.
const crashRegistryTTL = 24 * time.Hour

// CrashRegistry recognizes crash-equivalent commands (§3, §4.3): an
// in-memory set keyed by Command.FingerprintKey(), consulted on admission
// before any plugin runs. Optionally backed by core.Memory so fingerprints
// survive a process restart when a Redis-backed Memory is configured —
// reusing the reference framework's key/value interface and Redis client
// for a new purpose (crash memory instead of agent state).
type CrashRegistry struct {
	mu      sync.RWMutex
	seen    map[string]struct{}
	backing core.Memory
}

func NewCrashRegistry(backing core.Memory) *CrashRegistry {
	return &CrashRegistry{seen: make(map[string]struct{}), backing: backing}
}

// Record marks fingerprint as a recognized crash cause, persisting to the
// backing store (if configured) so it survives a restart.
func (r *CrashRegistry) Record(ctx context.Context, fingerprint string) error {
	r.mu.Lock()
	r.seen[fingerprint] = struct{}{}
	r.mu.Unlock()

	if r.backing == nil {
		return nil
	}
	if err := r.backing.Set(ctx, crashKey(fingerprint), "1", crashRegistryTTL); err != nil {
		return fmt.Errorf("node: persisting crash fingerprint: %w", err)
	}
	return nil
}

// Recognized reports whether fingerprint matches a previously recorded
// crash, checking the in-process set first and falling back to the
// backing store.
func (r *CrashRegistry) Recognized(ctx context.Context, fingerprint string) (bool, error) {
	r.mu.RLock()
	_, ok := r.seen[fingerprint]
	r.mu.RUnlock()
	if ok {
		return true, nil
	}

	if r.backing == nil {
		return false, nil
	}
	exists, err := r.backing.Exists(ctx, crashKey(fingerprint))
	if err != nil {
		return false, fmt.Errorf("node: checking crash fingerprint: %w", err)
	}
	if exists {
		r.mu.Lock()
		r.seen[fingerprint] = struct{}{}
		r.mu.Unlock()
	}
	return exists, nil
}

func crashKey(fingerprint string) string {
	return "bedrock:crash:" + fingerprint
}
