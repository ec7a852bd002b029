// Package resilience provides the fault-tolerance primitives httpsx.Manager
// and node.Controller use to keep a failing upstream or a string of write
// conflicts from degrading the rest of the node: one circuit breaker per
// outbound host, and the backoff schedule behind conflict-retry escalation
// (§4.3, §4.5).
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bedrockdb/bedrock/core"
)

// State is a circuit breaker's current disposition.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker guards calls to a single upstream host: once Threshold
// consecutive failures accumulate it opens and rejects calls outright
// until Timeout elapses, then allows HalfOpenRequests probe calls before
// deciding whether to close again or re-open.
type CircuitBreaker struct {
	name string
	cfg  core.CircuitBreakerConfig
	tel  core.Telemetry

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCalls int
	halfOpenOK    int
}

// NewCircuitBreaker builds a breaker named for logs/metrics (typically the
// upstream host). cfg.Threshold/Timeout/HalfOpenRequests drive the state
// machine; a nil tel disables metric emission.
func NewCircuitBreaker(name string, cfg core.CircuitBreakerConfig, tel core.Telemetry) (*CircuitBreaker, error) {
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("resilience: circuit breaker %q: threshold must be at least 1, got %d", name, cfg.Threshold)
	}
	if cfg.HalfOpenRequests < 1 {
		cfg.HalfOpenRequests = 1
	}
	if tel == nil {
		tel = core.NoOpTelemetry{}
	}
	return &CircuitBreaker{name: name, cfg: cfg, tel: tel}, nil
}

// Execute runs fn if the breaker currently allows it, recording the
// outcome against the failure/half-open counters. Disabled breakers
// (cfg.Enabled == false) always run fn directly.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.cfg.Enabled {
		return fn()
	}

	if err := cb.allow(); err != nil {
		return err
	}

	err := fn()
	cb.record(err)
	return err
}

// allow reports whether a call may proceed, transitioning Open->HalfOpen
// once cfg.Timeout has elapsed since the breaker opened.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cfg.Timeout {
			return fmt.Errorf("resilience: circuit breaker %q is open: %w", cb.name, core.ErrCircuitBreakerOpen)
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenCalls, cb.halfOpenOK = 0, 0
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenRequests {
			return fmt.Errorf("resilience: circuit breaker %q is testing recovery: %w", cb.name, core.ErrCircuitBreakerOpen)
		}
		cb.halfOpenCalls++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !isCountedFailure(err) {
		cb.onSuccess()
		return
	}
	cb.onFailure()
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.cfg.HalfOpenRequests {
			cb.transition(StateClosed)
			cb.failures = 0
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
		cb.openedAt = time.Now()
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.Threshold {
			cb.transition(StateOpen)
			cb.openedAt = time.Now()
		}
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if from == to {
		return
	}
	cb.tel.RecordMetric("bedrock.circuit_breaker.state", float64(to), map[string]string{
		"breaker": cb.name,
		"from":    from.String(),
		"to":      to.String(),
	})
}

// State returns the breaker's current state, for tests and diagnostics.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// isCountedFailure reports whether err should count toward the breaker's
// failure threshold. A canceled/deadline-exceeded context reflects the
// caller giving up, not the upstream failing, so it is not counted; every
// other error (including a 4xx StatusError from the upstream) is.
func isCountedFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// DefaultConfig returns the breaker settings core.DefaultConfig() applies
// to every outbound host unless httpsx.Manager was built with a per-host
// override.
func DefaultConfig() core.CircuitBreakerConfig {
	return core.CircuitBreakerConfig{
		Enabled:          true,
		Threshold:        5,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 3,
	}
}
