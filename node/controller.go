package node

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/bedrockdb/bedrock/core"
	"github.com/bedrockdb/bedrock/database"
	"github.com/bedrockdb/bedrock/httpsx"
	"github.com/bedrockdb/bedrock/plugin"
	"github.com/bedrockdb/bedrock/replication"
	"github.com/bedrockdb/bedrock/resilience"
)

// Controller owns the command pipeline: a bounded worker pool, one
// dedicated sync-thread goroutine, the HTTPS-wait queue, and the
// replication log (§4.3).
type Controller struct {
	nodeName string
	cfg      *core.Config
	logger   core.Logger

	db        database.Database
	registry  *plugin.Registry
	role      *RoleMachine
	crashes   *CrashRegistry
	waits     *httpsx.WaitQueue
	https     *httpsx.Manager
	log       *replication.Log
	telemetry core.Telemetry

	workers    int
	workerCh   chan *core.Command
	syncCh     chan *core.Command
	deliveries chan *core.Command // commands whose response is finalized

	retryCfg resilience.RetryConfig

	conflictMu    sync.Mutex
	conflictAttempts map[string]int
}

// Option configures optional Controller fields at construction.
type ControllerOption func(*Controller)

func WithWorkers(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithHTTPSManager(m *httpsx.Manager) ControllerOption {
	return func(c *Controller) { c.https = m }
}

func WithReplicationLog(l *replication.Log) ControllerOption {
	return func(c *Controller) { c.log = l }
}

// WithTelemetry attaches a tracing/metrics provider. Without it, spans and
// metrics are no-ops (§4.3's "bedrock.peek"/"bedrock.process" spans are
// purely additive instrumentation, never load-bearing for correctness).
func WithTelemetry(t core.Telemetry) ControllerOption {
	return func(c *Controller) { c.telemetry = t }
}

// NewController builds a Controller. db is the shared storage seam (§6);
// registry must already be frozen via registry.Freeze before Start.
func NewController(cfg *core.Config, db database.Database, registry *plugin.Registry, logger core.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	c := &Controller{
		nodeName:   cfg.NodeName,
		cfg:        cfg,
		logger:     logger,
		db:         db,
		registry:   registry,
		role:       NewRoleMachine(cfg.Priority),
		crashes:    NewCrashRegistry(nil),
		waits:      httpsx.NewWaitQueue(),
		telemetry:  core.NoOpTelemetry{},
		workers:    runtime.GOMAXPROCS(0),
		workerCh:   make(chan *core.Command, 256),
		syncCh:     make(chan *core.Command, 256),
		deliveries: make(chan *core.Command, 256),
		conflictAttempts: make(map[string]int),
		retryCfg: resilience.RetryConfig{
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     200 * time.Millisecond,
			Multiplier:      2.0,
			JitterEnabled:   true,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = replication.NewLog()
	}
	return c
}

// NodeName satisfies plugin.NodeRef.
func (c *Controller) NodeName() string { return c.nodeName }

// IsLeading satisfies plugin.NodeRef.
func (c *Controller) IsLeading() bool { return c.role.IsLeading() }

// Role exposes the controller's role machine, e.g. for the control port.
func (c *Controller) Role() *RoleMachine { return c.role }

// CrashRegistry exposes the controller's crash-fingerprint registry.
func (c *Controller) CrashRegistry() *CrashRegistry { return c.crashes }

// WaitQueueLen reports how many commands are parked on HTTPS, for status
// reporting.
func (c *Controller) WaitQueueLen() int { return c.waits.Len() }

// Start launches the worker pool and the sync thread. Stops when ctx is
// canceled.
func (c *Controller) Start(ctx context.Context) {
	for i := 0; i < c.workers; i++ {
		go c.runLoop(ctx, c.workerCh)
	}
	go c.runLoop(ctx, c.syncCh)
}

// Submit classifies cmd (§4.3 Admission: cmd.OnlyProcessOnSyncThread or a
// plugin-declared conflict policy surfaces through the same flag) and
// enqueues it to the worker pool or directly to the sync thread.
func (c *Controller) Submit(ctx context.Context, cmd *core.Command) error {
	target := c.workerCh
	if cmd.OnlyProcessOnSyncThread {
		target = c.syncCh
	}
	select {
	case target <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliveries returns the channel of commands whose response is finalized
// and ready for the transport layer to write back to the client.
func (c *Controller) Deliveries() <-chan *core.Command { return c.deliveries }

func (c *Controller) runLoop(ctx context.Context, ch chan *core.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-ch:
			c.handle(ctx, cmd)
		}
	}
}

func (c *Controller) handle(ctx context.Context, cmd *core.Command) {
	if cmd.Expired() {
		c.fail(cmd, core.StatusTimeout)
		return
	}

	fingerprint := cmd.FingerprintKey()
	if recognized, _ := c.crashes.Recognized(ctx, fingerprint); recognized {
		c.fail(cmd, core.StatusRecognizedCrash)
		return
	}

	final, err := c.runPeek(ctx, cmd)
	if err != nil {
		c.failWithError(cmd, err)
		return
	}
	if final {
		c.deliver(cmd)
		return
	}

	if !cmd.AreHTTPSRequestsComplete() {
		c.parkForHTTPS(ctx, cmd)
		return
	}

	c.runProcessWithRetry(ctx, cmd)
}

// runPeek iterates registered plugins under a read-only Database handle
// inside a "bedrock.peek" span (§4.3). Returns true if the response is
// final.
func (c *Controller) runPeek(ctx context.Context, cmd *core.Command) (final bool, err error) {
	cmd.StartTiming(core.PhasePeek)
	defer cmd.StopTiming(core.PhasePeek)

	ctx, span := c.telemetry.StartSpan(ctx, "bedrock.peek")
	defer span.End()

	cmd.PeekCount++
	for _, p := range c.registry.Instances() {
		done, peekErr := p.Peek(c.db, cmd)
		if peekErr != nil {
			span.RecordError(peekErr)
			return false, peekErr
		}
		if done {
			cmd.PeekedBy = p.Name()
			cmd.ResetRepeekCount()
			span.SetAttribute("bedrock.peeked_by", p.Name())
			return true, nil
		}
	}

	if cmd.Repeek {
		if cmd.IncrementRepeekCount() >= core.MaxRepeekAttempts {
			return false, fmt.Errorf("%w", core.ErrRepeekLoop)
		}
	} else {
		cmd.ResetRepeekCount()
	}
	return false, nil
}

// parkForHTTPS waits, off the calling worker goroutine, for every HTTPS
// transaction attached during Peek to complete, then resubmits cmd for
// another peek (§4.1 HTTPS gating, §4.5).
func (c *Controller) parkForHTTPS(ctx context.Context, cmd *core.Command) {
	c.waits.Track(cmd.ID)
	go func() {
		defer c.waits.Untrack(cmd.ID)
		select {
		case <-cmd.WaitHTTPS(ctx):
		case <-ctx.Done():
			return
		}
		if cmd.Expired() {
			c.fail(cmd, core.StatusTimeout)
			return
		}
		cmd.ClearHTTPSRequests()
		target := c.workerCh
		if cmd.OnlyProcessOnSyncThread {
			target = c.syncCh
		}
		select {
		case target <- cmd:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) runProcessWithRetry(ctx context.Context, cmd *core.Command) {
	final, err := c.runProcess(ctx, cmd)
	if err == nil {
		c.clearConflictAttempts(cmd.ID)
		if final {
			c.deliver(cmd)
		}
		return
	}

	if core.IsRetryable(err) {
		attempt := c.nextConflictAttempt(cmd.ID)
		if attempt <= core.MaxConflictRetries {
			cmd.Priority = escalatePriority(cmd.Priority)
			delay := c.backoffDelay(attempt)
			go func() {
				if delay > 0 {
					timer := time.NewTimer(delay)
					defer timer.Stop()
					select {
					case <-timer.C:
					case <-ctx.Done():
						return
					}
				}
				select {
				case c.syncCh <- cmd:
				case <-ctx.Done():
				}
			}()
			return
		}
		c.clearConflictAttempts(cmd.ID)
		c.fail(cmd, core.StatusConflict)
		return
	}

	c.clearConflictAttempts(cmd.ID)
	c.failWithError(cmd, err)
}

func (c *Controller) nextConflictAttempt(id string) int {
	c.conflictMu.Lock()
	defer c.conflictMu.Unlock()
	c.conflictAttempts[id]++
	return c.conflictAttempts[id]
}

func (c *Controller) clearConflictAttempts(id string) {
	c.conflictMu.Lock()
	defer c.conflictMu.Unlock()
	delete(c.conflictAttempts, id)
}

// backoffDelay applies retryCfg's exponential backoff (with jitter) to the
// nth conflict retry, driving the delay before a command is resubmitted to
// the sync thread instead of a synchronous retry loop (§4.3's
// conflict-retry path is channel-driven, not blocking).
func (c *Controller) backoffDelay(attempt int) time.Duration {
	return c.retryCfg.NextDelay(attempt)
}

func escalatePriority(p int) int {
	next := p + 250
	if next > core.PriorityMax {
		return core.PriorityMax
	}
	return next
}

// runProcess opens a write transaction, iterates plugins' Process, and
// commits or rolls back based on the bool return (§4.3 Process phase).
func (c *Controller) runProcess(ctx context.Context, cmd *core.Command) (committed bool, err error) {
	cmd.StartTiming(core.PhaseProcess)
	defer cmd.StopTiming(core.PhaseProcess)

	ctx, span := c.telemetry.StartSpan(ctx, "bedrock.process")
	defer span.End()

	tx, err := c.db.BeginTx(ctx)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("node: begin transaction: %w", err)
	}

	cmd.ProcessCount++
	accepted := false
	shouldCommit := false
	for _, p := range c.registry.Instances() {
		ok, procErr := p.Process(tx, cmd)
		if procErr != nil {
			_ = tx.Rollback()
			span.RecordError(procErr)
			return false, procErr
		}
		if ok {
			accepted = true
			shouldCommit = true
			cmd.ProcessedBy = p.Name()
			span.SetAttribute("bedrock.processed_by", p.Name())
			break
		}
	}

	if !accepted {
		_ = tx.Rollback()
		err := fmt.Errorf("%w", core.ErrNoPlugin)
		span.RecordError(err)
		return false, err
	}

	if !shouldCommit {
		_ = tx.Rollback()
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return false, err
	}
	idx := c.log.Propose(cmd.FingerprintKey())
	c.log.Ack(idx, c.nodeName)
	c.role.SetCommitIndex(c.log.CommitIndex())
	c.telemetry.RecordMetric("bedrock.commits", 1, map[string]string{"plugin": cmd.ProcessedBy})
	return true, nil
}

func (c *Controller) fail(cmd *core.Command, status string) {
	cmd.Response.Status = status
	cmd.Repeek = false
	c.logger.Error("command failed", map[string]interface{}{
		"command_id": cmd.ID,
		"status":     status,
		"fingerprint": cmd.FingerprintKey(),
	})
	c.deliver(cmd)
}

// failWithError implements the exception boundary (§4.3): Repeek cleared,
// status written, and the command advanced to delivery.
func (c *Controller) failWithError(cmd *core.Command, err error) {
	var ae *plugin.AbortError
	if errors.As(err, &ae) {
		cmd.Response.Status = ae.StatusLine()
		cmd.Repeek = false
		c.deliver(cmd)
		return
	}
	switch {
	case errors.Is(err, core.ErrRepeekLoop):
		c.fail(cmd, core.StatusRepeekLoop)
	default:
		c.logger.Error("command failed with internal error", map[string]interface{}{
			"command_id": cmd.ID,
			"error":      err.Error(),
		})
		c.fail(cmd, core.StatusInternal)
	}
}

func (c *Controller) deliver(cmd *core.Command) {
	cmd.FinalizeTimingInfo()
	select {
	case c.deliveries <- cmd:
	default:
		// Deliveries channel full: drop to deliveries asynchronously rather
		// than block a worker goroutine.
		go func() { c.deliveries <- cmd }()
	}
}
