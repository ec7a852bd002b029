// Package httpsx models the outbound HTTPS calls a plugin issues from Peek
// and the manager that runs them, gating the command's re-peek/process
// transition on their completion (§4.5).
package httpsx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bedrockdb/bedrock/core"
	"github.com/bedrockdb/bedrock/resilience"
)

// Transaction models one outbound HTTPS call. Done closes once the call
// has finished (successfully or not); Result then returns its outcome.
// Commands hold a non-owning reference to a Transaction; Manager owns the
// lifecycle.
type Transaction struct {
	Request *http.Request

	done chan struct{}

	mu       sync.Mutex
	response *http.Response
	err      error
}

func newTransaction(req *http.Request) *Transaction {
	return &Transaction{Request: req, done: make(chan struct{})}
}

// Done reports completion, satisfying core.httpsHandle.
func (t *Transaction) Done() <-chan struct{} { return t.done }

// Result returns the transaction's outcome. Only valid after Done closes.
func (t *Transaction) Result() (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response, t.err
}

func (t *Transaction) finish(resp *http.Response, err error) {
	t.mu.Lock()
	t.response, t.err = resp, err
	t.mu.Unlock()
	close(t.done)
}

// Manager submits Transactions via net/http, deriving each call's context
// from the command's absolute deadline, and wraps every send in a
// resilience.CircuitBreaker scoped to the upstream host so a failing
// upstream stops accepting new command-initiated calls rather than piling
// up goroutines — grounded on the reference framework's
// resilience.RetryWithCircuitBreaker pattern, here one breaker per host
// rather than one global breaker.
type Manager struct {
	client    *http.Client
	telemetry core.Telemetry

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker

	cbConfig func(host string) core.CircuitBreakerConfig
}

// NewManager builds a Manager. cbConfig, if nil, uses
// resilience.DefaultConfig() for every host; tel may be nil.
func NewManager(client *http.Client, cbConfig func(host string) core.CircuitBreakerConfig, tel core.Telemetry) *Manager {
	if client == nil {
		client = &http.Client{}
	}
	if tel == nil {
		tel = core.NoOpTelemetry{}
	}
	return &Manager{
		client:    client,
		telemetry: tel,
		breakers:  make(map[string]*resilience.CircuitBreaker),
		cbConfig:  cbConfig,
	}
}

func (m *Manager) breakerFor(host string) (*resilience.CircuitBreaker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[host]; ok {
		return cb, nil
	}

	cfg := resilience.DefaultConfig()
	if m.cbConfig != nil {
		cfg = m.cbConfig(host)
	}
	cb, err := resilience.NewCircuitBreaker("httpsx:"+host, cfg, m.telemetry)
	if err != nil {
		return nil, fmt.Errorf("httpsx: building circuit breaker for %s: %w", host, err)
	}
	m.breakers[host] = cb
	return cb, nil
}

// Submit starts req asynchronously, bounded by deadline, and returns a
// Transaction the caller attaches to a command via core.Command's
// AttachHTTPSRequest.
func (m *Manager) Submit(req *http.Request, deadline time.Time) (*Transaction, error) {
	u, err := url.Parse(req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("httpsx: invalid request URL: %w", err)
	}

	cb, err := m.breakerFor(u.Host)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithDeadline(req.Context(), deadline)
	req = req.WithContext(ctx)
	tx := newTransaction(req)

	go func() {
		defer cancel()
		var resp *http.Response
		execErr := cb.Execute(ctx, func() error {
			var doErr error
			resp, doErr = m.client.Do(req)
			return doErr
		})
		tx.finish(resp, execErr)
	}()

	return tx, nil
}
