package core

import "context"

// Telemetry is the minimal tracing/metrics seam used by node and
// resilience: a span around a unit of work plus a single metric-recording
// hook. Concrete implementations (package telemetry) export via
// OpenTelemetry; packages that only need to emit spans depend on this
// interface, never on a concrete provider, to avoid import cycles.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a single telemetry span, open between StartSpan and End.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry discards everything. Used as a safe zero value so callers
// never need a nil check.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, NoOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

// NoOpSpan implements Span with no-op operations.
type NoOpSpan struct{}

func (NoOpSpan) End()                             {}
func (NoOpSpan) SetAttribute(string, interface{}) {}
func (NoOpSpan) RecordError(error)                {}
