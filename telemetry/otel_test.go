package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewOTelProvider_RejectsEmptyServiceName(t *testing.T) {
	_, err := NewOTelProvider("", "localhost:4318")
	require.Error(t, err)
}

func TestNewOTelProvider_DefaultsEndpoint(t *testing.T) {
	p, err := NewOTelProvider("bedrock-test", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestOTelProvider_StartSpanAndRecordMetric(t *testing.T) {
	p, err := NewOTelProvider("bedrock-test", "localhost:4318")
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	}()

	ctx, span := p.StartSpan(context.Background(), "bedrock.peek")
	require.NotNil(t, ctx)
	span.SetAttribute("bedrock.plugin", "query")
	span.End()

	p.RecordMetric("bedrock.command.errors", 1, map[string]string{"method": "Query"})
	p.RecordMetric("bedrock.command.duration_ms", 12.5, map[string]string{"method": "Query"})

	// Re-recording the same metric name must reuse the cached instrument
	// rather than panic on re-registration.
	p.RecordMetric("bedrock.command.errors", 1, map[string]string{"method": "Query"})
}

func TestOTelProvider_ShutdownIsIdempotent(t *testing.T) {
	p, err := NewOTelProvider("bedrock-test", "localhost:4318")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	require.NoError(t, p.Shutdown(ctx))
}

func TestIsCounterMetric(t *testing.T) {
	cases := map[string]bool{
		"bedrock.command.errors":     true,
		"bedrock.commits":            true,
		"bedrock.command.duration_ms": false,
		"bedrock.circuit_breaker.state": false,
	}
	for name, want := range cases {
		require.Equal(t, want, isCounterMetric(name), name)
	}
}
