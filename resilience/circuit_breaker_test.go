package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bedrockdb/bedrock/core"
	"github.com/stretchr/testify/require"
)

func testConfig() core.CircuitBreakerConfig {
	return core.CircuitBreakerConfig{
		Enabled:          true,
		Threshold:        3,
		Timeout:          20 * time.Millisecond,
		HalfOpenRequests: 2,
	}
}

func TestNewCircuitBreaker_RejectsBadThreshold(t *testing.T) {
	_, err := NewCircuitBreaker("test", core.CircuitBreakerConfig{Threshold: 0}, nil)
	require.Error(t, err)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, err := NewCircuitBreaker("upstream", testConfig(), nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, StateOpen, cb.State())

	err = cb.Execute(context.Background(), func() error {
		t.Fatal("fn must not run while breaker is open")
		return nil
	})
	require.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cfg := testConfig()
	cb, err := NewCircuitBreaker("upstream", cfg, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	for i := 0; i < cfg.Threshold; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(cfg.Timeout + 5*time.Millisecond)

	for i := 0; i < cfg.HalfOpenRequests; i++ {
		err := cb.Execute(context.Background(), func() error { return nil })
		require.NoError(t, err)
	}
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	cb, err := NewCircuitBreaker("upstream", cfg, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	for i := 0; i < cfg.Threshold; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	time.Sleep(cfg.Timeout + 5*time.Millisecond)

	err = cb.Execute(context.Background(), func() error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_CanceledContextDoesNotCountAsFailure(t *testing.T) {
	cfg := testConfig()
	cb, err := NewCircuitBreaker("upstream", cfg, nil)
	require.NoError(t, err)

	for i := 0; i < cfg.Threshold*2; i++ {
		_ = cb.Execute(context.Background(), func() error { return context.Canceled })
	}
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_DisabledAlwaysRuns(t *testing.T) {
	cb, err := NewCircuitBreaker("upstream", core.CircuitBreakerConfig{Enabled: false, Threshold: 1}, nil)
	require.NoError(t, err)

	ran := false
	err = cb.Execute(context.Background(), func() error {
		ran = true
		return errors.New("boom")
	})
	require.Error(t, err)
	require.True(t, ran)
	require.Equal(t, StateClosed, cb.State())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.True(t, cfg.Enabled)
	require.Greater(t, cfg.Threshold, 0)
}
