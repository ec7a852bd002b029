package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryConfig_NextDelayGrowsExponentially(t *testing.T) {
	cfg := RetryConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		Multiplier:      2.0,
	}

	require.Equal(t, 10*time.Millisecond, cfg.NextDelay(1))
	require.Equal(t, 20*time.Millisecond, cfg.NextDelay(2))
	require.Equal(t, 40*time.Millisecond, cfg.NextDelay(3))
}

func TestRetryConfig_NextDelayCapsAtMaxInterval(t *testing.T) {
	cfg := RetryConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		Multiplier:      10.0,
	}

	require.Equal(t, 50*time.Millisecond, cfg.NextDelay(3))
}

func TestRetryConfig_JitterStaysWithinBand(t *testing.T) {
	cfg := RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		Multiplier:      1.0,
		JitterEnabled:   true,
	}

	delay := cfg.NextDelay(1)
	require.InDelta(t, 100*time.Millisecond, delay, float64(10*time.Millisecond))
}
