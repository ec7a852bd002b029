package resilience

import (
	"math/rand"
	"time"
)

// RetryConfig has the interval fields of core.RetryConfig (the config
// file's Resilience.Retry block), but nothing converts one into the other:
// node.Controller builds its own fixed schedule (10ms initial, 200ms cap,
// doubling, with jitter) for the sync thread's conflict-retry escalation
// (§4.3), and httpsx does not retry.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterEnabled   bool
}

// NextDelay returns the backoff delay before the nth retry (attempt
// starting at 1), applying exponential growth capped at MaxInterval, plus
// up to 10% random jitter so concurrent connections retrying at the same
// attempt count don't all wake up at once.
func (c RetryConfig) NextDelay(attempt int) time.Duration {
	delay := c.InitialInterval
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if delay > c.MaxInterval {
			delay = c.MaxInterval
			break
		}
	}
	if c.JitterEnabled {
		delay += time.Duration(rand.Float64() * 0.1 * float64(delay))
	}
	return delay
}
