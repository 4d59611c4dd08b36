package clausedesk

import (
	"math"
	"time"
)

// ============================================================================
// Reconnect Policy
// ============================================================================

// backoff computes reconnect delays as base * min(growth^attempt, capMultiplier).
// There is no jitter, so delays never decrease as attempt grows.
type backoff struct {
	base          time.Duration
	growth        float64
	capMultiplier float64
	maxAttempts   int
}

func newBackoff(cfg *RealtimeConfig) backoff {
	return backoff{
		base:          cfg.ReconnectBaseDelay,
		growth:        cfg.ReconnectGrowth,
		capMultiplier: cfg.ReconnectCapMultiplier,
		maxAttempts:   cfg.MaxReconnectAttempts,
	}
}

// delay returns the wait before reconnect attempt number attempt (0-based).
func (b backoff) delay(attempt int) time.Duration {
	factor := math.Min(math.Pow(b.growth, float64(attempt)), b.capMultiplier)
	return time.Duration(float64(b.base) * factor)
}

// exhausted reports whether attempt has reached the automatic retry limit.
func (b backoff) exhausted(attempt int) bool {
	return attempt >= b.maxAttempts
}
