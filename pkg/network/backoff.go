package network

import (
	"time"
)

// ReconnectPolicy is the single backoff policy shared by all reconnection
// paths: base delay doubled per attempt, capped, bounded by a maximum attempt
// count after which the connection is surfaced as unavailable.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy returns the standard client policy
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the backoff delay before the given zero-based attempt
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Exhausted reports whether the given zero-based attempt is past the limit
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
