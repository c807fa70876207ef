// Package retry provides the reconnect delay policy for the connection
// manager. Command execution itself is never retried: a failed command
// surfaces immediately and the circuit breaker decides what happens next.
package retry

import "time"

// LinearBackoff implements the reconnect delay policy
// delay = min(attempt*base, max), used by the connection manager.
type LinearBackoff struct {
	base time.Duration
	max  time.Duration
}

// NewLinearBackoff creates a linear capped backoff policy
func NewLinearBackoff(base, max time.Duration) *LinearBackoff {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	return &LinearBackoff{base: base, max: max}
}

// NextDelay returns min(attempt*base, max); attempt is 1-based
func (l *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * l.base
	if delay > l.max {
		delay = l.max
	}
	return delay
}
