package messaging

import "time"

// Default backoff parameters for the two connection retry paths.
const (
	// DefaultOpenRetryDelay is the wait between bounded open attempts.
	DefaultOpenRetryDelay = 3 * time.Second
	// DefaultOpenRetryLimit is the number of re-attempts after the first
	// failed open.
	DefaultOpenRetryLimit = 3
	// DefaultReopenDelay is the wait between reopen attempts after a peer
	// disconnect.
	DefaultReopenDelay = 1 * time.Second
)

// BackoffPolicy decides whether and when the connection state machine
// makes its next attempt. Implementations are pure: no I/O, no clocks.
// The attempt argument is the 1-based index of the retry being considered
// (the initial attempt is attempt 0 and is never consulted here).
type BackoffPolicy interface {
	// ShouldRetry reports whether the given retry should be attempted.
	ShouldRetry(attempt int) bool

	// NextDelay returns the wait before the given retry.
	NextDelay(attempt int) time.Duration
}

// FixedBackoff waits a constant delay between attempts. Limit bounds the
// number of retries: negative means unbounded, zero means no retries.
type FixedBackoff struct {
	Delay time.Duration
	Limit int
}

// ShouldRetry implements BackoffPolicy.
func (p FixedBackoff) ShouldRetry(attempt int) bool {
	return p.Limit < 0 || attempt <= p.Limit
}

// NextDelay implements BackoffPolicy.
func (p FixedBackoff) NextDelay(attempt int) time.Duration {
	return p.Delay
}

// OpenRetryPolicy is the bounded policy used while opening a connection
// for the first time. A zero limit selects the default; a negative limit
// disables retries entirely.
func OpenRetryPolicy(delay time.Duration, limit int) FixedBackoff {
	if delay <= 0 {
		delay = DefaultOpenRetryDelay
	}
	switch {
	case limit == 0:
		limit = DefaultOpenRetryLimit
	case limit < 0:
		limit = 0
	}
	return FixedBackoff{Delay: delay, Limit: limit}
}

// ReopenPolicy is the policy used after a peer-initiated disconnect.
// Unbounded by default, matching the baseline behavior; pass a positive
// limit to cap it.
func ReopenPolicy(delay time.Duration, limit int) FixedBackoff {
	if delay <= 0 {
		delay = DefaultReopenDelay
	}
	if limit <= 0 {
		limit = -1
	}
	return FixedBackoff{Delay: delay, Limit: limit}
}
