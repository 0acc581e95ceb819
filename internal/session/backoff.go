package session

import "time"

// Backoff computes exponential reconnect delays bounded by a max attempt
// count. Delay grows as Base * 2^attempt; exceeding MaxRetries is terminal
// for the identity until a successful open resets its counter.
type Backoff struct {
	Base       time.Duration
	MaxRetries int
}

// DefaultBackoff mirrors the gateway defaults: 5s base, 5 attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       5 * time.Second,
		MaxRetries: 5,
	}
}

// Delay returns the backoff delay for the given zero-indexed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Guard the shift against absurd attempt counts.
	if attempt > 30 {
		attempt = 30
	}
	return b.Base << uint(attempt)
}

// Exhausted reports whether the attempt budget for an identity is spent.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxRetries
}
