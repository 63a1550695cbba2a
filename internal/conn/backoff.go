package conn

import "time"

// Backoff defaults for the event stream: 1s, 2s, 4s, 8s, 16s, then stop.
const (
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5
)

// Backoff tracks the automatic reconnect budget for a transport. The
// attempt counter resets to zero on every successful open and advances
// on every close the client did not request.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	attempt int
}

// DefaultBackoff returns the event stream's standard policy.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Next returns the delay before the next reconnect attempt and advances
// the counter. It returns false when the budget is exhausted; the
// caller must not schedule another attempt.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempt >= b.MaxAttempts {
		return 0, false
	}
	delay := b.BaseDelay
	for i := 0; i < b.attempt; i++ {
		delay *= 2
		if delay >= b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	b.attempt++
	return delay, true
}

// Reset clears the attempt counter after a successful open.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of reconnects scheduled since the last
// successful open.
func (b *Backoff) Attempt() int {
	return b.attempt
}
