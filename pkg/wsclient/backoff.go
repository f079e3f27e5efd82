package wsclient

import "time"

const (
	DefaultBackoffBase = time.Second
	DefaultMaxAttempts = 5
)

// Backoff yields Base, 2*Base, 4*Base, ... for MaxAttempts attempts.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
	attempt     int
}

// Next returns the delay before the next attempt, or false once attempts are exhausted.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempt >= b.MaxAttempts {
		return 0, false
	}
	b.attempt++
	return b.Base << (b.attempt - 1), true
}

func (b *Backoff) Attempt() int { return b.attempt }

func (b *Backoff) Reset() { b.attempt = 0 }
