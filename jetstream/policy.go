package jetstream

import (
	"math/rand"
	"time"
)

// ReconnectPolicy controls the capped backoff between reconnection
// attempts. Backoff doubles from MinBackoff up to MaxBackoff; the retry
// counter resets to zero once a connection has been held for ResetAfter.
type ReconnectPolicy struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	ResetAfter time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MinBackoff: time.Second,
		MaxBackoff: time.Minute,
		ResetAfter: 30 * time.Second,
	}
}

// Backoff returns the delay before attempt number retries (zero-based),
// with up to a second of jitter to avoid thundering reconnects.
func (p ReconnectPolicy) Backoff(retries int) time.Duration {
	dur := p.MinBackoff
	for i := 0; i < retries; i++ {
		dur *= 2
		if dur >= p.MaxBackoff {
			dur = p.MaxBackoff
			break
		}
	}
	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
	return dur + jitter
}
