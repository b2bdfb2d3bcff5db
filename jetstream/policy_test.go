package jetstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := ReconnectPolicy{
		MinBackoff: time.Second,
		MaxBackoff: 10 * time.Second,
		ResetAfter: 30 * time.Second,
	}

	// jitter adds up to a second on top of the base delay
	jitter := time.Second

	assert.GreaterOrEqual(t, p.Backoff(0), time.Second)
	assert.Less(t, p.Backoff(0), time.Second+jitter)

	assert.GreaterOrEqual(t, p.Backoff(2), 4*time.Second)
	assert.Less(t, p.Backoff(2), 4*time.Second+jitter)

	for _, retries := range []int{4, 10, 63, 500} {
		d := p.Backoff(retries)
		assert.GreaterOrEqual(t, d, 10*time.Second, "retries=%d", retries)
		assert.Less(t, d, 10*time.Second+jitter, "retries=%d", retries)
	}
}

func TestDefaultReconnectPolicy(t *testing.T) {
	p := DefaultReconnectPolicy()
	assert.Equal(t, time.Second, p.MinBackoff)
	assert.Equal(t, time.Minute, p.MaxBackoff)
	assert.Equal(t, 30*time.Second, p.ResetAfter)
}
