// Package dedup suppresses duplicate processing of events from an
// at-least-once delivery stream. The cache is process-local and rebuilt
// empty on restart; duplicates that span a restart are not caught.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultRetention is how long an event identity is remembered.
	DefaultRetention = time.Hour
	// DefaultSweepInterval is how often expired entries are removed.
	DefaultSweepInterval = 5 * time.Minute
)

// EventID builds the redelivery-stable identity for an event. Only the
// actor and revision participate: a redelivered event carries a fresh
// receipt time, so including it would defeat the cache.
func EventID(actor, rev string) string {
	return fmt.Sprintf("%s|%s", actor, rev)
}

// Cache is a time-bounded set of recently seen event identifiers. Size is
// bounded by retention window times event rate, not by an explicit cap.
type Cache struct {
	retention time.Duration
	sweep     time.Duration

	lk      sync.Mutex
	entries map[string]time.Time

	now func() time.Time
}

func NewCache(retention, sweepInterval time.Duration) *Cache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Cache{
		retention: retention,
		sweep:     sweepInterval,
		entries:   make(map[string]time.Time),
		now:       time.Now,
	}
}

// Seen reports whether id was recorded within the retention window.
func (c *Cache) Seen(id string) bool {
	c.lk.Lock()
	defer c.lk.Unlock()
	at, ok := c.entries[id]
	if !ok {
		return false
	}
	if c.now().Sub(at) >= c.retention {
		// expired but not yet swept
		delete(c.entries, id)
		return false
	}
	return true
}

// Record inserts id with the current time as its insertion timestamp.
func (c *Cache) Record(id string) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.entries[id] = c.now()
}

// Len returns the current number of entries, including not-yet-swept
// expired ones.
func (c *Cache) Len() int {
	c.lk.Lock()
	defer c.lk.Unlock()
	return len(c.entries)
}

// Cleanup removes entries older than the retention window and returns how
// many were dropped.
func (c *Cache) Cleanup() int {
	cutoff := c.now().Add(-c.retention)
	c.lk.Lock()
	defer c.lk.Unlock()
	var removed int
	for id, at := range c.entries {
		if at.Before(cutoff) || at.Equal(cutoff) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// RunSweeper removes expired entries on a fixed interval until the context
// is cancelled. Expected to be run in a goroutine.
func (c *Cache) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := c.Cleanup()
			dedupEntriesSwept.Add(float64(removed))
			dedupCacheSize.Set(float64(c.Len()))
		}
	}
}
