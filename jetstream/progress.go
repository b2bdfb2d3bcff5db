package jetstream

import "sync"

// progress tracks which stream positions are still being processed so the
// checkpoint never moves past an in-flight event. The cursor reported is
// always at or before the oldest event still in flight, and never goes
// backwards.
type progress struct {
	lk        sync.Mutex
	inflight  map[int64]int
	completed int64
	floor     int64
}

func newProgress() *progress {
	return &progress{inflight: make(map[int64]int)}
}

// seed sets the starting position, loaded from the cursor store before any
// events are dispatched.
func (p *progress) seed(timeUS int64) {
	p.lk.Lock()
	defer p.lk.Unlock()
	if timeUS > p.completed {
		p.completed = timeUS
	}
	if timeUS > p.floor {
		p.floor = timeUS
	}
}

// begin marks a stream position as in flight. Must be called from the
// dispatch loop before the event is handed to a worker.
func (p *progress) begin(timeUS int64) {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.inflight[timeUS]++
}

// end marks a stream position as fully processed.
func (p *progress) end(timeUS int64) {
	p.lk.Lock()
	defer p.lk.Unlock()
	n := p.inflight[timeUS]
	if n <= 1 {
		delete(p.inflight, timeUS)
	} else {
		p.inflight[timeUS] = n - 1
	}
	if timeUS > p.completed {
		p.completed = timeUS
	}
}

// Cursor returns the checkpointable stream position: just before the
// oldest in-flight event if any work is outstanding, otherwise the highest
// completed position. Monotonic non-decreasing.
func (p *progress) Cursor() int64 {
	p.lk.Lock()
	defer p.lk.Unlock()

	cur := p.completed
	if len(p.inflight) > 0 {
		oldest := int64(0)
		for t := range p.inflight {
			if oldest == 0 || t < oldest {
				oldest = t
			}
		}
		cur = oldest - 1
	}
	if cur > p.floor {
		p.floor = cur
	}
	return p.floor
}
