package jetstream

import (
	"context"
	"log/slog"
	"sync"
)

// scheduler runs event handling on a fixed pool of workers while keeping
// per-actor ordering: events for the same DID are handled sequentially,
// events for different DIDs may complete out of order. A slow handler for
// one actor does not stall ingestion of the rest of the stream.
type scheduler struct {
	concurrency int

	do func(context.Context, *Event) error

	feeder chan *task
	out    chan struct{}

	lk     sync.Mutex
	active map[string][]*task

	log *slog.Logger
}

type task struct {
	actor   string
	evt     *Event
	control string
}

func newScheduler(concurrency, maxQueue int, logger *slog.Logger, do func(context.Context, *Event) error) *scheduler {
	s := &scheduler{
		concurrency: concurrency,
		do:          do,
		feeder:      make(chan *task, maxQueue),
		out:         make(chan struct{}),
		active:      make(map[string][]*task),
		log:         logger.With("component", "scheduler"),
	}

	for i := 0; i < concurrency; i++ {
		go s.worker()
	}
	workersActive.Set(float64(concurrency))

	return s
}

func (s *scheduler) AddWork(ctx context.Context, actor string, evt *Event) error {
	t := &task{actor: actor, evt: evt}
	s.lk.Lock()

	a, ok := s.active[actor]
	if ok {
		s.active[actor] = append(a, t)
		s.lk.Unlock()
		return nil
	}

	s.active[actor] = []*task{}
	s.lk.Unlock()

	select {
	case s.feeder <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown waits for queued and in-flight work to finish, then stops the
// workers. Callers bound the drain with a deadline.
func (s *scheduler) Shutdown() {
	for i := 0; i < s.concurrency; i++ {
		s.feeder <- &task{control: "stop"}
	}
	close(s.feeder)

	for i := 0; i < s.concurrency; i++ {
		<-s.out
	}
	workersActive.Set(0)
}

func (s *scheduler) worker() {
	for work := range s.feeder {
		for work != nil {
			if work.control == "stop" {
				s.out <- struct{}{}
				return
			}

			if err := s.do(context.Background(), work.evt); err != nil {
				s.log.Error("event handler failed", "actor", work.actor, "err", err)
			}

			s.lk.Lock()
			rem, ok := s.active[work.actor]
			if !ok {
				s.log.Error("active entry missing for in-flight actor", "actor", work.actor)
			}

			if len(rem) == 0 {
				delete(s.active, work.actor)
				work = nil
			} else {
				work = rem[0]
				s.active[work.actor] = rem[1:]
			}
			s.lk.Unlock()
		}
	}
}
