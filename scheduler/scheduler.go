package scheduler

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/sitewatch/presence-agent/observability"
)

// TaskFunc is one periodic unit of work. Errors are logged and isolated; a
// failing task simply runs again on its next tick.
type TaskFunc func(ctx context.Context) error

type task struct {
	name       string
	interval   time.Duration
	jitter     time.Duration
	aligned    bool
	runAtStart bool
	fn         TaskFunc
}

// Scheduler runs a fixed set of named periodic tasks. Each task gets its own
// loop, so tasks of different kinds run concurrently, but one task never
// overlaps itself: the function runs to completion before its timer is
// re-armed.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*task
	started bool
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{}
}

// Register adds a fixed-interval task. A random delay in [0, jitter) is
// added before each run so independent agents do not fire in lockstep.
// If runAtStart is set the task also runs once immediately.
func (s *Scheduler) Register(name string, interval, jitter time.Duration, runAtStart bool, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{
		name:       name,
		interval:   interval,
		jitter:     jitter,
		runAtStart: runAtStart,
		fn:         fn,
	})
}

// RegisterAligned adds a task that fires at the top of every hour.
func (s *Scheduler) RegisterAligned(name string, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{name: name, aligned: true, fn: fn})
}

// Start launches all task loops. New ticks stop when ctx is cancelled;
// in-flight runs drain.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	log.Printf("Scheduler: started %d task loops", len(s.tasks))
}

// Wait blocks until all task loops have drained after cancellation.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	if t.runAtStart {
		s.run(ctx, t)
	}

	for {
		var wait time.Duration
		if t.aligned {
			wait = time.Until(nextHourBoundary(time.Now()))
		} else {
			wait = t.interval
			if t.jitter > 0 {
				wait += time.Duration(rand.Int63n(int64(t.jitter)))
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.run(ctx, t)
		}
	}
}

// run executes one task tick. Panics are contained so one broken task never
// takes the others down.
func (s *Scheduler) run(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Scheduler: task %s panicked: %v", t.name, r)
			observability.TaskRuns.WithLabelValues(t.name, "panic").Inc()
		}
	}()

	if err := t.fn(ctx); err != nil {
		log.Printf("Scheduler: task %s failed: %v", t.name, err)
		observability.TaskRuns.WithLabelValues(t.name, "error").Inc()
		return
	}
	observability.TaskRuns.WithLabelValues(t.name, "ok").Inc()
}

// nextHourBoundary returns the first whole-hour instant strictly after now.
func nextHourBoundary(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}
