package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestFixedIntervalTaskRuns(t *testing.T) {
	var runs atomic.Int64
	s := New()
	s.Register("tick", 20*time.Millisecond, 0, false, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(110 * time.Millisecond)
	cancel()
	s.Wait()

	if got := runs.Load(); got < 3 {
		t.Errorf("expected at least 3 runs, got %d", got)
	}
}

func TestRunAtStart(t *testing.T) {
	var runs atomic.Int64
	s := New()
	s.Register("immediate", time.Hour, 0, true, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	s.Wait()

	if runs.Load() != 1 {
		t.Errorf("runAtStart task must run once immediately, got %d", runs.Load())
	}
}

func TestTasksDoNotOverlapThemselves(t *testing.T) {
	var inFlight atomic.Int64
	var overlapped atomic.Bool
	s := New()
	s.Register("slow", 5*time.Millisecond, 0, false, func(ctx context.Context) error {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(15 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()
	s.Wait()

	if overlapped.Load() {
		t.Errorf("a task overlapped itself")
	}
}

func TestFailingTaskDoesNotStopOthers(t *testing.T) {
	var good atomic.Int64
	s := New()
	s.Register("bad", 10*time.Millisecond, 0, false, func(ctx context.Context) error {
		return errors.New("boom")
	})
	s.Register("panicky", 10*time.Millisecond, 0, false, func(ctx context.Context) error {
		panic("boom")
	})
	s.Register("good", 10*time.Millisecond, 0, false, func(ctx context.Context) error {
		good.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(80 * time.Millisecond)
	cancel()
	s.Wait()

	if good.Load() < 3 {
		t.Errorf("healthy task starved by failing siblings, ran %d times", good.Load())
	}
}

func TestNextHourBoundary(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 41, 13, 0, time.UTC)
	next := nextHourBoundary(now)
	want := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextHourBoundary = %v, want %v", next, want)
	}

	// Exactly on the boundary: the next one is a full hour away.
	next = nextHourBoundary(want)
	if !next.Equal(want.Add(time.Hour)) {
		t.Errorf("boundary at boundary = %v, want %v", next, want.Add(time.Hour))
	}
}
