package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/sitewatch/presence-agent/store"
)

func hourAt(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad time %q: %v", s, err)
	}
	return parsed
}

func seed(t *testing.T) (*store.MemoryStore, *store.Employee, *store.Device) {
	t.Helper()
	st := store.NewMemoryStore()
	e := st.AddEmployee("Alice Smith", "falcon", 1)
	d := st.AddDevice(e.ID, "192.168.1.10", "aa:bb:cc:dd:ee:01", "laptop")
	return st, e, d
}

func TestFullHourPresence(t *testing.T) {
	// Went online 10 minutes before the hour, no changes inside it.
	st, e, d := seed(t)
	hour := hourAt(t, "2026-08-24T09:00:00Z")
	ctx := context.Background()
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(-10*time.Minute), store.StatusOnline)

	sm := NewSummariser(st)
	summaries, err := sm.SummariseHour(ctx, hour)
	if err != nil {
		t.Fatalf("summarise: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if !s.FirstSeen.Equal(hour) || !s.LastSeen.Equal(hour.Add(time.Hour)) {
		t.Errorf("expected full-hour span, got [%v, %v]", s.FirstSeen, s.LastSeen)
	}
	if s.MinutesOnline != 60 {
		t.Errorf("expected 60 minutes, got %d", s.MinutesOnline)
	}
}

func TestPartialHourPresence(t *testing.T) {
	// Offline at start; online H+10, offline H+40. Span is 30 minutes.
	st, e, d := seed(t)
	hour := hourAt(t, "2026-08-24T09:00:00Z")
	ctx := context.Background()
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(10*time.Minute), store.StatusOnline)
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(40*time.Minute), store.StatusOffline)

	sm := NewSummariser(st)
	summaries, err := sm.SummariseHour(ctx, hour)
	if err != nil {
		t.Fatalf("summarise: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if !s.FirstSeen.Equal(hour.Add(10 * time.Minute)) {
		t.Errorf("first_seen = %v, want H+10m", s.FirstSeen)
	}
	if !s.LastSeen.Equal(hour.Add(40 * time.Minute)) {
		t.Errorf("last_seen = %v, want H+40m", s.LastSeen)
	}
	if s.MinutesOnline != 30 {
		t.Errorf("minutes_online = %d, want 30", s.MinutesOnline)
	}
}

func TestStillOnlineAtWindowEnd(t *testing.T) {
	// Online at H+45 and never went back offline: last_seen extends to the
	// window end.
	st, e, d := seed(t)
	hour := hourAt(t, "2026-08-24T09:00:00Z")
	ctx := context.Background()
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(45*time.Minute), store.StatusOnline)

	sm := NewSummariser(st)
	summaries, _ := sm.SummariseHour(ctx, hour)
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if !s.LastSeen.Equal(hour.Add(time.Hour)) {
		t.Errorf("last_seen = %v, want window end", s.LastSeen)
	}
	if s.MinutesOnline != 15 {
		t.Errorf("minutes_online = %d, want 15", s.MinutesOnline)
	}
}

func TestOfflineAllHourNoRow(t *testing.T) {
	st, e, d := seed(t)
	hour := hourAt(t, "2026-08-24T09:00:00Z")
	ctx := context.Background()
	// Went offline well before the window.
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(-3*time.Hour), store.StatusOnline)
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(-2*time.Hour), store.StatusOffline)

	sm := NewSummariser(st)
	summaries, _ := sm.SummariseHour(ctx, hour)
	if len(summaries) != 0 {
		t.Fatalf("offline employee must contribute no summary, got %d", len(summaries))
	}
}

func TestNoHistoryNoRow(t *testing.T) {
	st, _, _ := seed(t)
	sm := NewSummariser(st)
	summaries, _ := sm.SummariseHour(context.Background(), hourAt(t, "2026-08-24T09:00:00Z"))
	if len(summaries) != 0 {
		t.Fatalf("employee with no state changes must contribute no summary")
	}
}

func TestSummaryBounds(t *testing.T) {
	// Whatever the change pattern, H <= first <= last <= H+1h and minutes
	// within [0,60].
	st, e, d := seed(t)
	hour := hourAt(t, "2026-08-24T09:00:00Z")
	ctx := context.Background()
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(-30*time.Minute), store.StatusOnline)
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(5*time.Minute), store.StatusOffline)
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(20*time.Minute), store.StatusOnline)
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(59*time.Minute), store.StatusOffline)

	sm := NewSummariser(st)
	summaries, _ := sm.SummariseHour(ctx, hour)
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary")
	}
	s := summaries[0]
	if s.FirstSeen.Before(hour) || s.LastSeen.After(hour.Add(time.Hour)) || s.LastSeen.Before(s.FirstSeen) {
		t.Errorf("bounds violated: [%v, %v]", s.FirstSeen, s.LastSeen)
	}
	if s.MinutesOnline < 0 || s.MinutesOnline > 60 {
		t.Errorf("minutes out of range: %d", s.MinutesOnline)
	}
	// Span policy: online at start, last change offline at H+59m.
	if s.MinutesOnline != 59 {
		t.Errorf("span minutes = %d, want 59", s.MinutesOnline)
	}
}

func TestUpsertResetsSynced(t *testing.T) {
	// Re-summarising the same hour replaces fields and resets synced.
	st, e, d := seed(t)
	hour := hourAt(t, "2026-08-24T09:00:00Z")
	ctx := context.Background()
	st.AppendStateChange(ctx, d.ID, e.ID, hour.Add(10*time.Minute), store.StatusOnline)

	sm := NewSummariser(st)
	first, _ := sm.SummariseHour(ctx, hour)
	if len(first) != 1 {
		t.Fatalf("expected 1 summary")
	}
	st.MarkSummarySynced(ctx, first[0].ID)

	second, _ := sm.SummariseHour(ctx, hour)
	if len(second) != 1 {
		t.Fatalf("expected 1 summary on re-run")
	}
	if second[0].ID != first[0].ID {
		t.Errorf("upsert must keep the (employee, hour) row, got new id %d", second[0].ID)
	}

	unsynced, _ := st.ListUnsyncedSummaries(ctx)
	if len(unsynced) != 1 {
		t.Fatalf("upsert must reset synced=false, unsynced=%d", len(unsynced))
	}
}

func TestSummariserSkipsOpenHour(t *testing.T) {
	// SummarisePreviousHour targets the last closed window.
	st, e, d := seed(t)
	ctx := context.Background()

	sm := NewSummariser(st)
	now := hourAt(t, "2026-08-24T10:00:30Z")
	sm.now = func() time.Time { return now }

	prevHour := hourAt(t, "2026-08-24T09:00:00Z")
	st.AppendStateChange(ctx, d.ID, e.ID, prevHour.Add(5*time.Minute), store.StatusOnline)

	summaries, err := sm.SummarisePreviousHour(ctx)
	if err != nil {
		t.Fatalf("summarise: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary for the closed hour, got %d", len(summaries))
	}
	if !summaries[0].Hour.Equal(prevHour) {
		t.Errorf("summary hour = %v, want %v", summaries[0].Hour, prevHour)
	}
}
