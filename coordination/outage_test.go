package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/sitewatch/presence-agent/store"
)

func TestOutageRecovery(t *testing.T) {
	// Last self-heartbeat at T; restart 10 minutes later with a 120s check
	// threshold. E1 was online at T.
	st := store.NewMemoryStore()
	e1 := st.AddEmployee("Alice Smith", "falcon", 1)
	d1 := st.AddDevice(e1.ID, "192.168.1.10", "aa:bb:cc:dd:ee:01", "laptop")
	ctx := context.Background()

	lastBeat := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	restart := lastBeat.Add(10 * time.Minute)
	st.AppendStateChange(ctx, d1.ID, e1.ID, lastBeat.Add(-30*time.Minute), store.StatusOnline)
	st.SetSystemHeartbeat(lastBeat)

	offlineThreshold := 15 * time.Second
	det := NewOutageDetector(st, 120*time.Second, offlineThreshold)
	det.now = func() time.Time { return restart }

	if err := det.Check(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}

	downtimes, _ := st.ListUnsyncedDowntimes(ctx)
	if len(downtimes) != 1 {
		t.Fatalf("expected 1 downtime, got %d", len(downtimes))
	}
	if !downtimes[0].DowntimeStart.Equal(lastBeat) || !downtimes[0].DowntimeEnd.Equal(restart) {
		t.Errorf("downtime interval [%v, %v], want [%v, %v]",
			downtimes[0].DowntimeStart, downtimes[0].DowntimeEnd, lastBeat, restart)
	}

	latest, _ := st.LatestStateChange(ctx, e1.ID)
	if latest.Status != store.StatusOffline {
		t.Fatalf("online employee must be marked offline after outage")
	}
	wantTS := lastBeat.Add(offlineThreshold)
	if !latest.Timestamp.Equal(wantTS) {
		t.Errorf("synthetic offline at %v, want %v", latest.Timestamp, wantTS)
	}

	beat, _ := st.ReadSystemHeartbeat(ctx)
	if !beat.After(lastBeat) {
		t.Errorf("heartbeat must be refreshed after recovery")
	}
}

func TestOutageSkipsOfflineEmployees(t *testing.T) {
	st := store.NewMemoryStore()
	e1 := st.AddEmployee("Alice Smith", "falcon", 1)
	d1 := st.AddDevice(e1.ID, "192.168.1.10", "aa:bb:cc:dd:ee:01", "laptop")
	ctx := context.Background()

	lastBeat := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	st.AppendStateChange(ctx, d1.ID, e1.ID, lastBeat.Add(-time.Hour), store.StatusOnline)
	st.AppendStateChange(ctx, d1.ID, e1.ID, lastBeat.Add(-30*time.Minute), store.StatusOffline)
	st.SetSystemHeartbeat(lastBeat)

	det := NewOutageDetector(st, 120*time.Second, 15*time.Second)
	det.now = func() time.Time { return lastBeat.Add(10 * time.Minute) }
	if err := det.Check(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}

	changes, _ := st.StateChangesInRange(ctx, e1.ID, time.Time{}, lastBeat.Add(time.Hour))
	if len(changes) != 2 {
		t.Errorf("already-offline employee must get no synthetic row, have %d", len(changes))
	}
}

func TestNoGapNoDowntime(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	st.SetSystemHeartbeat(now.Add(-30 * time.Second))

	det := NewOutageDetector(st, 120*time.Second, 15*time.Second)
	if err := det.Check(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}

	downtimes, _ := st.ListUnsyncedDowntimes(ctx)
	if len(downtimes) != 0 {
		t.Errorf("no downtime may be recorded below the threshold")
	}
	beat, _ := st.ReadSystemHeartbeat(ctx)
	if !beat.After(now.Add(-time.Second)) {
		t.Errorf("heartbeat must still be refreshed")
	}
}

func TestFreshInstallNoDowntime(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	det := NewOutageDetector(st, 120*time.Second, 15*time.Second)
	if err := det.Check(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}

	downtimes, _ := st.ListUnsyncedDowntimes(ctx)
	if len(downtimes) != 0 {
		t.Errorf("fresh install must not record a downtime")
	}
	beat, _ := st.ReadSystemHeartbeat(ctx)
	if beat.IsZero() {
		t.Errorf("fresh install must write the first heartbeat")
	}
}

func TestMemoryLockerTTLExpiry(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, _ := l.AcquireLock(ctx, ScanLockKey, "a", 10*time.Millisecond)
	if !ok {
		t.Fatalf("first acquire must succeed")
	}
	ok, _ = l.AcquireLock(ctx, ScanLockKey, "b", time.Minute)
	if ok {
		t.Fatalf("second acquire must fail while lock held")
	}

	time.Sleep(20 * time.Millisecond)
	ok, _ = l.AcquireLock(ctx, ScanLockKey, "b", time.Minute)
	if !ok {
		t.Fatalf("lock must be acquirable after TTL expiry")
	}

	// Release by the wrong owner is a no-op.
	l.ReleaseLock(ctx, ScanLockKey, "a")
	ok, _ = l.AcquireLock(ctx, ScanLockKey, "c", time.Minute)
	if ok {
		t.Fatalf("wrong-owner release must not free the lock")
	}
}
