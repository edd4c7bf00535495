package coordination

import (
	"context"
	"log"
	"time"

	"github.com/sitewatch/presence-agent/observability"
	"github.com/sitewatch/presence-agent/store"
)

// OutageDetector checks the self-heartbeat for staleness. When the gap since
// the last beat exceeds the check threshold the agent was dead (crash, power
// loss): the detector records the downtime interval and closes the timeline
// of every employee still marked online with a synthetic OFFLINE shortly
// after the last beat, so presence is not extended across dead time.
type OutageDetector struct {
	store            store.Store
	checkThreshold   time.Duration
	offlineThreshold time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func NewOutageDetector(s store.Store, checkThreshold, offlineThreshold time.Duration) *OutageDetector {
	return &OutageDetector{
		store:            s,
		checkThreshold:   checkThreshold,
		offlineThreshold: offlineThreshold,
		now:              time.Now,
	}
}

// Check runs one detection pass. It is called once on startup and then
// periodically as a safeguard.
func (d *OutageDetector) Check(ctx context.Context) error {
	last, err := d.store.ReadSystemHeartbeat(ctx)
	if err != nil {
		return err
	}

	// Fresh install: no heartbeat row yet. Nothing to attribute.
	if last.IsZero() {
		return d.store.TouchSystemHeartbeat(ctx)
	}

	now := d.now()
	gap := now.Sub(last)
	if gap <= d.checkThreshold {
		return d.store.TouchSystemHeartbeat(ctx)
	}

	log.Printf("OutageDetector: agent was down for %v (last heartbeat %v)", gap.Round(time.Second), last)
	observability.AgentDowntimes.Inc()

	if err := d.store.AppendAgentDowntime(ctx, last, now); err != nil {
		return err
	}

	// Credit a brief trailing online period at the moment of the outage,
	// then cut the timeline.
	offlineAt := last.Add(d.offlineThreshold)
	roster, err := d.store.ListRoster(ctx)
	if err != nil {
		return err
	}
	for _, entry := range roster {
		if !entry.CurrentlyOnline() {
			continue
		}
		deviceID := entry.LatestState.DeviceID
		inserted, err := d.store.AppendStateChange(ctx, deviceID, entry.Employee.ID, offlineAt, store.StatusOffline)
		if err != nil {
			log.Printf("OutageDetector: failed to mark %s offline: %v", entry.Employee.EmployeeName, err)
			continue
		}
		if inserted {
			log.Printf("OutageDetector: marked %s offline at %v", entry.Employee.EmployeeName, offlineAt)
			observability.StateTransitions.WithLabelValues("offline").Inc()
		}
	}

	return d.store.TouchSystemHeartbeat(ctx)
}
