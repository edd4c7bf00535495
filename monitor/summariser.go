package monitor

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/sitewatch/presence-agent/store"
)

// Summariser aggregates the state change log into per-employee per-hour
// presence records. It runs after an hour has closed, so it never races the
// scan loop's writes for that window.
type Summariser struct {
	store store.Store

	now func() time.Time
}

func NewSummariser(s store.Store) *Summariser {
	return &Summariser{store: s, now: time.Now}
}

// SummarisePreviousHour summarises the last complete hour window.
func (sm *Summariser) SummarisePreviousHour(ctx context.Context) ([]*store.HourlySummary, error) {
	end := sm.now().Truncate(time.Hour)
	return sm.SummariseHour(ctx, end.Add(-time.Hour))
}

// SummariseHour computes summaries for the window [hour, hour+1h) under the
// presence-span policy: minutes_online is the span last_seen - first_seen,
// not the sum of online intervals. Employees with no presence in the window
// contribute no row. Rows are upserted with synced=false.
func (sm *Summariser) SummariseHour(ctx context.Context, hour time.Time) ([]*store.HourlySummary, error) {
	windowEnd := hour.Add(time.Hour)

	employees, err := sm.store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}

	var summaries []*store.HourlySummary
	for _, emp := range employees {
		initial, err := sm.store.LatestStateChangeBefore(ctx, emp.ID, hour)
		if err != nil {
			return nil, fmt.Errorf("initial state for %s: %w", emp.EmployeeName, err)
		}
		changes, err := sm.store.StateChangesInRange(ctx, emp.ID, hour, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("changes for %s: %w", emp.EmployeeName, err)
		}

		wasOnlineAtStart := initial.Online()

		var firstSeen, lastSeen time.Time
		switch {
		case len(changes) == 0 && wasOnlineAtStart:
			// Present the whole hour.
			firstSeen, lastSeen = hour, windowEnd
		case len(changes) == 0:
			continue
		default:
			firstChange, lastChange := changes[0], changes[len(changes)-1]
			if wasOnlineAtStart {
				firstSeen = hour
			} else {
				firstSeen = firstChange.Timestamp
			}
			if lastChange.Online() {
				lastSeen = windowEnd
			} else {
				lastSeen = lastChange.Timestamp
			}
		}

		minutes := spanMinutes(firstSeen, lastSeen)

		sum := &store.HourlySummary{
			EmployeeID:    emp.ID,
			Hour:          hour,
			FirstSeen:     firstSeen,
			LastSeen:      lastSeen,
			MinutesOnline: minutes,
		}
		if err := sm.store.UpsertHourlySummary(ctx, sum); err != nil {
			return nil, fmt.Errorf("upsert summary for %s: %w", emp.EmployeeName, err)
		}
		summaries = append(summaries, sum)
	}

	if len(summaries) > 0 {
		log.Printf("Summariser: %d summaries for hour %v", len(summaries), hour.Format("2006-01-02 15:00"))
	}
	return summaries, nil
}

// spanMinutes rounds the span to the nearest minute and clamps it to [0,60].
func spanMinutes(first, last time.Time) int {
	minutes := int(math.Round(last.Sub(first).Minutes()))
	if minutes < 0 {
		minutes = 0
	}
	if minutes > 60 {
		minutes = 60
	}
	return minutes
}
