package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sitewatch/presence-agent/observability"
	"github.com/sitewatch/presence-agent/store"
)

const cloudTimeout = 10 * time.Second

// Reporter delivers heartbeats and hourly summaries to the cloud API.
// Heartbeats are fire-and-forget; summaries are at-least-once, tracked by
// the synced flag and retried by the periodic retry task.
type Reporter struct {
	store   store.Store
	client  *http.Client
	baseURL string
	token   string
	siteID  string

	// limiter paces outbound POSTs so a large retry backlog cannot hammer
	// the cloud.
	limiter *rate.Limiter

	now func() time.Time
}

func New(s store.Store, baseURL, token, siteID string) *Reporter {
	return &Reporter{
		store:   s,
		client:  &http.Client{Timeout: cloudTimeout},
		baseURL: baseURL,
		token:   token,
		siteID:  siteID,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		now:     time.Now,
	}
}

type heartbeatEntry struct {
	EmployeeID   int64   `json:"employeeId"`
	EmployeeName string  `json:"employeeName"`
	FakeName     string  `json:"fakeName"`
	Area         string  `json:"area"`
	IsPresent    bool    `json:"isPresent"`
	LastSeen     *string `json:"lastSeen"`
}

type heartbeatPayload struct {
	SiteID        string           `json:"siteId"`
	Timestamp     string           `json:"timestamp"`
	DevicesOnline []heartbeatEntry `json:"devicesOnline"`
}

type presenceEntry struct {
	EmployeeID    int64  `json:"employeeId"`
	EmployeeName  string `json:"employeeName"`
	FakeName      string `json:"fakeName"`
	Date          string `json:"date"`
	Hour          int    `json:"hour"`
	FirstSeen     string `json:"firstSeen"`
	LastSeen      string `json:"lastSeen"`
	MinutesOnline int    `json:"minutesOnline"`
}

type downtimeEntry struct {
	DowntimeStart string `json:"downtimeStart"`
	DowntimeEnd   string `json:"downtimeEnd"`
}

type presencePayload struct {
	SiteID         string          `json:"siteId"`
	Timestamp      string          `json:"timestamp"`
	PresenceData   []presenceEntry `json:"presenceData"`
	AgentDowntimes []downtimeEntry `json:"agentDowntimes,omitempty"`
}

// SendHeartbeat posts the status of the entire roster: every employee with
// their isPresent flag and last seen timestamp, not only the online ones.
// The pseudonym is the externally visible identity, so employeeName carries
// the fake name.
func (r *Reporter) SendHeartbeat(ctx context.Context) error {
	roster, err := r.store.ListRoster(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	entries := make([]heartbeatEntry, 0, len(roster))
	online := 0
	for _, e := range roster {
		entry := heartbeatEntry{
			EmployeeID:   e.Employee.ID,
			EmployeeName: e.Employee.FakeName,
			FakeName:     e.Employee.FakeName,
			Area:         "default",
			IsPresent:    e.CurrentlyOnline(),
		}
		if e.LatestState != nil {
			ts := e.LatestState.Timestamp.Format(time.RFC3339)
			entry.LastSeen = &ts
		}
		if entry.IsPresent {
			online++
		}
		entries = append(entries, entry)
	}

	payload := heartbeatPayload{
		SiteID:        r.siteID,
		Timestamp:     r.now().Format(time.RFC3339),
		DevicesOnline: entries,
	}
	if err := r.post(ctx, "/api/heartbeat", payload); err != nil {
		observability.CloudRequests.WithLabelValues("heartbeat", "error").Inc()
		return err
	}
	observability.CloudRequests.WithLabelValues("heartbeat", "ok").Inc()
	log.Printf("Reporter: heartbeat sent, %d/%d online", online, len(entries))
	return nil
}

// SyncSummaries delivers summaries one POST at a time. The unsynced
// downtimes ride along on the first POST of the batch; they flip to synced
// only if that POST succeeds. A failed POST leaves its summary unsynced for
// the retry task.
func (r *Reporter) SyncSummaries(ctx context.Context, summaries []*store.HourlySummary) error {
	if len(summaries) == 0 {
		return nil
	}

	employees, err := r.store.ListEmployees(ctx)
	if err != nil {
		return fmt.Errorf("list employees: %w", err)
	}
	byID := make(map[int64]*store.Employee, len(employees))
	for _, e := range employees {
		byID[e.ID] = e
	}

	downtimes, err := r.store.ListUnsyncedDowntimes(ctx)
	if err != nil {
		return fmt.Errorf("list downtimes: %w", err)
	}

	delivered, failed := 0, 0
	for i, sum := range summaries {
		emp, ok := byID[sum.EmployeeID]
		if !ok {
			// Employee deleted since the summary was written. Nothing to
			// report it against.
			continue
		}

		payload := presencePayload{
			SiteID:    r.siteID,
			Timestamp: r.now().Format(time.RFC3339),
			PresenceData: []presenceEntry{{
				EmployeeID:    emp.ID,
				EmployeeName:  emp.EmployeeName,
				FakeName:      emp.FakeName,
				Date:          sum.Hour.Format("2006-01-02"),
				Hour:          sum.Hour.Hour(),
				FirstSeen:     sum.FirstSeen.Format("15:04:05"),
				LastSeen:      sum.LastSeen.Format("15:04:05"),
				MinutesOnline: sum.MinutesOnline,
			}},
		}

		carriesDowntimes := i == 0 && len(downtimes) > 0
		if carriesDowntimes {
			for _, d := range downtimes {
				payload.AgentDowntimes = append(payload.AgentDowntimes, downtimeEntry{
					DowntimeStart: d.DowntimeStart.Format(time.RFC3339),
					DowntimeEnd:   d.DowntimeEnd.Format(time.RFC3339),
				})
			}
		}

		if err := r.post(ctx, "/api/presence", payload); err != nil {
			observability.CloudRequests.WithLabelValues("presence", "error").Inc()
			log.Printf("Reporter: summary %d (employee %d, hour %v) failed: %v", sum.ID, sum.EmployeeID, sum.Hour, err)
			failed++
			continue
		}
		observability.CloudRequests.WithLabelValues("presence", "ok").Inc()

		if err := r.store.MarkSummarySynced(ctx, sum.ID); err != nil {
			return fmt.Errorf("mark summary %d synced: %w", sum.ID, err)
		}
		if carriesDowntimes {
			if err := r.store.MarkAllDowntimesSynced(ctx); err != nil {
				return fmt.Errorf("mark downtimes synced: %w", err)
			}
		}
		delivered++
	}

	if delivered+failed > 0 {
		log.Printf("Reporter: delivered %d summaries, %d failed", delivered, failed)
	}
	return nil
}

// RetryUnsynced re-delivers summaries that previous POSTs failed to land,
// newest hour first.
func (r *Reporter) RetryUnsynced(ctx context.Context) error {
	summaries, err := r.store.ListUnsyncedSummaries(ctx)
	if err != nil {
		return fmt.Errorf("list unsynced summaries: %w", err)
	}
	observability.UnsyncedSummaries.Set(float64(len(summaries)))
	if len(summaries) == 0 {
		return nil
	}
	return r.SyncSummaries(ctx, summaries)
}

func (r *Reporter) post(ctx context.Context, path string, payload any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}
