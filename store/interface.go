package store

import (
	"context"
	"time"
)

// Store defines the persistence surface of the agent. All writes are durable
// before the method returns; reads are snapshot-consistent within one call.
// Implemented by PostgresStore (production) and MemoryStore (tests, demo).
type Store interface {
	// Roster
	ListEmployees(ctx context.Context) ([]*Employee, error)
	// ListRoster returns every employee with their devices and latest
	// state change, ordered by display order, in one logical read.
	ListRoster(ctx context.Context) ([]*RosterEntry, error)
	UpdateDeviceMAC(ctx context.Context, deviceID int64, mac string) error

	// State change log (append-only)
	LatestStateChange(ctx context.Context, employeeID int64) (*StateChange, error)
	LatestStateChangeBefore(ctx context.Context, employeeID int64, t time.Time) (*StateChange, error)
	StateChangesInRange(ctx context.Context, employeeID int64, t0, t1 time.Time) ([]*StateChange, error)
	// AppendStateChange inserts a transition unless the employee's latest
	// row already carries the same status, in which case it is a no-op and
	// returns false. Consecutive rows per employee therefore alternate.
	AppendStateChange(ctx context.Context, deviceID, employeeID int64, ts time.Time, status int) (bool, error)

	// Hourly summaries
	UpsertHourlySummary(ctx context.Context, s *HourlySummary) error
	ListUnsyncedSummaries(ctx context.Context) ([]*HourlySummary, error)
	MarkSummarySynced(ctx context.Context, id int64) error

	// Agent downtimes
	AppendAgentDowntime(ctx context.Context, start, end time.Time) error
	ListUnsyncedDowntimes(ctx context.Context) ([]*AgentDowntime, error)
	MarkAllDowntimesSynced(ctx context.Context) error

	// System heartbeat (singleton row)
	TouchSystemHeartbeat(ctx context.Context) error
	// ReadSystemHeartbeat returns the zero time if no heartbeat has ever
	// been written.
	ReadSystemHeartbeat(ctx context.Context) (time.Time, error)
}
