package store

import "time"

// Status values for a StateChange row.
const (
	StatusOffline = 0
	StatusOnline  = 1
)

// Employee is a tracked person. The roster is administered externally; the
// agent only reads it.
type Employee struct {
	ID           int64
	EmployeeName string
	FakeName     string
	DisplayOrder int
	CreatedAt    time.Time
}

// Device is a network endpoint attributed to one employee. MACAddress may be
// empty until the prober learns it from a sweep.
type Device struct {
	ID         int64
	EmployeeID int64
	IPAddress  string
	MACAddress string
	DeviceName string
	CreatedAt  time.Time
}

// StateChange is one row of the append-only presence event log.
type StateChange struct {
	ID         int64
	DeviceID   int64
	EmployeeID int64
	Timestamp  time.Time
	Status     int
	CreatedAt  time.Time
}

// Online reports whether this change put the employee online.
func (sc *StateChange) Online() bool {
	return sc != nil && sc.Status == StatusOnline
}

// HourlySummary is one employee's aggregated presence for one whole hour.
// Hour is truncated to the hour boundary; (EmployeeID, Hour) is unique.
type HourlySummary struct {
	ID            int64
	EmployeeID    int64
	Hour          time.Time
	FirstSeen     time.Time
	LastSeen      time.Time
	MinutesOnline int
	Synced        bool
	CreatedAt     time.Time
}

// AgentDowntime records an interval during which the agent itself was dead.
type AgentDowntime struct {
	ID            int64
	DowntimeStart time.Time
	DowntimeEnd   time.Time
	Synced        bool
}

// RosterEntry is one employee with their devices and latest state change
// (nil if the employee has never produced one).
type RosterEntry struct {
	Employee    *Employee
	Devices     []*Device
	LatestState *StateChange
}

// CurrentlyOnline reports the employee's observable status: the status of
// the most recent StateChange, OFFLINE if none exists.
func (r *RosterEntry) CurrentlyOnline() bool {
	return r.LatestState.Online()
}
