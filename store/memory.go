package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore holds the agent's state in memory. It implements the Store
// interface and is used by tests and single-box demo mode. Durability is
// obviously not provided.
type MemoryStore struct {
	mu        sync.RWMutex
	employees map[int64]*Employee
	devices   map[int64]*Device
	changes   []*StateChange
	summaries map[int64]*HourlySummary
	downtimes []*AgentDowntime
	heartbeat time.Time

	nextEmployeeID int64
	nextDeviceID   int64
	nextChangeID   int64
	nextSummaryID  int64
	nextDowntimeID int64
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		employees: make(map[int64]*Employee),
		devices:   make(map[int64]*Device),
		summaries: make(map[int64]*HourlySummary),
	}
}

// AddEmployee inserts an employee and returns it. Roster administration is
// external in production; this exists for tests and demo seeding.
func (s *MemoryStore) AddEmployee(name, fakeName string, displayOrder int) *Employee {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEmployeeID++
	e := &Employee{
		ID:           s.nextEmployeeID,
		EmployeeName: name,
		FakeName:     fakeName,
		DisplayOrder: displayOrder,
		CreatedAt:    time.Now(),
	}
	s.employees[e.ID] = e
	return e
}

// AddDevice inserts a device for an employee and returns it.
func (s *MemoryStore) AddDevice(employeeID int64, ip, mac, name string) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDeviceID++
	d := &Device{
		ID:         s.nextDeviceID,
		EmployeeID: employeeID,
		IPAddress:  ip,
		MACAddress: mac,
		DeviceName: name,
		CreatedAt:  time.Now(),
	}
	s.devices[d.ID] = d
	return d
}

func (s *MemoryStore) ListEmployees(ctx context.Context) ([]*Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Employee, 0, len(s.employees))
	for _, e := range s.employees {
		copied := *e
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DisplayOrder < result[j].DisplayOrder })
	return result, nil
}

func (s *MemoryStore) ListRoster(ctx context.Context) ([]*RosterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[int64]*RosterEntry, len(s.employees))
	roster := make([]*RosterEntry, 0, len(s.employees))
	for _, e := range s.employees {
		copied := *e
		entry := &RosterEntry{Employee: &copied}
		byID[e.ID] = entry
		roster = append(roster, entry)
	}
	sort.Slice(roster, func(i, j int) bool {
		return roster[i].Employee.DisplayOrder < roster[j].Employee.DisplayOrder
	})

	deviceIDs := make([]int64, 0, len(s.devices))
	for id := range s.devices {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Slice(deviceIDs, func(i, j int) bool { return deviceIDs[i] < deviceIDs[j] })
	for _, id := range deviceIDs {
		d := *s.devices[id]
		if entry, ok := byID[d.EmployeeID]; ok {
			entry.Devices = append(entry.Devices, &d)
		}
	}

	for _, entry := range roster {
		if sc := s.latestLocked(entry.Employee.ID); sc != nil {
			copied := *sc
			entry.LatestState = &copied
		}
	}
	return roster, nil
}

func (s *MemoryStore) UpdateDeviceMAC(ctx context.Context, deviceID int64, mac string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return errors.New("device not found")
	}
	d.MACAddress = mac
	return nil
}

// latestLocked returns the employee's most recent change. Caller holds the
// lock.
func (s *MemoryStore) latestLocked(employeeID int64) *StateChange {
	var latest *StateChange
	for _, sc := range s.changes {
		if sc.EmployeeID != employeeID {
			continue
		}
		if latest == nil || sc.Timestamp.After(latest.Timestamp) ||
			(sc.Timestamp.Equal(latest.Timestamp) && sc.ID > latest.ID) {
			latest = sc
		}
	}
	return latest
}

func (s *MemoryStore) LatestStateChange(ctx context.Context, employeeID int64) (*StateChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sc := s.latestLocked(employeeID); sc != nil {
		copied := *sc
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) LatestStateChangeBefore(ctx context.Context, employeeID int64, t time.Time) (*StateChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *StateChange
	for _, sc := range s.changes {
		if sc.EmployeeID != employeeID || !sc.Timestamp.Before(t) {
			continue
		}
		if latest == nil || sc.Timestamp.After(latest.Timestamp) ||
			(sc.Timestamp.Equal(latest.Timestamp) && sc.ID > latest.ID) {
			latest = sc
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *MemoryStore) StateChangesInRange(ctx context.Context, employeeID int64, t0, t1 time.Time) ([]*StateChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*StateChange
	for _, sc := range s.changes {
		if sc.EmployeeID != employeeID {
			continue
		}
		if sc.Timestamp.Before(t0) || !sc.Timestamp.Before(t1) {
			continue
		}
		copied := *sc
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID < result[j].ID
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) AppendStateChange(ctx context.Context, deviceID, employeeID int64, ts time.Time, status int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if latest := s.latestLocked(employeeID); latest != nil && latest.Status == status {
		return false, nil
	}
	s.nextChangeID++
	s.changes = append(s.changes, &StateChange{
		ID:         s.nextChangeID,
		DeviceID:   deviceID,
		EmployeeID: employeeID,
		Timestamp:  ts,
		Status:     status,
		CreatedAt:  time.Now(),
	})
	return true, nil
}

func (s *MemoryStore) UpsertHourlySummary(ctx context.Context, sum *HourlySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.summaries {
		if existing.EmployeeID == sum.EmployeeID && existing.Hour.Equal(sum.Hour) {
			existing.FirstSeen = sum.FirstSeen
			existing.LastSeen = sum.LastSeen
			existing.MinutesOnline = sum.MinutesOnline
			existing.Synced = false
			sum.ID = existing.ID
			sum.Synced = false
			return nil
		}
	}
	s.nextSummaryID++
	sum.ID = s.nextSummaryID
	sum.Synced = false
	copied := *sum
	copied.CreatedAt = time.Now()
	s.summaries[sum.ID] = &copied
	return nil
}

func (s *MemoryStore) ListUnsyncedSummaries(ctx context.Context) ([]*HourlySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*HourlySummary
	for _, h := range s.summaries {
		if h.Synced {
			continue
		}
		copied := *h
		result = append(result, &copied)
	}
	// Newest hour first, matching the retry task's delivery order.
	sort.Slice(result, func(i, j int) bool {
		if result[i].Hour.Equal(result[j].Hour) {
			return result[i].EmployeeID < result[j].EmployeeID
		}
		return result[i].Hour.After(result[j].Hour)
	})
	return result, nil
}

func (s *MemoryStore) MarkSummarySynced(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.summaries[id]; ok {
		h.Synced = true
	}
	return nil
}

func (s *MemoryStore) AppendAgentDowntime(ctx context.Context, start, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDowntimeID++
	s.downtimes = append(s.downtimes, &AgentDowntime{
		ID:            s.nextDowntimeID,
		DowntimeStart: start,
		DowntimeEnd:   end,
	})
	return nil
}

func (s *MemoryStore) ListUnsyncedDowntimes(ctx context.Context) ([]*AgentDowntime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*AgentDowntime
	for _, d := range s.downtimes {
		if d.Synced {
			continue
		}
		copied := *d
		result = append(result, &copied)
	}
	return result, nil
}

func (s *MemoryStore) MarkAllDowntimesSynced(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.downtimes {
		d.Synced = true
	}
	return nil
}

func (s *MemoryStore) TouchSystemHeartbeat(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeat = time.Now()
	return nil
}

// SetSystemHeartbeat overrides the heartbeat timestamp. Test helper for
// outage scenarios.
func (s *MemoryStore) SetSystemHeartbeat(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeat = t
}

func (s *MemoryStore) ReadSystemHeartbeat(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heartbeat, nil
}
