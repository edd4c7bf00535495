package monitor

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sitewatch/presence-agent/coordination"
	"github.com/sitewatch/presence-agent/observability"
	"github.com/sitewatch/presence-agent/prober"
	"github.com/sitewatch/presence-agent/store"
)

// HeartbeatSender delivers the current roster status to the cloud.
type HeartbeatSender interface {
	SendHeartbeat(ctx context.Context) error
}

// StatusPublisher receives a roster snapshot after each completed tick.
type StatusPublisher interface {
	PublishStatus(snapshot []EmployeeStatus)
}

// EmployeeStatus is one employee's observable presence, as exposed on the
// local status API and WebSocket stream.
type EmployeeStatus struct {
	EmployeeID int64      `json:"employeeId"`
	FakeName   string     `json:"fakeName"`
	Online     bool       `json:"online"`
	LastSeen   *time.Time `json:"lastSeen"`
}

// ScanLoop turns periodic subnet sweeps into per-employee state transitions
// under the debounce policy: an employee goes online the moment any of their
// devices answers, and offline only after offlineAfter consecutive all-quiet
// ticks.
type ScanLoop struct {
	store     store.Store
	sweeper   prober.Sweeper
	locker    coordination.Locker
	reporter  HeartbeatSender
	publisher StatusPublisher

	offlineAfter int
	lockTTL      time.Duration
	ownerID      string

	// failureCount is per-employee and process-local. It is only touched
	// while holding the scan lock, and deliberately resets on restart: the
	// worst case is one extra grace period before declaring offline.
	failureCount map[int64]int

	now func() time.Time
}

func NewScanLoop(s store.Store, sw prober.Sweeper, l coordination.Locker, r HeartbeatSender, offlineAfter int, lockTTL time.Duration) *ScanLoop {
	hostname, _ := os.Hostname()
	return &ScanLoop{
		store:        s,
		sweeper:      sw,
		locker:       l,
		reporter:     r,
		offlineAfter: offlineAfter,
		lockTTL:      lockTTL,
		ownerID:      fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		failureCount: make(map[int64]int),
		now:          time.Now,
	}
}

// SetPublisher attaches a status publisher. Optional.
func (sl *ScanLoop) SetPublisher(p StatusPublisher) {
	sl.publisher = p
}

// Tick runs one scan pass. Overlapping ticks are dropped: if the scan lock
// is already held the tick returns immediately.
func (sl *ScanLoop) Tick(ctx context.Context) error {
	acquired, err := sl.locker.AcquireLock(ctx, coordination.ScanLockKey, sl.ownerID, sl.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire scan lock: %w", err)
	}
	if !acquired {
		observability.ScanSkips.Inc()
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := sl.locker.ReleaseLock(releaseCtx, coordination.ScanLockKey, sl.ownerID); err != nil {
			log.Printf("ScanLoop: failed to release scan lock: %v", err)
		}
	}()

	start := time.Now()
	defer func() {
		observability.ScanDuration.Observe(time.Since(start).Seconds())
	}()

	roster, err := sl.store.ListRoster(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	wanted := make(map[string]bool)
	for _, entry := range roster {
		for _, d := range entry.Devices {
			if mac, ok := prober.NormalizeMAC(d.MACAddress); ok {
				wanted[mac] = true
			}
		}
	}

	res := sl.sweeper.Sweep(ctx, wanted)

	// Learn MACs for devices configured with only an IP. A device that
	// shows up in the sweep's IP mapping answered the probe, so it also
	// counts as online this tick.
	for _, entry := range roster {
		for _, d := range entry.Devices {
			if _, ok := prober.NormalizeMAC(d.MACAddress); ok {
				continue
			}
			mac, ok := res.MACByIP[d.IPAddress]
			if !ok {
				continue
			}
			if err := sl.store.UpdateDeviceMAC(ctx, d.ID, mac); err != nil {
				log.Printf("ScanLoop: failed to store learned MAC for device %d: %v", d.ID, err)
			} else {
				log.Printf("ScanLoop: learned MAC %s for device %d (%s)", mac, d.ID, d.IPAddress)
			}
			d.MACAddress = mac
			res.Online[mac] = true
		}
	}

	now := sl.now()
	changed := false
	onlineCount := 0
	snapshot := make([]EmployeeStatus, 0, len(roster))

	for _, entry := range roster {
		emp := entry.Employee

		// First device found online satisfies the employee; device
		// identity on the row is informational, the employee timeline is
		// authoritative.
		var onlineDevice *store.Device
		for _, d := range entry.Devices {
			if mac, ok := prober.NormalizeMAC(d.MACAddress); ok && res.Online[mac] {
				onlineDevice = d
				break
			}
		}

		isOnline := entry.CurrentlyOnline()
		lastSeen := entry.LatestState

		if onlineDevice != nil {
			sl.failureCount[emp.ID] = 0
			if !entry.CurrentlyOnline() {
				inserted, err := sl.store.AppendStateChange(ctx, onlineDevice.ID, emp.ID, now, store.StatusOnline)
				if err != nil {
					return fmt.Errorf("append online transition for %s: %w", emp.EmployeeName, err)
				}
				if inserted {
					log.Printf("ScanLoop: %s came ONLINE", emp.EmployeeName)
					observability.StateTransitions.WithLabelValues("online").Inc()
					changed = true
				}
			}
			isOnline = true
		} else {
			sl.failureCount[emp.ID]++
			if sl.failureCount[emp.ID] >= sl.offlineAfter {
				if entry.CurrentlyOnline() {
					inserted, err := sl.store.AppendStateChange(ctx, entry.LatestState.DeviceID, emp.ID, now, store.StatusOffline)
					if err != nil {
						return fmt.Errorf("append offline transition for %s: %w", emp.EmployeeName, err)
					}
					if inserted {
						log.Printf("ScanLoop: %s went OFFLINE", emp.EmployeeName)
						observability.StateTransitions.WithLabelValues("offline").Inc()
						changed = true
					}
					isOnline = false
				}
				sl.failureCount[emp.ID] = 0
			}
		}

		if isOnline {
			onlineCount++
		}
		status := EmployeeStatus{EmployeeID: emp.ID, FakeName: emp.FakeName, Online: isOnline}
		if lastSeen != nil {
			t := lastSeen.Timestamp
			status.LastSeen = &t
		}
		snapshot = append(snapshot, status)
	}

	observability.OnlineEmployees.Set(float64(onlineCount))

	if changed && sl.reporter != nil {
		if err := sl.reporter.SendHeartbeat(ctx); err != nil {
			// Fire and forget; the next heartbeat is authoritative.
			log.Printf("ScanLoop: heartbeat after transitions failed: %v", err)
		}
	}

	if sl.publisher != nil {
		sl.publisher.PublishStatus(snapshot)
	}
	return nil
}
