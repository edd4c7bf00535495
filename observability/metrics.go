package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanDuration tracks the duration of a full scan tick (sweep + state
	// updates).
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "presence_scan_duration_seconds",
		Help:    "Duration of one subnet scan tick",
		Buckets: prometheus.DefBuckets,
	})

	// ScanSkips counts ticks dropped because the scan lock was held.
	ScanSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_scan_skips_total",
		Help: "Scan ticks skipped due to lock contention",
	})

	// ProbeFailures counts sweeps that returned no hosts due to tool error
	// or timeout.
	ProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_probe_failures_total",
		Help: "ARP sweeps that failed to run",
	})

	// StateTransitions counts state change rows written by direction.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_state_transitions_total",
		Help: "State change rows appended",
	}, []string{"direction"})

	// OnlineEmployees tracks the number of employees currently online.
	OnlineEmployees = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "presence_online_employees",
		Help: "Employees currently considered online",
	})

	// CloudRequests counts outbound cloud POSTs by endpoint and result.
	CloudRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_cloud_requests_total",
		Help: "Cloud API requests",
	}, []string{"endpoint", "result"})

	// UnsyncedSummaries tracks the retry backlog.
	UnsyncedSummaries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "presence_unsynced_summaries",
		Help: "Hourly summaries not yet delivered to the cloud",
	})

	// AgentDowntimes counts detected agent outages.
	AgentDowntimes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_agent_downtimes_total",
		Help: "Agent downtime intervals recorded on recovery",
	})

	// LockLatency tracks Redis lock round trips.
	LockLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "presence_lock_latency_seconds",
		Help:    "Latency of distributed lock operations",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	// TaskRuns counts scheduler task executions by task and outcome.
	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_task_runs_total",
		Help: "Periodic task executions",
	}, []string{"task", "result"})
)
