package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments for the detection pipeline.
type Metrics struct {
	ProcessesObserved  *prometheus.CounterVec
	ThreatsFlagged     *prometheus.CounterVec
	DedupSuppressed    prometheus.Counter
	QueueDepth         prometheus.Gauge
	QueueDropped       prometheus.Counter
	SnapshotsTaken     prometheus.Counter
	SnapshotDuration   prometheus.Histogram
	CaptureFailures    *prometheus.CounterVec
	VaultEntries       *prometheus.CounterVec
	VaultWriteFailures prometheus.Counter
	BytesPreserved     prometheus.Counter
	IncidentsProcessed prometheus.Counter
}

// New creates and registers the custodian metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ProcessesObserved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodian_processes_observed_total",
			Help: "Process creation events observed, by source method.",
		}, []string{"method"}),
		ThreatsFlagged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodian_threats_flagged_total",
			Help: "Commands flagged by the threat matcher, by type and severity.",
		}, []string{"threat_type", "severity"}),
		DedupSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_dedup_suppressed_total",
			Help: "Repeat detections suppressed inside the cool-down window.",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "custodian_incident_queue_depth",
			Help: "Work items currently queued for the incident consumer.",
		}),
		QueueDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_incident_queue_dropped_total",
			Help: "Work items dropped because the incident queue was full.",
		}),
		SnapshotsTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_snapshots_total",
			Help: "Emergency snapshots triggered.",
		}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodian_snapshot_duration_seconds",
			Help:    "Wall-clock duration of emergency snapshots.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		CaptureFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodian_capture_task_failures_total",
			Help: "Capture tasks that failed or timed out, by category.",
		}, []string{"category"}),
		VaultEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodian_vault_entries_total",
			Help: "Custody ledger entries appended, by kind.",
		}, []string{"kind"}),
		VaultWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_vault_write_failures_total",
			Help: "Vault ledger or artifact writes that failed.",
		}),
		BytesPreserved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_bytes_preserved_total",
			Help: "Bytes copied into the evidence vault.",
		}),
		IncidentsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_incidents_processed_total",
			Help: "Incidents fully processed by the pipeline consumer.",
		}),
	}
}
