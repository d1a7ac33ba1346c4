package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync stream metrics
	SyncConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncbase_sync_connected",
			Help: "Whether the sync stream is currently connected and tracking a checkpoint (1 = connected, 0 = not)",
		},
	)

	LastSyncedAtSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncbase_last_synced_at_seconds",
			Help: "Unix timestamp of the last time a sync_local checkpoint was fully applied",
		},
	)

	BucketsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncbase_buckets_total",
			Help: "Number of buckets currently tracked in local storage",
		},
	)

	CRUDQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncbase_crud_queue_depth",
			Help: "Approximate number of pending local CRUD operations awaiting upload (0 or 1: exact depth requires a full queue scan)",
		},
	)

	// Oplog / materialization metrics
	OplogEntriesAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncbase_oplog_entries_applied_total",
			Help: "Total number of oplog entries inserted by incoming data lines",
		},
	)

	SyncLocalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncbase_sync_local_total",
			Help: "Total number of sync_local runs by outcome",
		},
		[]string{"outcome"}, // applied, pending_local_changes, checksum_failure
	)

	ChecksumFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncbase_checksum_failures_total",
			Help: "Total number of buckets that failed checksum validation during sync_local",
		},
	)

	SyncLocalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncbase_sync_local_duration_seconds",
			Help:    "Time taken to project the oplog into data tables during sync_local",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Protocol / control-surface metrics
	DataLinesProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncbase_data_lines_processed_total",
			Help: "Total number of data lines received from the sync stream",
		},
	)

	CheckpointsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncbase_checkpoints_applied_total",
			Help: "Total number of checkpoints fully applied (checkpoint_complete reached and sync_local succeeded)",
		},
	)

	ControlOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncbase_control_ops_total",
			Help: "Total number of powersync_control invocations by operation and outcome",
		},
		[]string{"op", "outcome"}, // outcome: ok, error
	)

	ControlOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncbase_control_op_duration_seconds",
			Help:    "Time taken to handle a powersync_control invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// CRUD upload metrics
	CRUDUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncbase_crud_uploads_total",
			Help: "Total number of completed_upload control ops by outcome",
		},
		[]string{"outcome"}, // ok, error
	)
)

func init() {
	prometheus.MustRegister(SyncConnected)
	prometheus.MustRegister(LastSyncedAtSeconds)
	prometheus.MustRegister(BucketsTotal)
	prometheus.MustRegister(CRUDQueueDepth)

	prometheus.MustRegister(OplogEntriesAppliedTotal)
	prometheus.MustRegister(SyncLocalTotal)
	prometheus.MustRegister(ChecksumFailuresTotal)
	prometheus.MustRegister(SyncLocalDuration)

	prometheus.MustRegister(DataLinesProcessedTotal)
	prometheus.MustRegister(CheckpointsAppliedTotal)
	prometheus.MustRegister(ControlOpsTotal)
	prometheus.MustRegister(ControlOpDuration)

	prometheus.MustRegister(CRUDUploadsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
