/*
Package metrics provides Prometheus metrics collection and exposition for
syncbase.

Metrics fall into two groups: polled gauges sampled by Collector on a fixed
interval (connection state, bucket count, CRUD queue occupancy, last synced
time), and counters/histograms updated inline by the packages that observe
the event (oplog application, sync_local outcomes, control op latency).

# Metrics Catalog

syncbase_sync_connected:
  - Gauge. 1 while the sync stream is connected and tracking a checkpoint.

syncbase_last_synced_at_seconds:
  - Gauge. Unix timestamp of the last fully-applied checkpoint.

syncbase_buckets_total:
  - Gauge. Number of buckets currently tracked in local storage.

syncbase_crud_queue_depth:
  - Gauge. 0 if the CRUD queue is empty, 1 otherwise.

syncbase_oplog_entries_applied_total:
  - Counter. Oplog entries inserted by incoming data lines.

syncbase_sync_local_total{outcome}:
  - Counter. sync_local runs by outcome (applied, pending_local_changes,
    checksum_failure).

syncbase_checksum_failures_total:
  - Counter. Buckets that failed checksum validation during sync_local.

syncbase_sync_local_duration_seconds:
  - Histogram. Time to project the oplog into data tables.

syncbase_data_lines_processed_total:
  - Counter. Data lines received from the sync stream.

syncbase_checkpoints_applied_total:
  - Counter. Checkpoints fully applied.

syncbase_control_ops_total{op, outcome}:
  - Counter. powersync_control invocations by operation and outcome.

syncbase_control_op_duration_seconds{op}:
  - Histogram. Time to handle a powersync_control invocation.

syncbase_crud_uploads_total{outcome}:
  - Counter. completed_upload control ops by outcome.

# Usage

	timer := metrics.NewTimer()
	outcome := runSyncLocal()
	timer.ObserveDuration(metrics.SyncLocalDuration)
	metrics.SyncLocalTotal.WithLabelValues(outcome).Inc()

Collector samples the polled gauges:

	collector := metrics.NewCollector(adapter, func() bool { return engine.Status().Connected })
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
