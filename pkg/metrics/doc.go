/*
Package metrics provides Prometheus metrics collection and exposition for
fsmirrord.

Metrics are registered at package init and exposed over HTTP for scraping
by a Prometheus server; a background Collector additionally polls the
engine's Manager on a fixed interval to refresh the gauges that reflect
point-in-time state (directory counts by FSM state, live instance
counts) rather than discrete events.

# Metrics Catalog

fsmirror_directories_total{fs_name, state}:
  - Type: Gauge
  - Description: tracked directories by FSM state (idle, pending_map,
    pending_acquire, acquired, pending_release, pending_purge_map,
    pending_remove)

fsmirror_instances_total{fs_name}:
  - Type: Gauge
  - Description: live mirror-worker instances

fsmirror_instance_delta_total{fs_name, kind}:
  - Type: Counter
  - Description: instance-watcher deltas observed, kind is "added" or
    "removed"

fsmirror_instance_blocklist_total{fs_name, result}:
  - Type: Counter
  - Description: blocklist calls issued against departed instances
    before reassignment (spec I4), result is "success" or "failure"

fsmirror_directory_write_duration_seconds{fs_name}:
  - Type: Histogram
  - Description: time to durably apply one batched directory-map update

fsmirror_directory_write_failures_total{fs_name}:
  - Type: Counter
  - Description: directory-map write batches that failed

fsmirror_instance_write_duration_seconds{fs_name}:
  - Type: Histogram
  - Description: time to durably apply one instance-map update

fsmirror_notify_duration_seconds{fs_name, mode}:
  - Type: Histogram
  - Description: time from issuing an acquire/release notification to
    its ack, mode is "acquire" or "release"

fsmirror_notify_failures_total{fs_name, mode}:
  - Type: Counter
  - Description: notifications that came back with a non-zero result
    code

# Usage

	timer := metrics.NewTimer()
	// ... apply a directory-map write ...
	timer.ObserveDurationVec(metrics.DirectoryWriteDuration, fsName)

	http.Handle("/metrics", metrics.Handler())
	http.ListenAndServe(cfg.MetricsAddr, nil)
*/
package metrics
