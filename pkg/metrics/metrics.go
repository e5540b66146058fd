package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Directory map metrics
	DirectoriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fsmirror_directories_total",
			Help: "Total number of tracked directories by FSM state",
		},
		[]string{"fs_name", "state"},
	)

	// Instance metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fsmirror_instances_total",
			Help: "Total number of live mirror-worker instances",
		},
		[]string{"fs_name"},
	)

	InstanceDeltaTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsmirror_instance_delta_total",
			Help: "Total instance-watcher deltas observed, by kind",
		},
		[]string{"fs_name", "kind"}, // kind: added, removed
	)

	InstanceBlocklistTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsmirror_instance_blocklist_total",
			Help: "Total blocklist calls issued against departed instances",
		},
		[]string{"fs_name", "result"}, // result: success, failure
	)

	// Durable write metrics (Store Gateway)
	DirectoryWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsmirror_directory_write_duration_seconds",
			Help:    "Time to durably apply a batched directory-map update",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"fs_name"},
	)

	DirectoryWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsmirror_directory_write_failures_total",
			Help: "Total directory-map write batches that failed",
		},
		[]string{"fs_name"},
	)

	InstanceWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsmirror_instance_write_duration_seconds",
			Help:    "Time to durably apply an instance-map update",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"fs_name"},
	)

	// Notification metrics
	NotifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsmirror_notify_duration_seconds",
			Help:    "Time from issuing an acquire/release notification to its ack",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"fs_name", "mode"},
	)

	NotifyFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsmirror_notify_failures_total",
			Help: "Total acquire/release notifications that returned a non-zero result code",
		},
		[]string{"fs_name", "mode"},
	)
)

func init() {
	prometheus.MustRegister(DirectoriesTotal)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(InstanceDeltaTotal)
	prometheus.MustRegister(InstanceBlocklistTotal)
	prometheus.MustRegister(DirectoryWriteDuration)
	prometheus.MustRegister(DirectoryWriteFailuresTotal)
	prometheus.MustRegister(InstanceWriteDuration)
	prometheus.MustRegister(NotifyDuration)
	prometheus.MustRegister(NotifyFailuresTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
