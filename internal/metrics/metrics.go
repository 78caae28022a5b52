// Package metrics registers the Prometheus collectors for the datastore
// engine, following the teacher's pkg/metrics: package-level collectors
// registered in init(), plus a Timer helper for histogram observations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Shared-memory arena (§4.1).
	ShmWastedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysrepod_shm_wasted_bytes",
			Help: "Bytes marked wasted in a shared-memory region awaiting defragmentation",
		},
		[]string{"region"},
	)

	ShmDefragTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sysrepod_shm_defrag_total",
			Help: "Total number of Ext SHM defragmentation passes run",
		},
	)

	ShmGrowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysrepod_shm_grow_total",
			Help: "Total number of SHM region growth (ftruncate+remap) events",
		},
		[]string{"region"},
	)

	// Lock primitives (§4.2).
	LockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sysrepod_lock_wait_seconds",
			Help:    "Time spent waiting to acquire a module or SHM lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	LockTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sysrepod_lock_timeouts_total",
			Help: "Total number of lock acquisitions that failed with TIMEOUT",
		},
	)

	// Running-data cache (§4.7).
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysrepod_cache_hits_total",
			Help: "Total running-data cache hits by module",
		},
		[]string{"module"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysrepod_cache_misses_total",
			Help: "Total running-data cache misses by module",
		},
		[]string{"module"},
	)

	// Datastore loader/writer (§4.8, §4.11).
	LoadDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sysrepod_datastore_load_duration_seconds",
			Help:    "Time taken to load a module's data into a modinfo set",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"datastore"},
	)

	CommitDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sysrepod_commit_duration_seconds",
			Help:    "Time taken to write a changed module back to its datastore",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"datastore"},
	)

	ModuleVersionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysrepod_module_version_bumps_total",
			Help: "Total number of descriptor.ver increments, by module",
		},
		[]string{"module"},
	)

	// Operational composer (§4.9).
	ProviderCalloutSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sysrepod_provider_callout_seconds",
			Help:    "Time taken waiting for an operational-data provider response",
			Buckets: prometheus.DefBuckets,
		},
	)

	CallbackFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sysrepod_callback_failed_total",
			Help: "Total provider callouts that failed or timed out",
		},
	)

	StaticPruneSkipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sysrepod_static_prune_skips_total",
			Help: "Total operational subscriptions skipped by static XPath disjointness pruning",
		},
	)

	// Change notifications (§4.10).
	NotificationsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sysrepod_change_notifications_total",
			Help: "Total config-change notifications emitted after a commit",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ShmWastedBytes,
		ShmDefragTotal,
		ShmGrowTotal,
		LockWaitSeconds,
		LockTimeoutsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		LoadDurationSeconds,
		CommitDurationSeconds,
		ModuleVersionTotal,
		ProviderCalloutSeconds,
		CallbackFailedTotal,
		StaticPruneSkipsTotal,
		NotificationsEmittedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations, mirroring the teacher's
// pkg/metrics.Timer.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a plain histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
