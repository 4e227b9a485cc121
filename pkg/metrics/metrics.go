package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Injector metrics
	FactoriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_factories_total",
			Help: "Total number of factories currently registered",
		},
	)

	ItemsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loom_items_total",
			Help: "Total number of items currently in the item table, by key",
		},
		[]string{"key"},
	)

	ActiveEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_active_entries_total",
			Help: "Total number of active (factory, tuple) entries with a running worker",
		},
	)

	MatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loom_match_duration_seconds",
			Help:    "Time taken to compute candidate tuples for a factory",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkersSpawnedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_workers_spawned_total",
			Help: "Total number of workers successfully spawned, by factory",
		},
		[]string{"factory"},
	)

	WorkersSpawnFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_workers_spawn_failed_total",
			Help: "Total number of worker spawn attempts that failed, by factory and error kind",
		},
		[]string{"factory", "kind"},
	)

	WorkersStoppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_workers_stopped_total",
			Help: "Total number of workers that have stopped, by factory and reason",
		},
		[]string{"factory", "reason"},
	)

	ItemsRevokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_items_revoked_total",
			Help: "Total number of items withdrawn, by key",
		},
		[]string{"key"},
	)

	RPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loom_rpc_duration_seconds",
			Help:    "Time taken for an RPC call to a worker to complete",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	RPCFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_rpc_failed_total",
			Help: "Total number of RPC calls that failed, by kind",
		},
		[]string{"kind"},
	)

	SpawnHandshakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loom_spawn_handshake_duration_seconds",
			Help:    "Time taken for the create_initial_state handshake during spawn",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(FactoriesTotal)
	prometheus.MustRegister(ItemsTotal)
	prometheus.MustRegister(ActiveEntriesTotal)
	prometheus.MustRegister(MatchDuration)
	prometheus.MustRegister(WorkersSpawnedTotal)
	prometheus.MustRegister(WorkersSpawnFailedTotal)
	prometheus.MustRegister(WorkersStoppedTotal)
	prometheus.MustRegister(ItemsRevokedTotal)
	prometheus.MustRegister(RPCDuration)
	prometheus.MustRegister(RPCFailedTotal)
	prometheus.MustRegister(SpawnHandshakeDuration)
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
