package server

import (
	"time"

	"duskmoo/vm"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects scheduler throughput and resource-accounting data
// (spec.md §4.4/§5). Serving these over HTTP is a host-layer concern
// (spec.md §1 puts "HTTP/WebSocket hosts" out of scope), so this package
// only registers and updates the collectors; a host binary can mount
// promhttp.Handler() against the default registry if it wants to expose
// them.
var (
	tasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duskmoo_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal state, by outcome",
		},
		[]string{"outcome"}, // completed, exception, killed, quota
	)

	taskConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duskmoo_task_conflicts_total",
			Help: "Total number of MVCC commit conflicts across all task attempts",
		},
	)

	taskTicksUsed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duskmoo_task_ticks_used",
			Help:    "Ticks consumed per committed task attempt",
			Buckets: []float64{10, 100, 1000, 5000, 10000, 30000, 60000},
		},
	)

	taskRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duskmoo_task_run_duration_seconds",
			Help:    "Wall-clock time per task attempt (compile+execute, one db.Tx)",
			Buckets: prometheus.DefBuckets,
		},
	)

	verbCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duskmoo_verb_cache_hits_total",
			Help: "Verb dispatch resolutions served from the verb cache",
		},
	)

	verbCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duskmoo_verb_cache_misses_total",
			Help: "Verb dispatch resolutions that had to walk the ancestor chain",
		},
	)
)

func init() {
	prometheus.MustRegister(
		tasksCompletedTotal,
		taskConflictsTotal,
		taskTicksUsed,
		taskRunDuration,
		verbCacheHitsTotal,
		verbCacheMissesTotal,
	)

	vm.OnVerbCacheHit = verbCacheHitsTotal.Inc
	vm.OnVerbCacheMiss = verbCacheMissesTotal.Inc
}

// metricsTimer times a single task attempt.
type metricsTimer struct {
	start time.Time
}

func startMetricsTimer() metricsTimer {
	return metricsTimer{start: time.Now()}
}

func (m metricsTimer) observe() {
	taskRunDuration.Observe(time.Since(m.start).Seconds())
}
