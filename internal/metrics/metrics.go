// Package metrics provides Prometheus metrics for the embedded Git
// object database: object store operations, schema migrations and
// dictionary training.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for a repository instance.
type Metrics struct {
	// Object store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreBytesTotal        *prometheus.CounterVec
	ChunkDedupSavedBytes   prometheus.Counter

	// Reference container metrics
	RefMutationsTotal *prometheus.CounterVec
	RefCASFailures    prometheus.Counter
	ReflogAppends     prometheus.Counter

	// Schema / migration metrics
	MigrationsRunTotal prometheus.Counter
	MigrationDuration  *prometheus.HistogramVec
	SchemaVersion      prometheus.Gauge

	// Dictionary training metrics
	DictionaryTrainingsTotal *prometheus.CounterVec
	DictionaryTrainingSkips  *prometheus.CounterVec
}

// namespace for all metrics emitted by this module.
const namespace = "gitobjdb"

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		StoreOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of object store operations.",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Object store operation duration in seconds.",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"operation"},
		),
		StoreBytesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "bytes_total",
				Help:      "Total raw bytes processed by store operations.",
			},
			[]string{"operation"},
		),
		ChunkDedupSavedBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "chunk_dedup_saved_bytes_total",
				Help:      "Estimated bytes avoided by chunk deduplication.",
			},
		),

		RefMutationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refs",
				Name:      "mutations_total",
				Help:      "Total number of reference mutations by kind and outcome.",
			},
			[]string{"operation", "status"},
		),
		RefCASFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refs",
				Name:      "cas_failures_total",
				Help:      "Total number of compare-and-swap misses.",
			},
		),
		ReflogAppends: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refs",
				Name:      "reflog_appends_total",
				Help:      "Total number of reflog rows appended.",
			},
		),

		MigrationsRunTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "schema",
				Name:      "migrations_run_total",
				Help:      "Total number of individual schema migration steps applied.",
			},
		),
		MigrationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "schema",
				Name:      "migration_duration_seconds",
				Help:      "Duration of an individual migration step.",
				Buckets:   []float64{.001, .01, .1, .5, 1, 5, 30},
			},
			[]string{"step"},
		),
		SchemaVersion: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "schema",
				Name:      "version",
				Help:      "Current schema version of the open database.",
			},
		),

		DictionaryTrainingsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dictionary",
				Name:      "trainings_total",
				Help:      "Total number of successful dictionary trainings by kind.",
			},
			[]string{"kind"},
		),
		DictionaryTrainingSkips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dictionary",
				Name:      "training_skips_total",
				Help:      "Total number of dictionary trainings skipped for insufficient samples, by kind.",
			},
			[]string{"kind"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler for an embedding
// caller to mount on its own server. This package never starts one
// itself.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStoreOperation records an object store operation.
func (m *Metrics) RecordStoreOperation(operation, status string, duration float64, bytes int64) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration)
	if bytes > 0 {
		m.StoreBytesTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordRefMutation records a reference container mutation.
func (m *Metrics) RecordRefMutation(operation string, succeeded bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !succeeded {
		status = "cas_miss"
		m.RefCASFailures.Inc()
	}
	m.RefMutationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordReflogAppend records a successful reflog append.
func (m *Metrics) RecordReflogAppend() {
	if m == nil {
		return
	}
	m.ReflogAppends.Inc()
}

// RecordMigration records one applied migration step.
func (m *Metrics) RecordMigration(step string, duration float64, newVersion int) {
	if m == nil {
		return
	}
	m.MigrationsRunTotal.Inc()
	m.MigrationDuration.WithLabelValues(step).Observe(duration)
	m.SchemaVersion.Set(float64(newVersion))
}

// RecordDictionaryTraining records a trained-or-skipped dictionary
// training attempt for one object kind.
func (m *Metrics) RecordDictionaryTraining(kind string, trained bool) {
	if m == nil {
		return
	}
	if trained {
		m.DictionaryTrainingsTotal.WithLabelValues(kind).Inc()
	} else {
		m.DictionaryTrainingSkips.WithLabelValues(kind).Inc()
	}
}

// RecordChunkDedup records bytes saved when a chunk insert matched an
// already-stored chunk by content hash.
func (m *Metrics) RecordChunkDedup(bytes int64) {
	if m == nil {
		return
	}
	m.ChunkDedupSavedBytes.Add(float64(bytes))
}
