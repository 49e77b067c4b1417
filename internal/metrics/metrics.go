// Package metrics holds the prometheus collectors of the study engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Reviews         *prometheus.CounterVec
	StoreRetries    *prometheus.CounterVec
	BatchChunks     *prometheus.CounterVec
	Conflicts       *prometheus.CounterVec
	Inconsistencies prometheus.Counter
	JobDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentalsrs",
			Name:      "reviews_total",
			Help:      "Submitted reviews by outcome.",
		}, []string{"outcome"}),
		StoreRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentalsrs",
			Name:      "store_retries_total",
			Help:      "Retried document store operations.",
		}, []string{"op"}),
		BatchChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentalsrs",
			Name:      "batch_chunks_total",
			Help:      "Committed or failed batch chunks per job.",
		}, []string{"job", "result"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentalsrs",
			Name:      "version_conflicts_total",
			Help:      "Optimistic version conflicts by document kind.",
		}, []string{"kind"}),
		Inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dentalsrs",
			Name:      "rollup_inconsistencies_total",
			Help:      "Audits where the stored rollup disagreed with a recompute.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dentalsrs",
			Name:      "job_duration_seconds",
			Help:      "Duration of maintenance jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job"}),
	}
	if reg != nil {
		reg.MustRegister(m.Reviews, m.StoreRetries, m.BatchChunks, m.Conflicts, m.Inconsistencies, m.JobDuration)
	}
	return m
}

// Review counts a review outcome: applied, duplicate, invalid or failed.
func (m *Metrics) Review(outcome string) {
	if m == nil {
		return
	}
	m.Reviews.WithLabelValues(outcome).Inc()
}

// Retry counts a retried store operation.
func (m *Metrics) Retry(op string, _ error) {
	if m == nil {
		return
	}
	m.StoreRetries.WithLabelValues(op).Inc()
}

// Chunk counts a batch chunk.
func (m *Metrics) Chunk(job string, ok bool) {
	if m == nil {
		return
	}
	result := "committed"
	if !ok {
		result = "failed"
	}
	m.BatchChunks.WithLabelValues(job, result).Inc()
}

// Conflict counts a version conflict on a card or rollup write.
func (m *Metrics) Conflict(kind string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(kind).Inc()
}

// Inconsistent counts a failed audit.
func (m *Metrics) Inconsistent() {
	if m == nil {
		return
	}
	m.Inconsistencies.Inc()
}

// ObserveJob records how long a job ran.
func (m *Metrics) ObserveJob(job string, seconds float64) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(job).Observe(seconds)
}
