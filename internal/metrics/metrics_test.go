package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Review("applied")
	m.Review("applied")
	m.Review("duplicate")
	m.Chunk("recompute", true)
	m.Chunk("recompute", false)
	m.Conflict("rollup")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reviews.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reviews.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchChunks.WithLabelValues("recompute", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("rollup")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Review("applied")
		m.Retry("get", nil)
		m.Chunk("reset", true)
		m.Conflict("card")
		m.Inconsistent()
		m.ObserveJob("reset", 1)
	})
}
