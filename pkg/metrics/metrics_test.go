package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.SolvesTotal.WithLabelValues("converged").Inc()
	m.SolvesTotal.WithLabelValues("converged").Inc()
	m.SolvesTotal.WithLabelValues("not_converged").Inc()
	m.SolveIterations.Observe(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SolvesTotal.WithLabelValues("converged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SolvesTotal.WithLabelValues("not_converged")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SolveIterations))
}

func TestNewWithRegistry_Isolated(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}
