package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Outcome("create", "confirmed")
	m.Outcome("create", "confirmed")
	m.Compensation("ok")
	m.Cache("availability", "hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutcomeCounter("create", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompensationCounter("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheCounter("availability", "hit")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Outcome("create", "confirmed")
		m.Compensation("failed")
		m.Cache("ledger", "error")
	})
}
