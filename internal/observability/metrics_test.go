package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordEvent("bluesky")
	m.RecordEvent("bluesky")
	m.RecordSkip("low_liquidity")
	m.RecordExit("tp1")
	m.RecordOracleCall(time.Second, errors.New("boom"))
	m.UpdatePortfolio(3, 1.25)
	m.SetBreakerOpen(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("bluesky")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsSkipped.WithLabelValues("low_liquidity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exits.WithLabelValues("tp1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OracleErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OpenPositions))
	assert.Equal(t, 1.25, testutil.ToFloat64(m.InvestedCapital))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerOpen))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEvent("x")
		m.RecordSplit("failed")
		m.RecordCycle("position", time.Second)
		m.SetBreakerOpen(false)
	})
}
