package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// counterValue sums the samples of name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestTrackerCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Track("custody:replay").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("custody:replay").End(boom), boom)

	require.Equal(t, 1.0, counterValue(t, reg, "custody_jobs_total", map[string]string{"job": "custody:replay", "status": "success"}))
	require.Equal(t, 1.0, counterValue(t, reg, "custody_jobs_total", map[string]string{"job": "custody:replay", "status": "failure"}))
	require.Equal(t, 1.0, counterValue(t, reg, "custody_jobs_failures_total", map[string]string{"job": "custody:replay"}))
}

func TestCountersIgnoreNonPositive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddDrift(0)
	m.AddDrift(2)
	m.AddPurged(-1)
	m.AddPurged(5)
	require.Equal(t, 2.0, counterValue(t, reg, "custody_card_drift_total", nil))
	require.Equal(t, 5.0, counterValue(t, reg, "custody_idempotency_keys_purged_total", nil))

	var nilMetrics *Metrics
	nilMetrics.AddDrift(1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
