package testsupport

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GetMetricValue reads a metric from the default registry. Counters and gauges
// return their value, histograms their sample count. Labels not listed in
// labels are ignored; the first matching series wins. A metric that was never
// observed reads as 0.
func GetMetricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err, "failed to gather metrics")

	family, ok := lo.Find(families, func(mf *dto.MetricFamily) bool { return mf.GetName() == name })
	if !ok {
		return 0
	}

	for _, m := range family.GetMetric() {
		if !hasLabels(m, labels) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	have := lo.SliceToMap(m.GetLabel(), func(p *dto.LabelPair) (string, string) {
		return p.GetName(), p.GetValue()
	})
	for k, v := range want {
		if got, ok := have[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// AssertMetricDelta runs fn and asserts the metric moved by exactly delta.
func AssertMetricDelta(t *testing.T, name string, labels map[string]string, delta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, name, labels)
	fn()
	after := GetMetricValue(t, name, labels)

	assert.Equal(t, delta, after-before, "metric %s%v delta mismatch", name, labels)
}

// AssertMetricDeltaAsync runs fn and waits up to two seconds for the metric to
// move by delta. Used for background workers.
func AssertMetricDeltaAsync(t *testing.T, name string, labels map[string]string, delta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, name, labels)
	fn()

	require.Eventually(t, func() bool {
		return GetMetricValue(t, name, labels) == before+delta
	}, 2*time.Second, 50*time.Millisecond, "metric %s%v never moved by %.0f", name, labels, delta)
}

// AssertHistogramRecorded asserts the histogram holds at least one sample.
func AssertHistogramRecorded(t *testing.T, name string, labels map[string]string) {
	t.Helper()

	assert.Positive(t, GetMetricValue(t, name, labels), "histogram %s%v has no samples", name, labels)
}
