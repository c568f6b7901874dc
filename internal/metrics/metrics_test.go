package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAccumulates(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter(MetricWebhooksReceived, map[string]string{"platform": "groupme"}, "inbound webhooks")
	r.IncrementCounter(MetricWebhooksReceived, map[string]string{"platform": "groupme"}, "inbound webhooks")
	r.AddToCounter(MetricWebhooksReceived, 3, map[string]string{"platform": "groupme"}, "inbound webhooks")

	all := r.GetAllMetrics()
	counters := all["counters"].(map[string]*Metric)
	require.Len(t, counters, 1)
	for _, c := range counters {
		assert.Equal(t, MetricWebhooksReceived, c.Name)
		assert.Equal(t, float64(5), c.Value)
	}
}

func TestCounterLabelsSeparateSeries(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter(MetricBroadcastsSent, map[string]string{"platform": "groupme"}, "")
	r.IncrementCounter(MetricBroadcastsSent, map[string]string{"platform": "teams"}, "")

	counters := r.GetAllMetrics()["counters"].(map[string]*Metric)
	assert.Len(t, counters, 2)
}

func TestMetricKeyIsDeterministic(t *testing.T) {
	a := metricKey("m", map[string]string{"x": "1", "y": "2", "z": "3"})
	b := metricKey("m", map[string]string{"z": "3", "x": "1", "y": "2"})
	assert.Equal(t, a, b)
}

func TestTimerStatistics(t *testing.T) {
	r := NewRegistry()

	for i := 1; i <= 10; i++ {
		r.RecordTimer(MetricWebhookDuration, time.Duration(i)*time.Millisecond, nil)
	}

	timers := r.GetAllMetrics()["timers"].(map[string]*TimerMetric)
	require.Len(t, timers, 1)
	timer := timers[MetricWebhookDuration]
	require.NotNil(t, timer)

	assert.Equal(t, int64(10), timer.Count)
	assert.Equal(t, float64(1), timer.Min)
	assert.Equal(t, float64(10), timer.Max)
	assert.InDelta(t, 5.5, timer.Average, 0.001)
	assert.Greater(t, timer.P95, timer.Average)
}

func TestGaugeOverwrites(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("active_mappings", 10, nil, "active channel mappings")
	r.SetGauge("active_mappings", 7, nil, "active channel mappings")

	gauges := r.GetAllMetrics()["gauges"].(map[string]*Metric)
	require.Len(t, gauges, 1)
	assert.Equal(t, float64(7), gauges["active_mappings"].Value)
}

func TestGetAllMetricsReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("c", nil, "")

	snap := r.GetAllMetrics()
	counters := snap["counters"].(map[string]*Metric)
	counters["c"].Value = 999

	fresh := r.GetAllMetrics()["counters"].(map[string]*Metric)
	assert.Equal(t, float64(1), fresh["c"].Value)
}

func TestConcurrentUpdatesAreSafe(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				r.IncrementCounter("concurrent", nil, "")
				r.RecordTimer("concurrent_timer", time.Millisecond, nil)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	counters := r.GetAllMetrics()["counters"].(map[string]*Metric)
	assert.Equal(t, float64(800), counters["concurrent"].Value)
}
