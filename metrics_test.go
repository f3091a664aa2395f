package planbase

import (
	"sync"
	"testing"
	"time"
)

func TestNoOpMetrics(t *testing.T) {
	metrics := &NoOpMetrics{}

	metrics.Increment("test.counter")
	metrics.Gauge("test.gauge", 42.0)
	metrics.Histogram("test.histogram", 100.5)
	metrics.Timing("test.timing", 5*time.Millisecond)
	metrics.Increment("test.counter", "table", "tasks")
}

func TestInMemoryMetrics(t *testing.T) {
	metrics := NewInMemoryMetrics()

	metrics.Increment(MetricPutSuccess)
	metrics.Increment(MetricPutSuccess)
	metrics.Increment(MetricPutError, "table", "tasks")
	metrics.Gauge(MetricSchemaVersion, 3)
	metrics.Gauge(MetricSchemaVersion, 5)
	metrics.Histogram(MetricQueryResults, 4)
	metrics.Histogram(MetricQueryResults, 9)
	metrics.Timing(MetricQueryDuration, 2*time.Millisecond)

	if got := metrics.Counter(MetricPutSuccess); got != 2 {
		t.Errorf("put success = %d, want 2", got)
	}
	if got := metrics.Counter(MetricPutError); got != 1 {
		t.Errorf("put error = %d, want 1", got)
	}
	if got := metrics.Counter("never.touched"); got != 0 {
		t.Errorf("untouched counter = %d, want 0", got)
	}
	if metrics.Gauges[MetricSchemaVersion] != 5 {
		t.Errorf("gauge = %v, want last value 5", metrics.Gauges[MetricSchemaVersion])
	}
	if len(metrics.Histograms[MetricQueryResults]) != 2 {
		t.Errorf("histogram samples = %v", metrics.Histograms[MetricQueryResults])
	}
	if len(metrics.Timings[MetricQueryDuration]) != 1 {
		t.Errorf("timing samples = %v", metrics.Timings[MetricQueryDuration])
	}
}

func TestInMemoryMetricsConcurrent(t *testing.T) {
	metrics := NewInMemoryMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.Increment(MetricGetSuccess)
			metrics.Timing(MetricGetDuration, time.Millisecond)
		}()
	}
	wg.Wait()

	if got := metrics.Counter(MetricGetSuccess); got != 50 {
		t.Errorf("counter = %d, want 50", got)
	}
}
