package planbase

import (
	"sync"
	"time"
)

// Sample is one timed read.
type Sample struct {
	Operation   string        `json:"operation"`
	Table       string        `json:"table"`
	QueryTime   time.Duration `json:"queryTime"`
	Timestamp   time.Time     `json:"timestamp"`
	ResultCount *int          `json:"resultCount,omitempty"`
	Indexed     bool          `json:"indexed"`
}

// Filter narrows AverageQueryTime. Empty fields match everything.
type Filter struct {
	Operation string
	Table     string
}

func (f Filter) match(s Sample) bool {
	return (f.Operation == "" || f.Operation == s.Operation) &&
		(f.Table == "" || f.Table == s.Table)
}

// PerformanceReport is the statistics view of the monitor.
type PerformanceReport struct {
	AverageQueryTime time.Duration `json:"averageQueryTime"`
	SlowQueries      []Sample      `json:"slowQueries"`
	RecentQueries    []Sample      `json:"recentQueries"`
	TotalQueries     int           `json:"totalQueries"`
}

// Monitor keeps the most recent read samples in a fixed-size ring buffer.
// It is observability only: every method on a nil *Monitor is a no-op, and
// repositories behave identically with or without one.
type Monitor struct {
	mu        sync.RWMutex
	samples   []Sample
	next      int
	full      bool
	threshold time.Duration
	logger    Logger
	metrics   Metrics
	now       func() time.Time
}

// NewMonitor creates a monitor holding up to capacity samples. Samples slower
// than threshold are logged as warnings when recorded.
func NewMonitor(capacity int, threshold time.Duration, logger Logger, metrics Metrics) *Monitor {
	if capacity <= 0 {
		capacity = DefaultMonitorCapacity
	}
	if threshold <= 0 {
		threshold = DefaultSlowQueryThreshold
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Monitor{
		samples:   make([]Sample, capacity),
		threshold: threshold,
		logger:    loggerOrNoop(logger),
		metrics:   metrics,
		now:       time.Now,
	}
}

func (m *Monitor) SetLogger(logger Logger) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.logger = loggerOrNoop(logger)
	m.mu.Unlock()
}

func (m *Monitor) SetMetrics(metrics Metrics) {
	if m == nil {
		return
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	m.mu.Lock()
	m.metrics = metrics
	m.mu.Unlock()
}

// SetClock overrides the time source used to time and stamp samples.
func (m *Monitor) SetClock(now func() time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Threshold returns the slow query threshold.
func (m *Monitor) Threshold() time.Duration {
	if m == nil {
		return DefaultSlowQueryThreshold
	}
	return m.threshold
}

// RecordMetrics appends a sample, evicting the oldest when the buffer is full.
func (m *Monitor) RecordMetrics(s Sample) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if s.Timestamp.IsZero() {
		s.Timestamp = m.now()
	}
	m.samples[m.next] = s
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
	logger, metrics := m.logger, m.metrics
	slow := s.QueryTime > m.threshold
	m.mu.Unlock()

	metrics.Timing(MetricQueryDuration, s.QueryTime, "operation", s.Operation, "table", s.Table)
	if s.ResultCount != nil {
		metrics.Histogram(MetricQueryResults, float64(*s.ResultCount), "table", s.Table)
	}
	if slow {
		metrics.Increment(MetricSlowQueries, "operation", s.Operation, "table", s.Table)
		logger.Warn("slow query",
			"operation", s.Operation,
			"table", s.Table,
			"duration", s.QueryTime,
			"indexed", s.Indexed)
	}
}

// Track times fn and records a sample. fn returns the result count.
func (m *Monitor) Track(operation, table string, indexed bool, fn func() (int, error)) error {
	if m == nil {
		_, err := fn()
		return err
	}
	m.mu.RLock()
	now := m.now
	m.mu.RUnlock()

	start := now()
	n, err := fn()
	elapsed := now().Sub(start)

	s := Sample{
		Operation: operation,
		Table:     table,
		QueryTime: elapsed,
		Timestamp: start,
		Indexed:   indexed,
	}
	if err == nil {
		s.ResultCount = &n
	}
	m.RecordMetrics(s)
	return err
}

// ordered returns samples oldest first. Callers hold m.mu.
func (m *Monitor) ordered() []Sample {
	if !m.full {
		return append([]Sample(nil), m.samples[:m.next]...)
	}
	out := make([]Sample, 0, len(m.samples))
	out = append(out, m.samples[m.next:]...)
	return append(out, m.samples[:m.next]...)
}

// Samples returns every buffered sample, oldest first.
func (m *Monitor) Samples() []Sample {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ordered()
}

// AverageQueryTime averages the samples matching f. Zero when none match.
func (m *Monitor) AverageQueryTime(f Filter) time.Duration {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total time.Duration
	var n int
	for _, s := range m.ordered() {
		if f.match(s) {
			total += s.QueryTime
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// SlowQueries returns samples above the slow query threshold, oldest first.
func (m *Monitor) SlowQueries() []Sample {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	slow := make([]Sample, 0)
	for _, s := range m.ordered() {
		if s.QueryTime > m.threshold {
			slow = append(slow, s)
		}
	}
	return slow
}

// RecentQueries returns the n most recent samples, newest first.
func (m *Monitor) RecentQueries(n int) []Sample {
	if m == nil || n <= 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.ordered()
	if n > len(all) {
		n = len(all)
	}
	out := make([]Sample, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		out = append(out, all[i])
	}
	return out
}

// TotalQueries returns the number of buffered samples.
func (m *Monitor) TotalQueries() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.samples)
	}
	return m.next
}

// Report builds the performance report.
func (m *Monitor) Report() PerformanceReport {
	return PerformanceReport{
		AverageQueryTime: m.AverageQueryTime(Filter{}),
		SlowQueries:      m.SlowQueries(),
		RecentQueries:    m.RecentQueries(DefaultRecentQueries),
		TotalQueries:     m.TotalQueries(),
	}
}

// Reset drops every sample.
func (m *Monitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.samples {
		m.samples[i] = Sample{}
	}
	m.next = 0
	m.full = false
}
