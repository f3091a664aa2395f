package planbase

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sample(op, table string, d time.Duration) Sample {
	return Sample{Operation: op, Table: table, QueryTime: d}
}

func TestMonitor_RingBufferEvictsOldest(t *testing.T) {
	m := NewMonitor(3, 100*time.Millisecond, nil, nil)

	for i := 1; i <= 5; i++ {
		m.RecordMetrics(sample("find", "tasks", time.Duration(i)*time.Millisecond))
	}

	if got := m.TotalQueries(); got != 3 {
		t.Fatalf("TotalQueries = %d, want 3", got)
	}
	samples := m.Samples()
	for i, want := range []time.Duration{3, 4, 5} {
		if samples[i].QueryTime != want*time.Millisecond {
			t.Errorf("samples[%d] = %v, want %v", i, samples[i].QueryTime, want*time.Millisecond)
		}
	}

	recent := m.RecentQueries(2)
	if len(recent) != 2 || recent[0].QueryTime != 5*time.Millisecond || recent[1].QueryTime != 4*time.Millisecond {
		t.Errorf("RecentQueries(2) = %+v", recent)
	}
	if len(m.RecentQueries(10)) != 3 {
		t.Errorf("RecentQueries(10) should cap at the buffered count")
	}
}

func TestMonitor_SlowQueries(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	metrics := NewInMemoryMetrics()
	m := NewMonitor(10, 10*time.Millisecond, NewZapLogger(zap.New(core)), metrics)

	m.RecordMetrics(sample("find", "tasks", 5*time.Millisecond))
	m.RecordMetrics(sample("find", "tasks", 25*time.Millisecond))
	m.RecordMetrics(sample("get", "members", 10*time.Millisecond))

	slow := m.SlowQueries()
	if len(slow) != 1 || slow[0].QueryTime != 25*time.Millisecond {
		t.Errorf("SlowQueries = %+v", slow)
	}
	if metrics.Counter(MetricSlowQueries) != 1 {
		t.Errorf("slow counter = %d, want 1", metrics.Counter(MetricSlowQueries))
	}
	if len(metrics.Timings[MetricQueryDuration]) != 3 {
		t.Errorf("durations recorded = %d, want 3", len(metrics.Timings[MetricQueryDuration]))
	}

	entries := logs.FilterMessage("slow query").All()
	if len(entries) != 1 {
		t.Fatalf("slow query warnings = %d, want 1", len(entries))
	}
	if entries[0].ContextMap()["table"] != "tasks" {
		t.Errorf("warning fields = %v", entries[0].ContextMap())
	}
}

func TestMonitor_AverageQueryTime(t *testing.T) {
	m := NewMonitor(10, time.Second, nil, nil)
	m.RecordMetrics(sample("find", "tasks", 10*time.Millisecond))
	m.RecordMetrics(sample("find", "tasks", 30*time.Millisecond))
	m.RecordMetrics(sample("get", "tasks", 50*time.Millisecond))
	m.RecordMetrics(sample("find", "members", 90*time.Millisecond))

	tests := []struct {
		name   string
		filter Filter
		want   time.Duration
	}{
		{"all", Filter{}, 45 * time.Millisecond},
		{"operation", Filter{Operation: "find"}, 130 * time.Millisecond / 3},
		{"table", Filter{Table: "tasks"}, 30 * time.Millisecond},
		{"both", Filter{Operation: "find", Table: "tasks"}, 20 * time.Millisecond},
		{"no match", Filter{Table: "teams"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.AverageQueryTime(tt.filter); got != tt.want {
				t.Errorf("AverageQueryTime = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonitor_Track(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	calls := 0
	m := NewMonitor(10, time.Second, nil, nil)
	m.SetClock(func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 5 * time.Millisecond)
	})

	if err := m.Track("find", "tasks", true, func() (int, error) { return 7, nil }); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if err := m.Track("get", "tasks", false, func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("Track error = %v, want boom", err)
	}

	samples := m.Samples()
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}
	first := samples[0]
	if first.QueryTime != 5*time.Millisecond || !first.Indexed || first.ResultCount == nil || *first.ResultCount != 7 {
		t.Errorf("first sample = %+v", first)
	}
	if !first.Timestamp.Equal(base.Add(5 * time.Millisecond)) {
		t.Errorf("timestamp = %v", first.Timestamp)
	}
	if samples[1].ResultCount != nil {
		t.Error("failed read should not carry a result count")
	}
}

func TestMonitor_ReportAndReset(t *testing.T) {
	m := NewMonitor(20, 10*time.Millisecond, nil, nil)
	for i := 0; i < 15; i++ {
		m.RecordMetrics(sample("find", "tasks", time.Duration(i)*time.Millisecond))
	}

	report := m.Report()
	if report.TotalQueries != 15 {
		t.Errorf("TotalQueries = %d", report.TotalQueries)
	}
	if len(report.RecentQueries) != DefaultRecentQueries {
		t.Errorf("RecentQueries = %d, want %d", len(report.RecentQueries), DefaultRecentQueries)
	}
	if len(report.SlowQueries) != 4 {
		t.Errorf("SlowQueries = %d, want 4", len(report.SlowQueries))
	}
	if report.AverageQueryTime != 7*time.Millisecond {
		t.Errorf("AverageQueryTime = %v", report.AverageQueryTime)
	}

	m.Reset()
	if m.TotalQueries() != 0 || len(m.Samples()) != 0 {
		t.Error("Reset left samples behind")
	}
}

func TestMonitor_NilIsNoOp(t *testing.T) {
	var m *Monitor

	m.RecordMetrics(sample("find", "tasks", time.Second))
	m.SetLogger(nil)
	m.SetMetrics(nil)
	m.Reset()
	ran := false
	if err := m.Track("find", "tasks", false, func() (int, error) { ran = true; return 1, nil }); err != nil || !ran {
		t.Errorf("Track on nil monitor = %v, ran %v", err, ran)
	}
	if m.TotalQueries() != 0 || m.AverageQueryTime(Filter{}) != 0 || m.SlowQueries() != nil {
		t.Error("nil monitor reported samples")
	}
	if m.Threshold() != DefaultSlowQueryThreshold {
		t.Errorf("Threshold = %v", m.Threshold())
	}
	if r := m.Report(); r.TotalQueries != 0 {
		t.Errorf("Report = %+v", r)
	}
}
