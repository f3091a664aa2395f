package planbase

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCheckHealth_Healthy(t *testing.T) {
	_, m := newTestStore(t)

	report := CheckHealth(context.Background(), m)
	if !report.IsHealthy {
		t.Errorf("expected healthy, issues: %v", report.Issues)
	}
	if len(report.Recommendations) != 0 {
		t.Errorf("recommendations = %v", report.Recommendations)
	}
}

func TestCheckHealth_Unmigrated(t *testing.T) {
	store := NewStore(NewMemoryBackend(), testSchema())
	m, err := NewMigrator(store, testSteps())
	if err != nil {
		t.Fatal(err)
	}

	report := CheckHealth(context.Background(), m)
	if report.IsHealthy {
		t.Fatal("unmigrated store reported healthy")
	}
	if !containsIssue(report.Issues, "schema state is unmigrated") {
		t.Errorf("issues = %v", report.Issues)
	}
}

func TestCheckHealth_SlowQueries(t *testing.T) {
	store, m := newTestStore(t)
	mon := store.Monitor()

	for i := 0; i < 8; i++ {
		mon.RecordMetrics(sample("find", "tasks", 5*time.Millisecond))
	}
	mon.RecordMetrics(sample("find", "tasks", 400*time.Millisecond))
	mon.RecordMetrics(sample("find", "tasks", 300*time.Millisecond))

	report := CheckHealth(context.Background(), m)
	if report.IsHealthy {
		t.Fatal("20% slow queries should be unhealthy")
	}
	if !containsIssue(report.Issues, "2 of 10 recent queries") {
		t.Errorf("issues = %v", report.Issues)
	}
	if len(report.Recommendations) != 1 || !strings.Contains(report.Recommendations[0], "average query time") {
		t.Errorf("recommendations = %v", report.Recommendations)
	}
}

func TestHealthChecker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, m := newTestStore(t)
	metrics := NewInMemoryMetrics()
	store.SetMetrics(metrics)

	checker := NewHealthChecker(m).WithInterval(time.Hour)
	if checker.Last() != nil {
		t.Error("Last should be nil before the first check")
	}

	report := checker.Check(ctx)
	if !report.IsHealthy {
		t.Errorf("issues = %v", report.Issues)
	}
	if checker.Last() == nil || !checker.Last().IsHealthy {
		t.Error("Last did not keep the report")
	}
	if metrics.Counter(MetricHealthOK) != 1 {
		t.Errorf("health ok counter = %d, want 1", metrics.Counter(MetricHealthOK))
	}

	if err := checker.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := checker.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	checker.Stop()
	checker.Stop()
}
