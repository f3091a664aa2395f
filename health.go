package planbase

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HealthReport combines schema validation with query performance.
type HealthReport struct {
	IsHealthy       bool      `json:"isHealthy"`
	Issues          []string  `json:"issues"`
	Recommendations []string  `json:"recommendations"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// CheckHealth validates the schema, pings the backend and inspects the
// store's query monitor. An average query time above 50ms yields a
// recommendation; more than 10% slow queries is an issue.
func CheckHealth(ctx context.Context, m *Migrator) HealthReport {
	s := m.store
	report := HealthReport{
		Issues:          m.ValidateDatabase(ctx),
		Recommendations: make([]string, 0),
		CheckedAt:       s.now().UTC(),
	}

	if err := s.Ping(ctx); err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("storage backend unavailable: %v", err))
	}

	mon := s.Monitor()
	if avg := mon.AverageQueryTime(Filter{}); avg > DefaultHealthAvgQueryTime {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("average query time %v exceeds %v; check that frequent filters have a declared index",
				avg, DefaultHealthAvgQueryTime))
	}
	if total := mon.TotalQueries(); total > 0 {
		slow := len(mon.SlowQueries())
		if ratio := float64(slow) / float64(total); ratio > DefaultHealthSlowRatio {
			report.Issues = append(report.Issues,
				fmt.Sprintf("%d of %d recent queries (%.0f%%) were slower than %v",
					slow, total, ratio*100, mon.Threshold()))
		}
	}

	report.IsHealthy = len(report.Issues) == 0
	return report
}

// HealthChecker runs CheckHealth on an interval and logs unhealthy reports.
type HealthChecker struct {
	migrator *Migrator
	logger   Logger
	metrics  Metrics
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	last     *HealthReport
}

// NewHealthChecker creates a checker with a five minute interval.
func NewHealthChecker(m *Migrator) *HealthChecker {
	return &HealthChecker{
		migrator: m,
		logger:   m.store.logger,
		metrics:  m.store.metrics,
		interval: 5 * time.Minute,
	}
}

// WithInterval sets the check interval
func (hc *HealthChecker) WithInterval(interval time.Duration) *HealthChecker {
	hc.interval = interval
	return hc
}

// Start begins periodic checks in the background
func (hc *HealthChecker) Start(ctx context.Context) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.running {
		return fmt.Errorf("health checker already running")
	}
	hc.running = true
	hc.stopChan = make(chan struct{})
	stop := hc.stopChan

	go func() {
		ticker := time.NewTicker(hc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				hc.logger.Info("health checker stopped", "reason", "context canceled")
				return
			case <-stop:
				hc.logger.Info("health checker stopped", "reason", "stop requested")
				return
			case <-ticker.C:
				hc.Check(ctx)
			}
		}
	}()

	hc.logger.Info("health checker started", "interval", hc.interval)
	return nil
}

// Stop halts background checks
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.running {
		close(hc.stopChan)
		hc.running = false
	}
}

// Check runs one health check and remembers the result.
func (hc *HealthChecker) Check(ctx context.Context) HealthReport {
	report := CheckHealth(ctx, hc.migrator)
	if report.IsHealthy {
		hc.metrics.Increment(MetricHealthOK)
	} else {
		hc.metrics.Increment(MetricHealthFailed)
		hc.logger.Warn("store unhealthy",
			"issues", report.Issues,
			"recommendations", report.Recommendations)
	}

	hc.mu.Lock()
	hc.last = &report
	hc.mu.Unlock()
	return report
}

// Last returns the most recent report, or nil before the first check.
func (hc *HealthChecker) Last() *HealthReport {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.last
}
