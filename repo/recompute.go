package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
)

// tally accumulates the completed work of one target within a period.
type tally struct {
	points    float64
	days      float64
	completed int
	onTime    int
	cycleDays float64
}

func (t *tally) add(task *model.Task) {
	t.points += task.Points()
	switch {
	case task.ActualPersonDays != nil:
		t.days += *task.ActualPersonDays
	case task.EstimatedPersonDays != nil:
		t.days += *task.EstimatedPersonDays
	}
	t.completed++
	done := completedAt(task)
	if !done.After(model.DayStart(task.EndDate).AddDate(0, 0, 1)) {
		t.onTime++
	}
	if cycle := done.Sub(task.StartDate).Hours() / 24; cycle > 0 {
		t.cycleDays += cycle
	}
}

func (t *tally) metric(targetID, targetType, period string, start time.Time, weeks float64) *model.PerformanceMetric {
	m := &model.PerformanceMetric{
		TargetID:             targetID,
		TargetType:           targetType,
		Date:                 start,
		Period:               period,
		StoryPointsCompleted: t.points,
		PersonDaysInvested:   t.days,
		TasksCompleted:       t.completed,
	}
	if t.completed > 0 {
		m.AvgTaskCycleTime = t.cycleDays / float64(t.completed)
		m.QualityScore = float64(t.onTime) / float64(t.completed) * 100
	}
	if t.days > 0 {
		m.EfficiencyScore = t.points / t.days
	}
	if weeks > 0 {
		m.Velocity = t.points / weeks
	}
	return m
}

func completedAt(task *model.Task) time.Time {
	if task.CompletedAt != nil {
		return *task.CompletedAt
	}
	return task.UpdatedAt
}

// rank orders rows by efficiency, best first, and fills Rank and Percentile.
func rank(rows []*model.PerformanceMetric) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].EfficiencyScore != rows[j].EfficiencyScore {
			return rows[i].EfficiencyScore > rows[j].EfficiencyScore
		}
		return rows[i].TargetID < rows[j].TargetID
	})
	n := len(rows)
	for i, row := range rows {
		row.Rank = i + 1
		if n == 1 {
			row.Percentile = 100
		} else {
			row.Percentile = float64(n-row.Rank) / float64(n-1) * 100
		}
	}
}

// Recompute derives member and team metrics for the period containing asOf
// from the tasks completed in it, and upserts them in one transaction.
// Every member and team gets a row, with zeros when nothing was completed.
func (m *Metrics) Recompute(ctx context.Context, period string, asOf time.Time) ([]*model.PerformanceMetric, error) {
	if !model.Periods[period] {
		return nil, fmt.Errorf("%w: unknown period %q", planbase.ErrInvalidData, period)
	}
	began := time.Now()
	start := model.PeriodStart(period, asOf)
	end := model.PeriodEnd(period, start)
	weeks := end.Sub(start).Hours() / (24 * 7)

	var rows []*model.PerformanceMetric
	err := m.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		members, err := m.repos.Members.GetAll(ctx)
		if err != nil {
			return err
		}
		teams, err := m.repos.Teams.GetAll(ctx)
		if err != nil {
			return err
		}
		tasks, err := m.repos.Tasks.FindByStatus(ctx, model.TaskCompleted)
		if err != nil {
			return err
		}

		memberTeam := make(map[string]string, len(members))
		byMember := make(map[string]*tally, len(members))
		for _, x := range members {
			memberTeam[x.ID] = x.TeamID
			byMember[x.ID] = &tally{}
		}
		byTeam := make(map[string]*tally, len(teams))
		for _, x := range teams {
			byTeam[x.ID] = &tally{}
		}

		for _, task := range tasks {
			done := completedAt(task)
			if done.Before(start) || !done.Before(end) {
				continue
			}
			if t, ok := byMember[task.MemberID]; ok {
				t.add(task)
			}
			teamID := task.TeamID
			if teamID == "" {
				teamID = memberTeam[task.MemberID]
			}
			if t, ok := byTeam[teamID]; ok {
				t.add(task)
			}
		}

		memberRows := make([]*model.PerformanceMetric, 0, len(byMember))
		for id, t := range byMember {
			memberRows = append(memberRows, t.metric(id, model.TargetMember, period, start, weeks))
		}
		teamRows := make([]*model.PerformanceMetric, 0, len(byTeam))
		for id, t := range byTeam {
			teamRows = append(teamRows, t.metric(id, model.TargetTeam, period, start, weeks))
		}
		rank(memberRows)
		rank(teamRows)

		rows = append(memberRows, teamRows...)
		_, err = m.BulkUpsert(ctx, rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.store.Metrics().Timing(planbase.MetricRecomputeDuration, time.Since(began))
	m.store.Logger().Info("performance metrics recomputed",
		"period", period,
		"start", start,
		"rows", len(rows))
	return rows, nil
}

// Refresher recomputes metrics on a timer. It reads without coordinating
// with manual Recompute calls, so an overlapping run may upsert rows built
// from a slightly older view of the tasks.
type Refresher struct {
	metrics  *Metrics
	periods  []string
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	runs     int
}

// NewRefresher creates a refresher for periods, defaulting to week and month.
func NewRefresher(m *Metrics, interval time.Duration, periods ...string) *Refresher {
	if len(periods) == 0 {
		periods = []string{model.PeriodWeek, model.PeriodMonth}
	}
	return &Refresher{
		metrics:  m,
		periods:  periods,
		interval: interval,
		now:      m.store.Now,
	}
}

// Start runs Refresh every interval until Stop or ctx is done.
func (r *Refresher) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("%w: refresh interval must be positive", planbase.ErrInvalidConfig)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("metrics refresher already running")
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stopChan, r.done
	logger := r.metrics.store.Logger()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					logger.Warn("metrics refresh failed", "error", err)
				}
			}
		}
	}()

	logger.Info("metrics refresher started", "interval", r.interval, "periods", r.periods)
	return nil
}

// Stop halts the refresher and waits for an in-flight refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopChan)
	r.running = false
	done := r.done
	r.mu.Unlock()
	<-done
}

// Refresh recomputes every configured period once.
func (r *Refresher) Refresh(ctx context.Context) error {
	now := r.now()
	for _, period := range r.periods {
		if _, err := r.metrics.Recompute(ctx, period, now); err != nil {
			return fmt.Errorf("recompute %s: %w", period, err)
		}
	}
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	return nil
}

// Runs reports how many refreshes completed.
func (r *Refresher) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}
