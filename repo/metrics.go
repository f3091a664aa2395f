package repo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
)

// Metrics stores performance metrics. Rows are derived data keyed by
// (targetId, date, period) and written through Upsert.
type Metrics struct {
	*Collection[model.PerformanceMetric, *model.PerformanceMetric]
	repos *Repositories
}

func newMetrics(r *Repositories) *Metrics {
	return &Metrics{
		Collection: newCollection[model.PerformanceMetric](r.Store, model.PerformanceMetrics, "performanceMetric", nil),
		repos:      r,
	}
}

// Upsert stores metric under its (targetId, date, period) key, replacing the
// row already stored under that key. Date is truncated to midnight UTC.
func (m *Metrics) Upsert(ctx context.Context, metric *model.PerformanceMetric) (*model.PerformanceMetric, error) {
	if metric == nil {
		return nil, fmt.Errorf("%w: performanceMetric cannot be nil", planbase.ErrInvalidData)
	}
	row, err := clone[model.PerformanceMetric](metric)
	if err != nil {
		return nil, err
	}
	row.Date = model.DayStart(row.Date)

	var stored *model.PerformanceMetric
	err = m.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		found, err := m.FindBy(ctx, model.MetricByKey, row.TargetID, row.Date, row.Period)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			stored, err = m.Create(ctx, row)
			return err
		}
		stored = row
		return m.replace(ctx, tx, found[0], row)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// BulkUpsert upserts every metric in one transaction. Either all rows are
// written or none.
func (m *Metrics) BulkUpsert(ctx context.Context, metrics []*model.PerformanceMetric) (int, error) {
	err := m.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		for i, metric := range metrics {
			if _, err := m.Upsert(ctx, metric); err != nil {
				return fmt.Errorf("metric %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(metrics), nil
}

func (m *Metrics) FindByTarget(ctx context.Context, targetID string) ([]*model.PerformanceMetric, error) {
	return m.FindBy(ctx, model.MetricByTarget, targetID)
}

// FindByTargetAndPeriod has no exact index and narrows through targetId.
func (m *Metrics) FindByTargetAndPeriod(ctx context.Context, targetID, period string) ([]*model.PerformanceMetric, error) {
	return m.FindBy(ctx, model.MetricByTargetPeriod, targetID, period)
}

// Rankings returns the metrics of one target type for the period starting
// on date, ordered by rank.
func (m *Metrics) Rankings(ctx context.Context, targetType, period string, date time.Time) ([]*model.PerformanceMetric, error) {
	rows, err := m.FindBy(ctx, model.MetricByTypePeriod, targetType, period)
	if err != nil {
		return nil, err
	}
	day := model.DayStart(date)
	out := make([]*model.PerformanceMetric, 0, len(rows))
	for _, row := range rows {
		if row.Date.Equal(day) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, nil
}
