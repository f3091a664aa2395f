package model

import "time"

const (
	TargetMember = "member"
	TargetTeam   = "team"
)

var TargetTypes = newEnum(TargetMember, TargetTeam)

const (
	PeriodWeek    = "week"
	PeriodMonth   = "month"
	PeriodQuarter = "quarter"
	PeriodYear    = "year"
)

var Periods = newEnum(PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear)

// PerformanceMetric is derived data for one member or team over one period.
// It is identified by (TargetID, Date, Period) and only ever upserted.
type PerformanceMetric struct {
	Base
	TargetID             string    `json:"targetId"`
	TargetType           string    `json:"targetType"`
	Date                 time.Time `json:"date"`
	Period               string    `json:"period"`
	StoryPointsCompleted float64   `json:"storyPointsCompleted"`
	PersonDaysInvested   float64   `json:"personDaysInvested"`
	TasksCompleted       int       `json:"tasksCompleted"`
	AvgTaskCycleTime     float64   `json:"avgTaskCycleTime"` // days
	EfficiencyScore      float64   `json:"efficiencyScore"`
	Velocity             float64   `json:"velocity"`
	QualityScore         float64   `json:"qualityScore"`
	Rank                 int       `json:"rank"`
	Percentile           float64   `json:"percentile"`
}

func (p *PerformanceMetric) Validate() error {
	var c checks
	c.required("targetId", p.TargetID)
	c.oneOf("targetType", p.TargetType, TargetTypes)
	c.oneOf("period", p.Period, Periods)
	c.date("date", p.Date)
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"storyPointsCompleted", p.StoryPointsCompleted},
		{"personDaysInvested", p.PersonDaysInvested},
		{"avgTaskCycleTime", p.AvgTaskCycleTime},
		{"efficiencyScore", p.EfficiencyScore},
		{"velocity", p.Velocity},
	} {
		if f.v < 0 {
			c.add(f.name, "%s must not be negative", f.name)
		}
	}
	if p.TasksCompleted < 0 {
		c.add("tasksCompleted", "tasksCompleted must not be negative")
	}
	if p.QualityScore < 0 || p.QualityScore > 100 {
		c.add("qualityScore", "qualityScore must be between 0 and 100")
	}
	if p.Percentile < 0 || p.Percentile > 100 {
		c.add("percentile", "percentile must be between 0 and 100")
	}
	return c.err("performanceMetric")
}

// PeriodStart returns the start of the period containing t, in UTC.
// Weeks start on Monday.
func PeriodStart(period string, t time.Time) time.Time {
	d := DayStart(t)
	switch period {
	case PeriodWeek:
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodQuarter:
		q := (int(d.Month()) - 1) / 3
		return time.Date(d.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	case PeriodYear:
		return time.Date(d.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return d
}

// PeriodEnd returns the exclusive end of the period starting at start.
func PeriodEnd(period string, start time.Time) time.Time {
	switch period {
	case PeriodWeek:
		return start.AddDate(0, 0, 7)
	case PeriodMonth:
		return start.AddDate(0, 1, 0)
	case PeriodQuarter:
		return start.AddDate(0, 3, 0)
	case PeriodYear:
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 0, 1)
}
