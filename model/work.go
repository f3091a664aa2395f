package model

import "time"

const (
	ProjectPlanning  = "planning"
	ProjectActive    = "active"
	ProjectOnHold    = "onHold"
	ProjectCompleted = "completed"
	ProjectCancelled = "cancelled"
)

var ProjectStatuses = newEnum(ProjectPlanning, ProjectActive, ProjectOnHold, ProjectCompleted, ProjectCancelled)

const (
	TaskPending    = "pending"
	TaskInProgress = "inProgress"
	TaskReview     = "review"
	TaskCompleted  = "completed"
	TaskBlocked    = "blocked"
)

var TaskStatuses = newEnum(TaskPending, TaskInProgress, TaskReview, TaskCompleted, TaskBlocked)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var Priorities = newEnum(PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent)

// Project is a body of work with a date range.
type Project struct {
	Base
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
	Status         string    `json:"status"`
	TaskIDs        []string  `json:"taskIds"`
	TeamIDs        []string  `json:"teamIds"`
	BusinessLineID string    `json:"businessLineId,omitempty"`
}

func (p *Project) Validate() error {
	var c checks
	c.required("name", p.Name)
	c.date("startDate", p.StartDate)
	c.date("endDate", p.EndDate)
	if !p.StartDate.IsZero() && !p.EndDate.IsZero() && p.EndDate.Before(p.StartDate) {
		c.add("endDate", "endDate must not be before startDate")
	}
	c.oneOf("status", p.Status, ProjectStatuses)
	return c.err("project")
}

// Task is a unit of work assigned to one member.
type Task struct {
	Base
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	MemberID            string     `json:"memberId"`
	ProjectID           string     `json:"projectId,omitempty"`
	TeamID              string     `json:"teamId,omitempty"`
	StartDate           time.Time  `json:"startDate"`
	EndDate             time.Time  `json:"endDate"`
	Status              string     `json:"status"`
	Priority            string     `json:"priority,omitempty"`
	StoryPoints         *float64   `json:"storyPoints,omitempty"`
	ActualPersonDays    *float64   `json:"actualPersonDays,omitempty"`
	EstimatedPersonDays *float64   `json:"estimatedPersonDays,omitempty"`
	Tags                []string   `json:"tags,omitempty"`
	Dependencies        []string   `json:"dependencies,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
}

func (t *Task) Validate() error {
	var c checks
	c.required("title", t.Title)
	c.required("memberId", t.MemberID)
	c.date("startDate", t.StartDate)
	c.date("endDate", t.EndDate)
	if !t.StartDate.IsZero() && !t.EndDate.IsZero() && t.EndDate.Before(t.StartDate) {
		c.add("endDate", "endDate must not be before startDate")
	}
	c.oneOf("status", t.Status, TaskStatuses)
	c.optionalOneOf("priority", t.Priority, Priorities)
	c.nonNegative("storyPoints", t.StoryPoints)
	c.nonNegative("actualPersonDays", t.ActualPersonDays)
	c.nonNegative("estimatedPersonDays", t.EstimatedPersonDays)
	for _, dep := range t.Dependencies {
		if dep == "" {
			c.add("dependencies", "dependencies must not contain empty ids")
			break
		}
		if t.ID != "" && dep == t.ID {
			c.add("dependencies", "a task cannot depend on itself")
			break
		}
	}
	return c.err("task")
}

// Points returns story points, zero when unset.
func (t *Task) Points() float64 {
	if t.StoryPoints == nil {
		return 0
	}
	return *t.StoryPoints
}

// IsOverdue reports whether an unfinished task is past its end date.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.Status != TaskCompleted && t.EndDate.Before(now)
}
