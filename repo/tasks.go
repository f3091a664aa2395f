package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
)

// Tasks stores tasks. Every write checks that the member exists and that the
// project, team and dependencies exist when set, and keeps Project.TaskIDs
// in step with Task.ProjectID.
type Tasks struct {
	*Collection[model.Task, *model.Task]
	repos *Repositories
}

func newTasks(r *Repositories) *Tasks {
	t := &Tasks{
		Collection: newCollection[model.Task](r.Store, model.Tasks, "task",
			func(x *model.Task) []string {
				return append([]string{x.Title, x.Description}, x.Tags...)
			}),
		repos: r,
	}
	t.hooks = hooks[*model.Task]{
		beforeWrite:  t.beforeWrite,
		afterWrite:   t.afterWrite,
		beforeDelete: t.beforeDelete,
	}
	return t
}

func (t *Tasks) beforeWrite(ctx context.Context, old, updated *model.Task) error {
	var fields []planbase.FieldError
	check := func(field, collection, target, id, prev string) error {
		if id == "" || (old != nil && id == prev) {
			return nil
		}
		ok, err := t.store.Exists(ctx, collection, id)
		if err != nil {
			return err
		}
		if !ok {
			fields = append(fields, planbase.FieldError{
				Field:   field,
				Message: fmt.Sprintf("%s %s does not exist", target, id),
			})
		}
		return nil
	}
	var prev model.Task
	if old != nil {
		prev = *old
	}
	if err := check("memberId", model.Members, "member", updated.MemberID, prev.MemberID); err != nil {
		return err
	}
	if err := check("projectId", model.Projects, "project", updated.ProjectID, prev.ProjectID); err != nil {
		return err
	}
	if err := check("teamId", model.Teams, "team", updated.TeamID, prev.TeamID); err != nil {
		return err
	}
	for _, dep := range updated.Dependencies {
		known := ""
		if contains(prev.Dependencies, dep) {
			known = dep
		}
		if err := check("dependencies", model.Tasks, "task", dep, known); err != nil {
			return err
		}
	}
	if len(fields) > 0 {
		return planbase.NewValidationError("task", fields)
	}

	wasCompleted := old != nil && old.Status == model.TaskCompleted
	switch {
	case updated.Status == model.TaskCompleted && !wasCompleted:
		// A task created completed keeps its recorded timestamp.
		if old == nil && updated.CompletedAt != nil {
			break
		}
		now := t.store.Now().UTC()
		updated.CompletedAt = &now
	case old == nil:
		updated.CompletedAt = nil
	case old.CompletedAt != nil && updated.CompletedAt == nil:
		updated.CompletedAt = old.CompletedAt
	}
	return nil
}

func (t *Tasks) afterWrite(ctx context.Context, old, updated *model.Task) error {
	prev := ""
	if old != nil {
		prev = old.ProjectID
	}
	if prev == updated.ProjectID {
		return nil
	}
	tx := planbase.TxFromContext(ctx)
	if err := t.repos.Projects.unlinkTask(ctx, tx, prev, updated.ID); err != nil {
		return err
	}
	return t.repos.Projects.linkTask(ctx, tx, updated.ProjectID, updated.ID)
}

func (t *Tasks) beforeDelete(ctx context.Context, old *model.Task) error {
	dependents, err := t.dependents(ctx, old.ID)
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		return &planbase.ReferentialIntegrityError{
			Entity:    "task",
			ID:        old.ID,
			Dependent: model.Tasks,
			Count:     len(dependents),
		}
	}
	return t.repos.Projects.unlinkTask(ctx, planbase.TxFromContext(ctx), old.ProjectID, old.ID)
}

// dependents returns the tasks that list id as a dependency. Dependency
// lists are not indexed, so this scans.
func (t *Tasks) dependents(ctx context.Context, id string) ([]*model.Task, error) {
	all, err := t.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Task
	for _, x := range all {
		if contains(x.Dependencies, id) {
			out = append(out, x)
		}
	}
	return out, nil
}

func (t *Tasks) FindByProject(ctx context.Context, projectID string) ([]*model.Task, error) {
	return t.FindBy(ctx, model.TaskByProject, projectID)
}

func (t *Tasks) FindByMember(ctx context.Context, memberID string) ([]*model.Task, error) {
	return t.FindBy(ctx, model.TaskByMember, memberID)
}

func (t *Tasks) FindByTeam(ctx context.Context, teamID string) ([]*model.Task, error) {
	return t.FindBy(ctx, model.TaskByTeam, teamID)
}

func (t *Tasks) FindByStatus(ctx context.Context, status string) ([]*model.Task, error) {
	return t.FindBy(ctx, model.TaskByStatus, status)
}

// FindByProjectAndStatus uses the [projectId+status] index.
func (t *Tasks) FindByProjectAndStatus(ctx context.Context, projectID, status string) ([]*model.Task, error) {
	return t.FindBy(ctx, model.TaskByProjectStatus, projectID, status)
}

// FindByMemberAndStatus uses the [memberId+status] index.
func (t *Tasks) FindByMemberAndStatus(ctx context.Context, memberID, status string) ([]*model.Task, error) {
	return t.FindBy(ctx, model.TaskByMemberStatus, memberID, status)
}

// FindByTeamAndStatus uses the [teamId+status] index.
func (t *Tasks) FindByTeamAndStatus(ctx context.Context, teamID, status string) ([]*model.Task, error) {
	return t.FindBy(ctx, model.TaskByTeamStatus, teamID, status)
}

// FindByMemberInRange returns the member's tasks whose [startDate, endDate]
// touches [from, to].
func (t *Tasks) FindByMemberInRange(ctx context.Context, memberID string, from, to time.Time) ([]*model.Task, error) {
	tasks, err := t.FindByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Task, 0, len(tasks))
	for _, x := range tasks {
		if x.StartDate.After(to) || x.EndDate.Before(from) {
			continue
		}
		out = append(out, x)
	}
	return out, nil
}

// FindOverdue returns unfinished tasks whose end date has passed.
func (t *Tasks) FindOverdue(ctx context.Context) ([]*model.Task, error) {
	all, err := t.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	now := t.store.Now()
	out := make([]*model.Task, 0)
	for _, x := range all {
		if x.IsOverdue(now) {
			out = append(out, x)
		}
	}
	return out, nil
}

// UpdateStatus changes a task's status. Moving to completed stamps
// CompletedAt; moving away keeps it.
func (t *Tasks) UpdateStatus(ctx context.Context, id, status string) (*model.Task, error) {
	return t.Update(ctx, id, func(x *model.Task) error {
		x.Status = status
		return nil
	})
}

// TaskStats summarizes tasks.
type TaskStats struct {
	Total                int            `json:"total"`
	ByStatus             map[string]int `json:"byStatus"`
	ByPriority           map[string]int `json:"byPriority"`
	Overdue              int            `json:"overdue"`
	StoryPoints          float64        `json:"storyPoints"`
	CompletedStoryPoints float64        `json:"completedStoryPoints"`
	CompletionRate       float64        `json:"completionRate"`
}

func (t *Tasks) Stats(ctx context.Context) (TaskStats, error) {
	all, err := t.GetAll(ctx)
	if err != nil {
		return TaskStats{}, err
	}
	now := t.store.Now()
	stats := TaskStats{
		Total:      len(all),
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}
	for _, x := range all {
		stats.ByStatus[x.Status]++
		if x.Priority != "" {
			stats.ByPriority[x.Priority]++
		}
		if x.IsOverdue(now) {
			stats.Overdue++
		}
		stats.StoryPoints += x.Points()
		if x.Status == model.TaskCompleted {
			stats.CompletedStoryPoints += x.Points()
		}
	}
	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.ByStatus[model.TaskCompleted]) / float64(stats.Total) * 100
	}
	return stats, nil
}
