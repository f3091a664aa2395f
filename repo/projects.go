package repo

import (
	"context"
	"time"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
)

// Projects stores projects. TaskIDs follows Task.ProjectID and TeamIDs is
// changed through AssignTeam and UnassignTeam only.
type Projects struct {
	*Collection[model.Project, *model.Project]
	repos *Repositories
}

func newProjects(r *Repositories) *Projects {
	p := &Projects{
		Collection: newCollection[model.Project](r.Store, model.Projects, "project",
			func(x *model.Project) []string { return []string{x.Name, x.Description} }),
		repos: r,
	}
	p.hooks = hooks[*model.Project]{
		beforeWrite: func(ctx context.Context, old, updated *model.Project) error {
			prev := ""
			if old != nil {
				prev = old.BusinessLineID
			}
			if err := requireChangedRef(ctx, p.store, "project", "businessLineId", model.BusinessLines, "business line", prev, updated.BusinessLineID); err != nil {
				return err
			}
			if old != nil {
				updated.TaskIDs = old.TaskIDs
				updated.TeamIDs = old.TeamIDs
				return nil
			}
			teams, err := existing(ctx, p.store, model.Teams, updated.TeamIDs)
			if err != nil {
				return err
			}
			updated.TaskIDs = []string{}
			updated.TeamIDs = teams
			return nil
		},
		afterWrite: func(ctx context.Context, old, updated *model.Project) error {
			if old != nil {
				return nil
			}
			tx := planbase.TxFromContext(ctx)
			for _, id := range updated.TeamIDs {
				if err := r.Teams.linkProject(ctx, tx, id, updated.ID); err != nil {
					return err
				}
			}
			return nil
		},
		beforeDelete: func(ctx context.Context, old *model.Project) error {
			if err := guard(ctx, p.store, "project", old.ID, model.Tasks, model.TaskByProject); err != nil {
				return err
			}
			tx := planbase.TxFromContext(ctx)
			for _, id := range old.TeamIDs {
				if err := r.Teams.unlinkProject(ctx, tx, id, old.ID); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return p
}

func (p *Projects) FindByStatus(ctx context.Context, status string) ([]*model.Project, error) {
	return p.FindBy(ctx, model.ProjectByStatus, status)
}

func (p *Projects) FindByBusinessLine(ctx context.Context, businessLineID string) ([]*model.Project, error) {
	return p.FindBy(ctx, model.ProjectByBusinessLine, businessLineID)
}

// FindActiveBetween returns the projects whose date range touches [from, to]
// and that are neither completed nor cancelled.
func (p *Projects) FindActiveBetween(ctx context.Context, from, to time.Time) ([]*model.Project, error) {
	all, err := p.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Project, 0)
	for _, x := range all {
		if x.Status == model.ProjectCompleted || x.Status == model.ProjectCancelled {
			continue
		}
		if x.StartDate.After(to) || x.EndDate.Before(from) {
			continue
		}
		out = append(out, x)
	}
	return out, nil
}

// AssignTeam links a project and a team on both sides.
func (p *Projects) AssignTeam(ctx context.Context, projectID, teamID string) error {
	return p.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		if _, err := p.GetByID(ctx, projectID); err != nil {
			return err
		}
		if _, err := p.repos.Teams.GetByID(ctx, teamID); err != nil {
			return err
		}
		if err := p.linkTeam(ctx, tx, projectID, teamID); err != nil {
			return err
		}
		return p.repos.Teams.linkProject(ctx, tx, teamID, projectID)
	})
}

// UnassignTeam removes the link created by AssignTeam.
func (p *Projects) UnassignTeam(ctx context.Context, projectID, teamID string) error {
	return p.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		if _, err := p.GetByID(ctx, projectID); err != nil {
			return err
		}
		if err := p.unlinkTeam(ctx, tx, projectID, teamID); err != nil {
			return err
		}
		return p.repos.Teams.unlinkProject(ctx, tx, teamID, projectID)
	})
}

// ProjectStats summarizes projects by status.
type ProjectStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
	Overdue  int            `json:"overdue"`
}

func (p *Projects) Stats(ctx context.Context) (ProjectStats, error) {
	all, err := p.GetAll(ctx)
	if err != nil {
		return ProjectStats{}, err
	}
	now := p.store.Now()
	stats := ProjectStats{Total: len(all), ByStatus: make(map[string]int)}
	for _, x := range all {
		stats.ByStatus[x.Status]++
		open := x.Status != model.ProjectCompleted && x.Status != model.ProjectCancelled
		if open && x.EndDate.Before(now) {
			stats.Overdue++
		}
	}
	return stats, nil
}

func (p *Projects) linkTeam(ctx context.Context, tx *planbase.Tx, projectID, teamID string) error {
	return p.editProject(ctx, tx, projectID, func(x *model.Project) bool {
		if contains(x.TeamIDs, teamID) {
			return false
		}
		x.TeamIDs = append(x.TeamIDs, teamID)
		return true
	})
}

func (p *Projects) unlinkTeam(ctx context.Context, tx *planbase.Tx, projectID, teamID string) error {
	return p.editProject(ctx, tx, projectID, func(x *model.Project) bool {
		if !contains(x.TeamIDs, teamID) {
			return false
		}
		x.TeamIDs = remove(x.TeamIDs, teamID)
		return true
	})
}

func (p *Projects) linkTask(ctx context.Context, tx *planbase.Tx, projectID, taskID string) error {
	return p.editProject(ctx, tx, projectID, func(x *model.Project) bool {
		if contains(x.TaskIDs, taskID) {
			return false
		}
		x.TaskIDs = append(x.TaskIDs, taskID)
		return true
	})
}

func (p *Projects) unlinkTask(ctx context.Context, tx *planbase.Tx, projectID, taskID string) error {
	return p.editProject(ctx, tx, projectID, func(x *model.Project) bool {
		if !contains(x.TaskIDs, taskID) {
			return false
		}
		x.TaskIDs = remove(x.TaskIDs, taskID)
		return true
	})
}

func (p *Projects) editProject(ctx context.Context, tx *planbase.Tx, projectID string, edit func(*model.Project) bool) error {
	if projectID == "" {
		return nil
	}
	var x model.Project
	if err := tx.GetDoc(ctx, model.Projects, projectID, &x); err != nil {
		if planbase.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !edit(&x) {
		return nil
	}
	return putRaw(ctx, tx, model.Projects, &x)
}
