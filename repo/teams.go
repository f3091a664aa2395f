package repo

import (
	"context"
	"fmt"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
)

// Teams stores teams. MemberIDs and ProjectIDs are maintained from the
// member and project side; Update keeps the stored lists and only the
// dedicated methods change them.
type Teams struct {
	*Collection[model.Team, *model.Team]
	repos *Repositories
}

func newTeams(r *Repositories) *Teams {
	t := &Teams{
		Collection: newCollection[model.Team](r.Store, model.Teams, "team",
			func(x *model.Team) []string { return []string{x.Name, x.Description} }),
		repos: r,
	}
	t.hooks = hooks[*model.Team]{
		beforeWrite: func(ctx context.Context, old, updated *model.Team) error {
			prev := ""
			if old != nil {
				prev = old.BusinessLineID
			}
			if err := requireChangedRef(ctx, t.store, "team", "businessLineId", model.BusinessLines, "business line", prev, updated.BusinessLineID); err != nil {
				return err
			}
			if old != nil {
				updated.MemberIDs = old.MemberIDs
				updated.ProjectIDs = old.ProjectIDs
				return nil
			}
			members, err := existing(ctx, t.store, model.Members, updated.MemberIDs)
			if err != nil {
				return err
			}
			projects, err := existing(ctx, t.store, model.Projects, updated.ProjectIDs)
			if err != nil {
				return err
			}
			updated.MemberIDs = members
			updated.ProjectIDs = projects
			return nil
		},
		afterWrite: func(ctx context.Context, old, updated *model.Team) error {
			if old != nil {
				return nil
			}
			tx := planbase.TxFromContext(ctx)
			for _, id := range updated.MemberIDs {
				if err := t.assign(ctx, tx, id, updated.ID); err != nil {
					return err
				}
			}
			for _, id := range updated.ProjectIDs {
				if err := r.Projects.linkTeam(ctx, tx, id, updated.ID); err != nil {
					return err
				}
			}
			return nil
		},
		beforeDelete: func(ctx context.Context, old *model.Team) error {
			if err := guard(ctx, t.store, "team", old.ID, model.Tasks, model.TaskByTeam); err != nil {
				return err
			}
			tx := planbase.TxFromContext(ctx)
			members, err := r.Members.FindByTeam(ctx, old.ID)
			if err != nil {
				return err
			}
			for _, m := range members {
				m.TeamID = ""
				if err := putRaw(ctx, tx, model.Members, m); err != nil {
					return err
				}
			}
			for _, id := range old.ProjectIDs {
				if err := r.Projects.unlinkTeam(ctx, tx, id, old.ID); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return t
}

// AddMember moves a member into a team, updating Member.TeamID, the new
// team's MemberIDs and the previous team's MemberIDs in one transaction.
func (t *Teams) AddMember(ctx context.Context, teamID, memberID string) error {
	return t.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		if _, err := t.GetByID(ctx, teamID); err != nil {
			return err
		}
		return t.assign(ctx, tx, memberID, teamID)
	})
}

// RemoveMember takes a member out of a team. Both sides change or neither.
func (t *Teams) RemoveMember(ctx context.Context, teamID, memberID string) error {
	return t.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		if _, err := t.GetByID(ctx, teamID); err != nil {
			return err
		}
		m, err := t.repos.Members.GetByID(ctx, memberID)
		if err != nil {
			return err
		}
		if m.TeamID != teamID {
			return fmt.Errorf("%w: member %s is not in team %s", planbase.ErrInvalidData, memberID, teamID)
		}
		m.TeamID = ""
		if err := putRaw(ctx, tx, model.Members, m); err != nil {
			return err
		}
		return t.unlinkMember(ctx, tx, teamID, memberID)
	})
}

// Members returns the team's members, derived from the Member.teamId index.
func (t *Teams) Members(ctx context.Context, teamID string) ([]*model.Member, error) {
	return t.repos.Members.FindByTeam(ctx, teamID)
}

func (t *Teams) FindByBusinessLine(ctx context.Context, businessLineID string) ([]*model.Team, error) {
	return t.FindBy(ctx, model.TeamByBusinessLine, businessLineID)
}

// TeamStats summarizes team sizes.
type TeamStats struct {
	Total          int     `json:"total"`
	Empty          int     `json:"empty"`
	Members        int     `json:"members"`
	AverageSize    float64 `json:"averageSize"`
	LargestTeamID  string  `json:"largestTeamId,omitempty"`
	LargestTeamLen int     `json:"largestTeamSize"`
}

func (t *Teams) Stats(ctx context.Context) (TeamStats, error) {
	teams, err := t.GetAll(ctx)
	if err != nil {
		return TeamStats{}, err
	}
	stats := TeamStats{Total: len(teams)}
	for _, team := range teams {
		n := len(team.MemberIDs)
		stats.Members += n
		if n == 0 {
			stats.Empty++
		}
		if n > stats.LargestTeamLen {
			stats.LargestTeamLen = n
			stats.LargestTeamID = team.ID
		}
	}
	if stats.Total > 0 {
		stats.AverageSize = float64(stats.Members) / float64(stats.Total)
	}
	return stats, nil
}

// assign sets the member's team and fixes both team lists.
func (t *Teams) assign(ctx context.Context, tx *planbase.Tx, memberID, teamID string) error {
	m, err := t.repos.Members.GetByID(ctx, memberID)
	if err != nil {
		return err
	}
	prev := m.TeamID
	if prev != teamID {
		m.TeamID = teamID
		if err := putRaw(ctx, tx, model.Members, m); err != nil {
			return err
		}
		if err := t.unlinkMember(ctx, tx, prev, memberID); err != nil {
			return err
		}
	}
	return t.linkMember(ctx, tx, teamID, memberID)
}

func (t *Teams) linkMember(ctx context.Context, tx *planbase.Tx, teamID, memberID string) error {
	return t.editTeam(ctx, tx, teamID, func(team *model.Team) bool {
		if contains(team.MemberIDs, memberID) {
			return false
		}
		team.MemberIDs = append(team.MemberIDs, memberID)
		return true
	})
}

func (t *Teams) unlinkMember(ctx context.Context, tx *planbase.Tx, teamID, memberID string) error {
	return t.editTeam(ctx, tx, teamID, func(team *model.Team) bool {
		if !contains(team.MemberIDs, memberID) {
			return false
		}
		team.MemberIDs = remove(team.MemberIDs, memberID)
		return true
	})
}

func (t *Teams) linkProject(ctx context.Context, tx *planbase.Tx, teamID, projectID string) error {
	return t.editTeam(ctx, tx, teamID, func(team *model.Team) bool {
		if contains(team.ProjectIDs, projectID) {
			return false
		}
		team.ProjectIDs = append(team.ProjectIDs, projectID)
		return true
	})
}

func (t *Teams) unlinkProject(ctx context.Context, tx *planbase.Tx, teamID, projectID string) error {
	return t.editTeam(ctx, tx, teamID, func(team *model.Team) bool {
		if !contains(team.ProjectIDs, projectID) {
			return false
		}
		team.ProjectIDs = remove(team.ProjectIDs, projectID)
		return true
	})
}

// editTeam applies edit to a stored team. A missing team is ignored since
// the reference on the other side is weak.
func (t *Teams) editTeam(ctx context.Context, tx *planbase.Tx, teamID string, edit func(*model.Team) bool) error {
	if teamID == "" {
		return nil
	}
	var team model.Team
	if err := tx.GetDoc(ctx, model.Teams, teamID, &team); err != nil {
		if planbase.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !edit(&team) {
		return nil
	}
	return putRaw(ctx, tx, model.Teams, &team)
}

// putRaw stores an entity without hooks, refreshing UpdatedAt. It is used
// for the denormalized back-reference lists only.
func putRaw(ctx context.Context, tx *planbase.Tx, collection string, item model.Entity) error {
	base := item.Meta()
	base.UpdatedAt = tx.Store().Now().UTC()
	return tx.PutDoc(ctx, collection, base.ID, item)
}

// existing keeps the ids in ids that are stored in collection, in order and
// without duplicates.
func existing(ctx context.Context, store *planbase.Store, collection string, ids []string) ([]string, error) {
	out := []string{}
	for _, id := range ids {
		if id == "" || contains(out, id) {
			continue
		}
		ok, err := store.Exists(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}
