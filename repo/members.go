package repo

import (
	"context"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
)

// Members stores team members. Member.TeamID is the source of truth for
// membership; writes that change it update Team.MemberIDs in the same
// transaction.
type Members struct {
	*Collection[model.Member, *model.Member]
	repos *Repositories
}

func newMembers(r *Repositories) *Members {
	m := &Members{
		Collection: newCollection[model.Member](r.Store, model.Members, "member",
			func(x *model.Member) []string { return []string{x.Name, x.Role, x.Email} }),
		repos: r,
	}
	m.hooks = hooks[*model.Member]{
		beforeWrite: func(ctx context.Context, old, updated *model.Member) error {
			prev := ""
			if old != nil {
				prev = old.TeamID
			}
			return requireChangedRef(ctx, m.store, "member", "teamId", model.Teams, "team", prev, updated.TeamID)
		},
		afterWrite: func(ctx context.Context, old, updated *model.Member) error {
			prev := ""
			if old != nil {
				prev = old.TeamID
			}
			if prev == updated.TeamID {
				return nil
			}
			tx := planbase.TxFromContext(ctx)
			if err := r.Teams.unlinkMember(ctx, tx, prev, updated.ID); err != nil {
				return err
			}
			return r.Teams.linkMember(ctx, tx, updated.TeamID, updated.ID)
		},
		beforeDelete: func(ctx context.Context, old *model.Member) error {
			if err := guard(ctx, m.store, "member", old.ID, model.Tasks, model.TaskByMember); err != nil {
				return err
			}
			if err := guard(ctx, m.store, "member", old.ID, model.ResourceBookings, model.BookingByMember); err != nil {
				return err
			}
			return r.Teams.unlinkMember(ctx, planbase.TxFromContext(ctx), old.TeamID, old.ID)
		},
	}
	return m
}

// FindByTeam returns the members whose teamId is teamID.
func (m *Members) FindByTeam(ctx context.Context, teamID string) ([]*model.Member, error) {
	return m.FindBy(ctx, model.MemberByTeam, teamID)
}

// FindByTeamAndRole uses the [teamId+role] index.
func (m *Members) FindByTeamAndRole(ctx context.Context, teamID, role string) ([]*model.Member, error) {
	return m.FindBy(ctx, model.MemberByTeamRole, teamID, role)
}

func (m *Members) FindActive(ctx context.Context) ([]*model.Member, error) {
	return m.FindBy(ctx, model.MemberByActive, true)
}

// FindByEmail returns the member with email, or an error matching
// planbase.ErrNotFound.
func (m *Members) FindByEmail(ctx context.Context, email string) (*model.Member, error) {
	found, err := m.FindBy(ctx, model.MemberByEmail, email)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, planbase.WithContext(planbase.ErrNotFound, map[string]interface{}{
			"collection": model.Members,
			"email":      email,
		})
	}
	return found[0], nil
}

// MemberStats summarizes the members collection.
type MemberStats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Inactive   int            `json:"inactive"`
	Unassigned int            `json:"unassigned"`
	ByRole     map[string]int `json:"byRole"`
	ByTeam     map[string]int `json:"byTeam"`
}

func (m *Members) Stats(ctx context.Context) (MemberStats, error) {
	all, err := m.GetAll(ctx)
	if err != nil {
		return MemberStats{}, err
	}
	stats := MemberStats{
		Total:  len(all),
		ByRole: make(map[string]int),
		ByTeam: make(map[string]int),
	}
	for _, x := range all {
		if x.IsActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if x.TeamID == "" {
			stats.Unassigned++
		} else {
			stats.ByTeam[x.TeamID]++
		}
		stats.ByRole[x.Role]++
	}
	return stats, nil
}
