package model

// Member is a person who can be assigned tasks and book resources.
// TeamID is the source of truth for team membership.
type Member struct {
	Base
	Name     string `json:"name"`
	Role     string `json:"role"`
	Email    string `json:"email,omitempty"`
	TeamID   string `json:"teamId,omitempty"`
	IsActive bool   `json:"isActive"`
}

func (m *Member) Validate() error {
	var c checks
	c.required("name", m.Name)
	c.required("role", m.Role)
	c.email("email", m.Email)
	return c.err("member")
}

// Team groups members. MemberIDs mirrors Member.TeamID and is kept in sync
// by the repositories.
type Team struct {
	Base
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	MemberIDs      []string `json:"memberIds"`
	ProjectIDs     []string `json:"projectIds"`
	BusinessLineID string   `json:"businessLineId,omitempty"`
}

func (t *Team) Validate() error {
	var c checks
	c.required("name", t.Name)
	if hasDuplicates(t.MemberIDs) {
		c.add("memberIds", "memberIds must not contain duplicates")
	}
	return c.err("team")
}

// BusinessLine is a reference entity teams and projects point at.
type BusinessLine struct {
	Base
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (b *BusinessLine) Validate() error {
	var c checks
	c.required("name", b.Name)
	return c.err("businessLine")
}

// Role is a reference entity describing a job role and its permissions.
type Role struct {
	Base
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func (r *Role) Validate() error {
	var c checks
	c.required("name", r.Name)
	return c.err("role")
}

func hasDuplicates(ids []string) bool {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}
