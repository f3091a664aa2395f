// Package repo implements the entity repositories on top of the planbase
// store: typed CRUD, index-backed finders, referential integrity guards,
// booking conflict detection and performance metric upserts.
package repo

import (
	"context"
	"fmt"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
)

// Repositories bundles one repository per entity over a shared store.
type Repositories struct {
	Store         *planbase.Store
	Members       *Members
	Teams         *Teams
	Projects      *Projects
	Tasks         *Tasks
	Resources     *Resources
	Bookings      *Bookings
	Metrics       *Metrics
	BusinessLines *BusinessLines
	Roles         *Roles
}

// New wires every repository to store.
func New(store *planbase.Store) *Repositories {
	r := &Repositories{Store: store}
	r.Members = newMembers(r)
	r.Teams = newTeams(r)
	r.Projects = newProjects(r)
	r.Tasks = newTasks(r)
	r.Resources = newResources(r)
	r.Bookings = newBookings(r)
	r.Metrics = newMetrics(r)
	r.BusinessLines = newBusinessLines(r)
	r.Roles = newRoles(r)
	return r
}

// BusinessLines is CRUD and search. Delete is rejected while a team or
// project references the line.
type BusinessLines struct {
	*Collection[model.BusinessLine, *model.BusinessLine]
}

func newBusinessLines(r *Repositories) *BusinessLines {
	b := &BusinessLines{newCollection[model.BusinessLine](r.Store, model.BusinessLines, "businessLine",
		func(b *model.BusinessLine) []string { return []string{b.Name, b.Description} })}
	b.hooks.beforeDelete = func(ctx context.Context, old *model.BusinessLine) error {
		if err := guard(ctx, b.store, "businessLine", old.ID, model.Teams, model.TeamByBusinessLine); err != nil {
			return err
		}
		return guard(ctx, b.store, "businessLine", old.ID, model.Projects, model.ProjectByBusinessLine)
	}
	return b
}

// Roles is plain CRUD and search.
type Roles struct {
	*Collection[model.Role, *model.Role]
}

func newRoles(r *Repositories) *Roles {
	return &Roles{newCollection[model.Role](r.Store, model.Roles, "role",
		func(x *model.Role) []string { return []string{x.Name, x.Description} })}
}

// refError is the validation error for a reference to a missing entity.
func refError(entity, field, target, id string) error {
	return planbase.NewValidationError(entity, []planbase.FieldError{{
		Field:   field,
		Message: fmt.Sprintf("%s %s does not exist", target, id),
	}})
}

// requireRef fails with a validation error when id is set and missing.
func requireRef(ctx context.Context, store *planbase.Store, entity, field, collection, target, id string) error {
	if id == "" {
		return nil
	}
	ok, err := store.Exists(ctx, collection, id)
	if err != nil {
		return err
	}
	if !ok {
		return refError(entity, field, target, id)
	}
	return nil
}

// requireChangedRef is requireRef for a field that held prev before the
// write. An unchanged reference is not checked again.
func requireChangedRef(ctx context.Context, store *planbase.Store, entity, field, collection, target, prev, id string) error {
	if id == prev {
		return nil
	}
	return requireRef(ctx, store, entity, field, collection, target, id)
}

// guard rejects a delete when a query shape still matches documents.
func guard(ctx context.Context, store *planbase.Store, entity, id, dependent string, shape planbase.QueryShape) error {
	res, err := store.Find(ctx, shape, id)
	if err != nil {
		return err
	}
	if n := len(res.Docs); n > 0 {
		return &planbase.ReferentialIntegrityError{Entity: entity, ID: id, Dependent: dependent, Count: n}
	}
	return nil
}

func addUnique(ids []string, id string) []string {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

func remove(ids []string, id string) []string {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
