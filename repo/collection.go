package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
)

// entityPtr constrains P to *T implementing model.Entity.
type entityPtr[T any] interface {
	*T
	model.Entity
}

// hooks run inside the write transaction. old is nil on create.
type hooks[P any] struct {
	beforeWrite  func(ctx context.Context, old, updated P) error
	afterWrite   func(ctx context.Context, old, updated P) error
	beforeDelete func(ctx context.Context, old P) error
}

// Collection provides typed CRUD and query operations over one collection.
// The store manages ID, CreatedAt and UpdatedAt: Create assigns them, and
// Update and Patch refresh UpdatedAt and never change the other two.
//
// Example:
//
//	roles := repo.New(store).Roles
//	admin, err := roles.Create(ctx, &model.Role{Name: "admin"})
type Collection[T any, P entityPtr[T]] struct {
	store  *planbase.Store
	name   string
	entity string
	search func(P) []string
	hooks  hooks[P]
}

func newCollection[T any, P entityPtr[T]](store *planbase.Store, name, entity string, search func(P) []string) *Collection[T, P] {
	return &Collection[T, P]{
		store:  store,
		name:   name,
		entity: entity,
		search: search,
	}
}

// Name returns the collection name.
func (c *Collection[T, P]) Name() string { return c.name }

func (c *Collection[T, P]) notFound(id string) error {
	return planbase.WithContext(planbase.ErrNotFound, map[string]interface{}{
		"collection": c.name,
		"id":         id,
	})
}

func (c *Collection[T, P]) decode(docs []json.RawMessage) ([]P, error) {
	out := make([]P, 0, len(docs))
	for _, raw := range docs {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", c.name, err)
		}
		out = append(out, P(&item))
	}
	return out, nil
}

// GetAll returns every entity in id order.
func (c *Collection[T, P]) GetAll(ctx context.Context) ([]P, error) {
	var items []P
	err := c.store.Monitor().Track("getAll", c.name, false, func() (int, error) {
		docs, err := c.store.Scan(ctx, c.name)
		if err != nil {
			return 0, err
		}
		items, err = c.decode(docs)
		return len(items), err
	})
	return items, err
}

// GetByID returns one entity or an error matching planbase.ErrNotFound.
func (c *Collection[T, P]) GetByID(ctx context.Context, id string) (P, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id cannot be empty", planbase.ErrInvalidData)
	}
	var item T
	err := c.store.Monitor().Track("getById", c.name, true, func() (int, error) {
		if err := c.store.GetDoc(ctx, c.name, id, &item); err != nil {
			return 0, err
		}
		return 1, nil
	})
	if planbase.IsNotFound(err) {
		return nil, c.notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return P(&item), nil
}

// Exists reports whether an entity with id is stored.
func (c *Collection[T, P]) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	return c.store.Exists(ctx, c.name, id)
}

// FindBy returns the entities matching a query shape of this collection.
func (c *Collection[T, P]) FindBy(ctx context.Context, shape planbase.QueryShape, values ...interface{}) ([]P, error) {
	if shape.Collection != c.name {
		return nil, fmt.Errorf("%w: query %s does not apply to %s", planbase.ErrInvalidData, shape, c.name)
	}
	start := time.Now()
	res, err := c.store.Find(ctx, shape, values...)
	var items []P
	if err == nil {
		items, err = c.decode(res.Docs)
	}

	sample := planbase.Sample{
		Operation: "findBy" + planbase.Index(shape.Fields...).Name(),
		Table:     c.name,
		QueryTime: time.Since(start),
		Timestamp: start,
		Indexed:   res.Indexed,
	}
	if err == nil {
		n := len(items)
		sample.ResultCount = &n
	}
	c.store.Monitor().RecordMetrics(sample)
	return items, err
}

// Search returns entities whose searchable text contains query, ignoring
// case. An empty query returns everything.
func (c *Collection[T, P]) Search(ctx context.Context, query string) ([]P, error) {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(query))
	var matched []P
	err := c.store.Monitor().Track("search", c.name, false, func() (int, error) {
		docs, err := c.store.Scan(ctx, c.name)
		if err != nil {
			return 0, err
		}
		items, err := c.decode(docs)
		if err != nil {
			return 0, err
		}
		matched = make([]P, 0)
		for _, item := range items {
			if needle == "" || c.matches(fold, item, needle) {
				matched = append(matched, item)
			}
		}
		return len(matched), nil
	})
	return matched, err
}

func (c *Collection[T, P]) matches(fold cases.Caser, item P, needle string) bool {
	if c.search == nil {
		return false
	}
	for _, field := range c.search(item) {
		if strings.Contains(fold.String(field), needle) {
			return true
		}
	}
	return false
}

// Count returns the number of stored entities.
func (c *Collection[T, P]) Count(ctx context.Context) (int, error) {
	return c.store.Count(ctx, c.name)
}

// Create validates and stores a new entity and returns the stored copy.
// The input is not modified. A caller-supplied ID is kept when unused.
func (c *Collection[T, P]) Create(ctx context.Context, item P) (P, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: %s cannot be nil", planbase.ErrInvalidData, c.entity)
	}
	created, err := clone[T, P](item)
	if err != nil {
		return nil, err
	}

	err = c.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		base := created.Meta()
		if base.ID == "" {
			base.ID = planbase.NewID()
		} else if exists, err := tx.Exists(ctx, c.name, base.ID); err != nil {
			return err
		} else if exists {
			return planbase.WithContext(planbase.ErrAlreadyExists, map[string]interface{}{
				"collection": c.name,
				"id":         base.ID,
			})
		}
		now := c.store.Now().UTC()
		base.CreatedAt = now
		base.UpdatedAt = now
		return c.write(ctx, tx, nil, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update loads an entity, applies mutate and stores the result.
func (c *Collection[T, P]) Update(ctx context.Context, id string, mutate func(P) error) (P, error) {
	var updated P
	err := c.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		old, err := c.GetByID(ctx, id)
		if err != nil {
			return err
		}
		updated, err = clone[T, P](old)
		if err != nil {
			return err
		}
		if err := mutate(updated); err != nil {
			return err
		}
		return c.replace(ctx, tx, old, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Patch merges fields (JSON names) into an entity. id, createdAt and
// updatedAt in fields are ignored.
func (c *Collection[T, P]) Patch(ctx context.Context, id string, fields map[string]interface{}) (P, error) {
	var updated P
	err := c.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		var doc map[string]interface{}
		if err := tx.GetDoc(ctx, c.name, id, &doc); err != nil {
			if planbase.IsNotFound(err) {
				return c.notFound(id)
			}
			return err
		}
		old, err := fromMap[T, P](doc)
		if err != nil {
			return err
		}
		for k, v := range fields {
			switch k {
			case "id", "createdAt", "updatedAt":
				continue
			}
			doc[k] = v
		}
		updated, err = fromMap[T, P](doc)
		if err != nil {
			return planbase.NewValidationError(c.entity, []planbase.FieldError{{Message: err.Error()}})
		}
		return c.replace(ctx, tx, old, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *Collection[T, P]) replace(ctx context.Context, tx *planbase.Tx, old, updated P) error {
	base := updated.Meta()
	base.ID = old.Meta().ID
	base.CreatedAt = old.Meta().CreatedAt
	base.UpdatedAt = c.store.Now().UTC()
	return c.write(ctx, tx, old, updated)
}

func (c *Collection[T, P]) write(ctx context.Context, tx *planbase.Tx, old, updated P) error {
	if err := updated.Validate(); err != nil {
		return err
	}
	if c.hooks.beforeWrite != nil {
		if err := c.hooks.beforeWrite(ctx, old, updated); err != nil {
			return err
		}
	}
	if err := tx.PutDoc(ctx, c.name, updated.Meta().ID, updated); err != nil {
		return err
	}
	if c.hooks.afterWrite != nil {
		return c.hooks.afterWrite(ctx, old, updated)
	}
	return nil
}

// Delete removes an entity. Repositories with dependents reject the delete
// with a ReferentialIntegrityError instead of cascading.
func (c *Collection[T, P]) Delete(ctx context.Context, id string) error {
	return c.store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		old, err := c.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if c.hooks.beforeDelete != nil {
			if err := c.hooks.beforeDelete(ctx, old); err != nil {
				return err
			}
		}
		return tx.DeleteDoc(ctx, c.name, id)
	})
}

func clone[T any, P entityPtr[T]](item P) (P, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return P(&out), nil
}

func fromMap[T any, P entityPtr[T]](doc map[string]interface{}) (P, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return P(&out), nil
}
