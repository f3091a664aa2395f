// Package model defines the planning entities, their validation rules, the
// collection and index declarations, and the migration steps that build the
// schema.
package model

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/adrianmcphee/planbase"
)

// Base carries the store-managed identity and timestamps. Callers never
// set CreatedAt or UpdatedAt; repositories overwrite them.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Meta exposes the base fields to generic repositories.
func (b *Base) Meta() *Base { return b }

// Entity is implemented by pointers to every model type.
type Entity interface {
	Meta() *Base
	Validate() error
}

type enum map[string]bool

func newEnum(values ...string) enum {
	e := make(enum, len(values))
	for _, v := range values {
		e[v] = true
	}
	return e
}

func (e enum) list() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, fmt.Sprintf("%q", k))
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

// checks accumulates field errors for one entity.
type checks []planbase.FieldError

func (c *checks) add(field, format string, args ...interface{}) {
	*c = append(*c, planbase.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *checks) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		c.add(field, "%s is required", field)
	}
}

func (c *checks) oneOf(field, value string, allowed enum) {
	if value == "" {
		c.add(field, "%s is required", field)
	} else if !allowed[value] {
		c.add(field, "%s must be one of: %s", field, allowed.list())
	}
}

func (c *checks) optionalOneOf(field, value string, allowed enum) {
	if value != "" && !allowed[value] {
		c.add(field, "%s must be one of: %s", field, allowed.list())
	}
}

func (c *checks) nonNegative(field string, v *float64) {
	if v != nil && *v < 0 {
		c.add(field, "%s must not be negative", field)
	}
}

func (c *checks) date(field string, t time.Time) {
	if t.IsZero() {
		c.add(field, "%s is required", field)
	}
}

func (c *checks) email(field, value string) {
	if value == "" {
		return
	}
	if _, err := mail.ParseAddress(value); err != nil {
		c.add(field, "%s must be a valid email address", field)
	}
}

func (c checks) err(entity string) error {
	return planbase.NewValidationError(entity, c)
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aEnd.After(bStart) && aStart.Before(bEnd)
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
