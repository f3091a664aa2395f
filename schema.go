package planbase

import (
	"fmt"
	"strings"
)

// IndexSpec declares a single-field or compound index. Field order matters
// for compound indexes: the tuple is matched exactly.
type IndexSpec struct {
	Fields []string `json:"fields"`
}

// Index declares an index over one field, or a compound index when more than
// one field is given.
func Index(fields ...string) IndexSpec {
	return IndexSpec{Fields: append([]string(nil), fields...)}
}

// Name returns "field" for single-field indexes and "[a+b]" for compound ones.
func (s IndexSpec) Name() string {
	if len(s.Fields) == 1 {
		return s.Fields[0]
	}
	return "[" + strings.Join(s.Fields, "+") + "]"
}

// Compound reports whether the index covers more than one field.
func (s IndexSpec) Compound() bool {
	return len(s.Fields) > 1
}

// Covers reports whether the index is declared for exactly this field tuple.
func (s IndexSpec) Covers(fields ...string) bool {
	if len(s.Fields) != len(fields) {
		return false
	}
	for i := range fields {
		if s.Fields[i] != fields[i] {
			return false
		}
	}
	return true
}

// CollectionSchema lists the indexes declared for one collection.
type CollectionSchema struct {
	Name    string      `json:"name"`
	Indexes []IndexSpec `json:"indexes"`
}

// Schema is the declarative registry of collections and indexes plus the
// target schema version. It never creates anything itself; the Migrator
// reads it to know what must exist and the Store reads it to pick
// index-backed lookups.
type Schema struct {
	Version     int                `json:"version"`
	Collections []CollectionSchema `json:"collections"`
}

// NewSchema creates a registry at the given target version.
func NewSchema(version int) *Schema {
	return &Schema{Version: version}
}

// Collection declares a collection with its indexes. Declaring the same
// collection twice merges the index lists.
func (s *Schema) Collection(name string, indexes ...IndexSpec) *Schema {
	for i := range s.Collections {
		if s.Collections[i].Name == name {
			for _, idx := range indexes {
				if !s.Collections[i].hasIndex(idx.Name()) {
					s.Collections[i].Indexes = append(s.Collections[i].Indexes, idx)
				}
			}
			return s
		}
	}
	s.Collections = append(s.Collections, CollectionSchema{Name: name, Indexes: indexes})
	return s
}

func (c CollectionSchema) hasIndex(name string) bool {
	for _, idx := range c.Indexes {
		if idx.Name() == name {
			return true
		}
	}
	return false
}

// Lookup returns the declaration of a collection.
func (s *Schema) Lookup(name string) (CollectionSchema, bool) {
	for _, c := range s.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return CollectionSchema{}, false
}

// CollectionNames returns declared collections in declaration order.
func (s *Schema) CollectionNames() []string {
	names := make([]string, len(s.Collections))
	for i, c := range s.Collections {
		names[i] = c.Name
	}
	return names
}

// IndexFor returns the index declared for exactly the given field tuple.
func (s *Schema) IndexFor(collection string, fields ...string) (IndexSpec, bool) {
	c, ok := s.Lookup(collection)
	if !ok {
		return IndexSpec{}, false
	}
	for _, idx := range c.Indexes {
		if idx.Covers(fields...) {
			return idx, true
		}
	}
	return IndexSpec{}, false
}

// Validate checks declarations for empty names, duplicate collections and
// duplicate or empty indexes.
func (s *Schema) Validate() error {
	if s.Version <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Version",
			"value":  s.Version,
			"reason": "schema version must be positive",
		})
	}
	seen := make(map[string]bool)
	for _, c := range s.Collections {
		if c.Name == "" || strings.ContainsAny(c.Name, "/\\") {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Collection",
				"value":  c.Name,
				"reason": "collection names must be non-empty and contain no path separators",
			})
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: collection %q declared twice", ErrInvalidConfig, c.Name)
		}
		seen[c.Name] = true

		indexes := make(map[string]bool)
		for _, idx := range c.Indexes {
			if len(idx.Fields) == 0 {
				return fmt.Errorf("%w: empty index on %q", ErrInvalidConfig, c.Name)
			}
			if indexes[idx.Name()] {
				return fmt.Errorf("%w: index %s declared twice on %q", ErrInvalidConfig, idx.Name(), c.Name)
			}
			indexes[idx.Name()] = true
		}
	}
	return nil
}

// QueryShape names a supported equality filter over a collection. Shapes are
// declared once per entity as typed values, so a repository can only ask for
// filters that exist; the store decides at run time whether an index serves
// the shape or a scan does.
type QueryShape struct {
	Collection string
	Fields     []string
}

// Shape declares a query shape.
func Shape(collection string, fields ...string) QueryShape {
	return QueryShape{Collection: collection, Fields: append([]string(nil), fields...)}
}

func (q QueryShape) String() string {
	return q.Collection + Index(q.Fields...).Name()
}
