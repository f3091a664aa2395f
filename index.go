package planbase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Storage layout:
//
//	<collection>/<id>.json                  one document
//	_indexes/<collection>/<index>.json      {docID: encoded index key}
//	_meta/schema.json                       applied version, collections, indexes
const (
	metaKey     = "_meta/schema.json"
	indexPrefix = "_indexes/"
	docSuffix   = ".json"
)

func collectionPrefix(collection string) string {
	return collection + "/"
}

func docKey(collection, id string) string {
	return collection + "/" + id + docSuffix
}

func indexDocKey(collection string, spec IndexSpec) string {
	return indexPrefix + collection + "/" + spec.Name() + docSuffix
}

// validKeySegment rejects ids that would escape their collection directory.
func validKeySegment(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\\") && !strings.HasPrefix(id, ".")
}

// idFromKey extracts the document id from "collection/<id>.json".
func idFromKey(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		key = key[i+1:]
	}
	return strings.TrimSuffix(key, docSuffix)
}

// normalizeValue passes a Go value through JSON so query arguments compare
// equal to decoded document fields (time.Time becomes its RFC 3339 string,
// ints become float64).
func normalizeValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string, bool, float64, nil:
		return t, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// indexable reports whether a decoded field value can appear in an index.
// Missing, null and empty-string fields are left out, as are lists and objects.
func indexable(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t != ""
	case bool, float64:
		return true
	default:
		return false
	}
}

// encodeIndexKey encodes an already-normalized tuple. ok is false when any
// component is not indexable.
func encodeIndexKey(values []interface{}) (string, bool) {
	for _, v := range values {
		if !indexable(v) {
			return "", false
		}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// indexKeyFor extracts the index key of a decoded document.
func indexKeyFor(doc map[string]interface{}, fields []string) (string, bool) {
	values := make([]interface{}, len(fields))
	for i, f := range fields {
		values[i] = doc[f]
	}
	return encodeIndexKey(values)
}

// queryKey normalizes caller-supplied values and encodes them.
func queryKey(values []interface{}) (string, bool, error) {
	normalized := make([]interface{}, len(values))
	for i, v := range values {
		n, err := normalizeValue(v)
		if err != nil {
			return "", false, fmt.Errorf("%w: query value %v: %v", ErrInvalidData, v, err)
		}
		normalized[i] = n
	}
	key, ok := encodeIndexKey(normalized)
	return key, ok, nil
}

// storeMeta is the persisted schema state written by the migrator.
type storeMeta struct {
	Version     int                    `json:"version"`
	State       MigrationState         `json:"state"`
	Collections []string               `json:"collections"`
	Indexes     map[string][]IndexSpec `json:"indexes"`
	Applied     []AppliedStep          `json:"applied"`
	LastError   string                 `json:"lastError,omitempty"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

func newStoreMeta() *storeMeta {
	return &storeMeta{
		State:   StateUnmigrated,
		Indexes: make(map[string][]IndexSpec),
	}
}

func (m *storeMeta) clone() *storeMeta {
	out := *m
	out.Collections = append([]string(nil), m.Collections...)
	out.Applied = append([]AppliedStep(nil), m.Applied...)
	out.Indexes = make(map[string][]IndexSpec, len(m.Indexes))
	for c, specs := range m.Indexes {
		out.Indexes[c] = append([]IndexSpec(nil), specs...)
	}
	return &out
}

func (m *storeMeta) hasCollection(name string) bool {
	for _, c := range m.Collections {
		if c == name {
			return true
		}
	}
	return false
}

func (m *storeMeta) index(collection, name string) (IndexSpec, bool) {
	for _, spec := range m.Indexes[collection] {
		if spec.Name() == name {
			return spec, true
		}
	}
	return IndexSpec{}, false
}

// RepairReport summarizes an index rebuild.
type RepairReport struct {
	Collection string
	Index      string
	Documents  int
	Missing    int // documents absent from the old index
	Orphaned   int // index entries pointing at no document
	Stale      int // entries whose key no longer matches the document
}

// rebuildIndex recomputes an index from the documents visible in tx and
// stages the result, reporting how far the previous index had drifted.
func (tx *Tx) rebuildIndex(ctx context.Context, collection string, spec IndexSpec) (RepairReport, error) {
	report := RepairReport{Collection: collection, Index: spec.Name()}

	old, err := tx.loadIndex(ctx, collection, spec)
	if err != nil {
		return report, err
	}

	keys, err := tx.list(ctx, collectionPrefix(collection))
	if err != nil {
		return report, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	rebuilt := make(map[string]string, len(keys))
	for _, key := range keys {
		data, err := tx.get(ctx, key)
		if err != nil {
			return report, fmt.Errorf("failed to read %s: %w", key, err)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return report, fmt.Errorf("%w: %s: %v", ErrInvalidData, key, err)
		}
		report.Documents++

		id := idFromKey(key)
		value, ok := indexKeyFor(doc, spec.Fields)
		prev, had := old[id]
		if !ok {
			if had {
				report.Stale++
			}
			continue
		}
		rebuilt[id] = value
		switch {
		case !had:
			report.Missing++
		case prev != value:
			report.Stale++
		}
	}
	for id := range old {
		if _, ok := rebuilt[id]; !ok {
			if _, err := tx.get(ctx, docKey(collection, id)); IsNotFound(err) {
				report.Orphaned++
			}
		}
	}

	tx.setIndex(collection, spec, rebuilt)
	return report, nil
}

// sortedIDs returns the ids of entries matching key in lexical order, which
// is the order collection scans return documents in.
func sortedIDs(entries map[string]string, key string) []string {
	ids := make([]string, 0)
	for id, v := range entries {
		if v == key {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
