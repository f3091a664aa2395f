package transfer

import (
	"encoding/json"
	"fmt"
	"time"

	"sigs.k8s.io/yaml"
)

// record is one input entity before decoding. A record that could not be
// read carries its error instead of a document.
type record struct {
	row int
	doc map[string]interface{}
	err *ImportError
}

// payload groups records by collection.
type payload map[string][]record

var dateFields = []string{"startDate", "endDate", "date", "completedAt", "createdAt", "updatedAt"}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// normalizeDates rewrites the date fields of doc as RFC 3339 UTC strings so
// they decode into time.Time. Date-only values mean midnight UTC.
func normalizeDates(doc map[string]interface{}) *ImportError {
	for _, field := range dateFields {
		v, ok := doc[field]
		if !ok || v == nil {
			continue
		}
		s, isString := v.(string)
		if !isString {
			return &ImportError{Type: ErrorValidation, Field: field, Message: fmt.Sprintf("%s must be an ISO-8601 string", field)}
		}
		if s == "" {
			delete(doc, field)
			continue
		}
		parsed, err := parseDate(s)
		if err != nil {
			return &ImportError{Type: ErrorValidation, Field: field, Message: err.Error()}
		}
		doc[field] = parsed.UTC().Format(time.RFC3339Nano)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 date", s)
}

// decodeInto converts a normalized document into an entity struct.
func decodeInto(doc map[string]interface{}, dest interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// parseJSON reads a JSON document of collection arrays.
func parseJSON(data []byte) (payload, *ImportError) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &ImportError{Type: ErrorFormat, Message: fmt.Sprintf("invalid JSON document: %v", err)}
	}
	for _, name := range requiredArrays {
		if _, ok := top[name]; !ok {
			return nil, &ImportError{Type: ErrorFormat, Entity: name, Message: fmt.Sprintf("missing required array %q", name)}
		}
	}

	p := make(payload)
	for _, kind := range importOrder {
		raw, ok := top[kind.collection]
		if !ok || string(raw) == "null" {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, &ImportError{Type: ErrorFormat, Entity: kind.collection, Message: fmt.Sprintf("%s must be an array", kind.collection)}
		}
		for i, item := range items {
			rec := record{row: i + 1}
			if err := json.Unmarshal(item, &rec.doc); err != nil || rec.doc == nil {
				rec.err = &ImportError{Type: ErrorValidation, Message: "record must be an object"}
			}
			p[kind.collection] = append(p[kind.collection], rec)
		}
	}
	return p, nil
}

// parseYAML reads the YAML form of the JSON document.
func parseYAML(data []byte) (payload, *ImportError) {
	converted, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, &ImportError{Type: ErrorFormat, Message: fmt.Sprintf("invalid YAML document: %v", err)}
	}
	return parseJSON(converted)
}
