package transfer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/adrianmcphee/planbase/model"
)

type valueKind int

const (
	text valueKind = iota
	number
	integer
	boolean
	list
)

// column maps a CSV column onto a JSON field of one entity type.
type column struct {
	header string
	field  string
	kind   valueKind
}

func col(header string, kind valueKind) column { return column{header, header, kind} }

// csvHeader is the shared column superset. The first eighteen columns are
// the documented interchange header; the rest carry fields it has no room
// for so that exports keep ids and links.
var csvHeader = []string{
	"type", "name", "description", "startDate", "endDate", "status", "priority",
	"storyPoints", "memberId", "projectId", "teamId", "role", "email", "location",
	"capacity", "isAvailable", "attendees", "tags",
	"id", "resourceId", "resourceType", "isActive", "estimatedPersonDays",
	"actualPersonDays", "dependencies", "completedAt", "businessLineId", "permissions",
}

// csvColumns lists the columns each CSV type reads and writes. Tasks and
// bookings keep their title in the name column; resources keep their type
// in resourceType since type is the discriminator, and a row without it is
// an "other" resource.
var csvColumns = map[string][]column{
	"member": {
		col("id", text), col("name", text), col("role", text), col("email", text),
		col("teamId", text), col("isActive", boolean),
	},
	"team": {
		col("id", text), col("name", text), col("description", text), col("businessLineId", text),
	},
	"project": {
		col("id", text), col("name", text), col("description", text), col("startDate", text),
		col("endDate", text), col("status", text), col("businessLineId", text),
	},
	"task": {
		col("id", text), {"name", "title", text}, col("description", text), col("memberId", text),
		col("projectId", text), col("teamId", text), col("startDate", text), col("endDate", text),
		col("status", text), col("priority", text), col("storyPoints", number),
		col("estimatedPersonDays", number), col("actualPersonDays", number), col("tags", list),
		col("dependencies", list), col("completedAt", text),
	},
	"resource": {
		col("id", text), col("name", text), col("description", text), {"resourceType", "type", text},
		col("location", text), col("capacity", integer), col("isAvailable", boolean),
	},
	"booking": {
		col("id", text), col("resourceId", text), col("memberId", text), {"name", "title", text},
		col("startDate", text), col("endDate", text), col("status", text), col("attendees", list),
	},
	"businessLine": {
		col("id", text), col("name", text), col("description", text),
	},
	"role": {
		col("id", text), col("name", text), col("description", text), col("permissions", list),
	},
}

// csvDefaults fill fields a CSV row leaves blank.
var csvDefaults = map[string]map[string]interface{}{
	"member":   {"isActive": true},
	"resource": {"isAvailable": true, "type": model.ResourceOther},
}

// parseCSV reads a flattened CSV with a type discriminator column.
func parseCSV(data []byte) (payload, *ImportError) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, &ImportError{Type: ErrorFormat, Message: fmt.Sprintf("invalid CSV header: %v", err)}
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if _, ok := index["type"]; !ok {
		return nil, &ImportError{Type: ErrorFormat, Message: `CSV header has no "type" column`}
	}

	p := make(payload)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			line := 0
			if errors.As(err, &perr) {
				line = perr.Line
			}
			return nil, &ImportError{Type: ErrorFormat, Row: line, Message: err.Error()}
		}
		line, _ := r.FieldPos(0)
		if blank(row) {
			continue
		}

		cell := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		typ := cell("type")
		kind, ok := kindByCSVType(typ)
		columns, supported := csvColumns[typ]
		if !ok || !supported {
			p[""] = append(p[""], record{row: line, err: &ImportError{
				Type:    ErrorValidation,
				Entity:  typ,
				Field:   "type",
				Message: fmt.Sprintf("unknown record type %q", typ),
			}})
			continue
		}

		rec := record{row: line, doc: make(map[string]interface{})}
		for field, v := range csvDefaults[typ] {
			rec.doc[field] = v
		}
		for _, c := range columns {
			raw := cell(c.header)
			if raw == "" {
				continue
			}
			v, err := parseCell(c.kind, raw)
			if err != nil {
				rec.err = &ImportError{Type: ErrorValidation, Field: c.field, Message: fmt.Sprintf("%s: %v", c.header, err)}
				break
			}
			rec.doc[c.field] = v
		}
		p[kind.collection] = append(p[kind.collection], rec)
	}
	return p, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseCell(kind valueKind, raw string) (interface{}, error) {
	switch kind {
	case number:
		return strconv.ParseFloat(raw, 64)
	case integer:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", raw)
		}
		return n, nil
	case boolean:
		return strconv.ParseBool(strings.ToLower(raw))
	case list:
		var out []string
		for _, part := range strings.Split(raw, ";") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return raw, nil
}

// csvWriter writes entities as rows of the shared header.
type csvWriter struct {
	w *csv.Writer
}

func newCSVWriter(out io.Writer) (*csvWriter, error) {
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	return &csvWriter{w: w}, nil
}

// write flattens entity into one row tagged typ. Columns the type does not
// use stay blank.
func (cw *csvWriter) write(typ string, entity interface{}) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	cells := map[string]string{"type": typ}
	for _, c := range csvColumns[typ] {
		cells[c.header] = formatCell(doc[c.field])
	}
	row := make([]string, len(csvHeader))
	for i, name := range csvHeader {
		row[i] = cells[name]
	}
	return cw.w.Write(row)
}

func (cw *csvWriter) flush() error {
	cw.w.Flush()
	return cw.w.Error()
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, formatCell(item))
		}
		return strings.Join(parts, ";")
	}
	return fmt.Sprint(v)
}
