// Package transfer moves planning data in and out of a store.
//
// Imports accept JSON, YAML or a flattened CSV, validate every record and
// persist them in dependency order through the repositories, collecting
// per-record errors in the result instead of failing the call. Exports dump
// every collection as JSON, YAML, CSV or PostgreSQL statements.
package transfer

import (
	"fmt"
	"strings"
	"time"

	"github.com/adrianmcphee/planbase/model"
)

// Format names an import or export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
	FormatSQL  Format = "sql" // export only
)

// ParseFormat accepts a format name or a file extension, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "sql":
		return FormatSQL, nil
	}
	return "", fmt.Errorf("unsupported format %q", s)
}

// MimeType returns the media type of exported data.
func (f Format) MimeType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatYAML:
		return "application/yaml"
	case FormatSQL:
		return "application/sql"
	}
	return "application/octet-stream"
}

// Filename returns the date-stamped export file name for day.
func (f Format) Filename(day time.Time) string {
	return fmt.Sprintf("project_data_%s.%s", day.Format("2006-01-02"), f)
}

// entityKind ties a collection to its CSV discriminator.
type entityKind struct {
	collection string
	csvType    string
}

// importOrder lists every collection in dependency order: a record only
// references collections listed before its own.
var importOrder = []entityKind{
	{model.BusinessLines, "businessLine"},
	{model.Roles, "role"},
	{model.Teams, "team"},
	{model.Members, "member"},
	{model.Projects, "project"},
	{model.Tasks, "task"},
	{model.Resources, "resource"},
	{model.ResourceBookings, "booking"},
	{model.PerformanceMetrics, "performanceMetric"},
}

// requiredArrays must be present in a JSON or YAML payload, possibly empty.
var requiredArrays = []string{model.Members, model.Tasks, model.Projects}

func kindByCSVType(typ string) (entityKind, bool) {
	for _, k := range importOrder {
		if k.csvType == typ {
			return k, true
		}
	}
	return entityKind{}, false
}

// Dataset is the structural dump of every collection, the JSON and YAML
// import/export document.
type Dataset struct {
	Members            []*model.Member            `json:"members"`
	Tasks              []*model.Task              `json:"tasks"`
	Projects           []*model.Project           `json:"projects"`
	Teams              []*model.Team              `json:"teams"`
	Resources          []*model.Resource          `json:"resources"`
	ResourceBookings   []*model.ResourceBooking   `json:"resourceBookings"`
	BusinessLines      []*model.BusinessLine      `json:"businessLines"`
	Roles              []*model.Role              `json:"roles"`
	PerformanceMetrics []*model.PerformanceMetric `json:"performanceMetrics"`
}

// Counts returns the number of records per collection.
func (d *Dataset) Counts() map[string]int {
	return map[string]int{
		model.Members:            len(d.Members),
		model.Tasks:              len(d.Tasks),
		model.Projects:           len(d.Projects),
		model.Teams:              len(d.Teams),
		model.Resources:          len(d.Resources),
		model.ResourceBookings:   len(d.ResourceBookings),
		model.BusinessLines:      len(d.BusinessLines),
		model.Roles:              len(d.Roles),
		model.PerformanceMetrics: len(d.PerformanceMetrics),
	}
}

// Error types recorded in ImportResult.Errors.
const (
	ErrorValidation = "validation"
	ErrorProcessing = "processing"
	ErrorFormat     = "format"
)

// ImportError describes one rejected record, or the whole payload when
// Type is ErrorFormat and Row is zero.
type ImportError struct {
	Type    string `json:"type"`
	Entity  string `json:"entity,omitempty"`
	Row     int    `json:"row,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ImportError) String() string {
	var b strings.Builder
	b.WriteString(e.Type)
	if e.Entity != "" {
		fmt.Fprintf(&b, " %s", e.Entity)
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %s", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// ImportResult is the outcome of one import. Imported counts records per
// collection that were persisted.
type ImportResult struct {
	Success  bool           `json:"success"`
	Imported map[string]int `json:"imported"`
	Errors   []ImportError  `json:"errors"`
	Aborted  bool           `json:"aborted,omitempty"`
}

// Options controls an import.
type Options struct {
	// SkipErrors persists every valid record and reports the rest. Without
	// it the first bad record aborts the import and nothing is persisted.
	SkipErrors bool
}

// ExportResult carries exported data as text.
type ExportResult struct {
	Success  bool   `json:"success"`
	Data     string `json:"data"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Error    string `json:"error,omitempty"`
}
