package transfer

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/adrianmcphee/planbase/model"
)

// sqlColumn maps a JSON field onto a PostgreSQL column.
type sqlColumn struct {
	Field      string
	Type       string
	PrimaryKey bool
	NotNull    bool
}

func (c sqlColumn) name() string { return snakeCase(c.Field) }

var baseColumns = []sqlColumn{
	{Field: "id", Type: "text", PrimaryKey: true},
	{Field: "createdAt", Type: "timestamptz", NotNull: true},
	{Field: "updatedAt", Type: "timestamptz", NotNull: true},
}

// sqlColumns lists the columns of each collection after the base columns.
var sqlColumns = map[string][]sqlColumn{
	model.BusinessLines: {
		{Field: "name", Type: "text", NotNull: true},
		{Field: "description", Type: "text"},
	},
	model.Roles: {
		{Field: "name", Type: "text", NotNull: true},
		{Field: "description", Type: "text"},
		{Field: "permissions", Type: "jsonb"},
	},
	model.Teams: {
		{Field: "name", Type: "text", NotNull: true},
		{Field: "description", Type: "text"},
		{Field: "memberIds", Type: "jsonb"},
		{Field: "projectIds", Type: "jsonb"},
		{Field: "businessLineId", Type: "text"},
	},
	model.Members: {
		{Field: "name", Type: "text", NotNull: true},
		{Field: "role", Type: "text", NotNull: true},
		{Field: "email", Type: "text"},
		{Field: "teamId", Type: "text"},
		{Field: "isActive", Type: "boolean", NotNull: true},
	},
	model.Projects: {
		{Field: "name", Type: "text", NotNull: true},
		{Field: "description", Type: "text"},
		{Field: "startDate", Type: "timestamptz", NotNull: true},
		{Field: "endDate", Type: "timestamptz", NotNull: true},
		{Field: "status", Type: "text", NotNull: true},
		{Field: "taskIds", Type: "jsonb"},
		{Field: "teamIds", Type: "jsonb"},
		{Field: "businessLineId", Type: "text"},
	},
	model.Tasks: {
		{Field: "title", Type: "text", NotNull: true},
		{Field: "description", Type: "text"},
		{Field: "memberId", Type: "text", NotNull: true},
		{Field: "projectId", Type: "text"},
		{Field: "teamId", Type: "text"},
		{Field: "startDate", Type: "timestamptz", NotNull: true},
		{Field: "endDate", Type: "timestamptz", NotNull: true},
		{Field: "status", Type: "text", NotNull: true},
		{Field: "priority", Type: "text"},
		{Field: "storyPoints", Type: "decimal"},
		{Field: "actualPersonDays", Type: "decimal"},
		{Field: "estimatedPersonDays", Type: "decimal"},
		{Field: "tags", Type: "jsonb"},
		{Field: "dependencies", Type: "jsonb"},
		{Field: "completedAt", Type: "timestamptz"},
	},
	model.Resources: {
		{Field: "name", Type: "text", NotNull: true},
		{Field: "type", Type: "text", NotNull: true},
		{Field: "description", Type: "text"},
		{Field: "location", Type: "text"},
		{Field: "capacity", Type: "integer"},
		{Field: "isAvailable", Type: "boolean", NotNull: true},
	},
	model.ResourceBookings: {
		{Field: "resourceId", Type: "text", NotNull: true},
		{Field: "memberId", Type: "text", NotNull: true},
		{Field: "title", Type: "text", NotNull: true},
		{Field: "startDate", Type: "timestamptz", NotNull: true},
		{Field: "endDate", Type: "timestamptz", NotNull: true},
		{Field: "attendees", Type: "jsonb"},
		{Field: "status", Type: "text", NotNull: true},
	},
	model.PerformanceMetrics: {
		{Field: "targetId", Type: "text", NotNull: true},
		{Field: "targetType", Type: "text", NotNull: true},
		{Field: "date", Type: "timestamptz", NotNull: true},
		{Field: "period", Type: "text", NotNull: true},
		{Field: "storyPointsCompleted", Type: "decimal"},
		{Field: "personDaysInvested", Type: "decimal"},
		{Field: "tasksCompleted", Type: "integer"},
		{Field: "avgTaskCycleTime", Type: "decimal"},
		{Field: "efficiencyScore", Type: "decimal"},
		{Field: "velocity", Type: "decimal"},
		{Field: "qualityScore", Type: "decimal"},
		{Field: "rank", Type: "integer"},
		{Field: "percentile", Type: "decimal"},
	},
}

func tableColumns(collection string) []sqlColumn {
	return append(append([]sqlColumn{}, baseColumns...), sqlColumns[collection]...)
}

// exportSQL renders d as PostgreSQL DDL followed by INSERT statements.
// Tables come in import order so the script loads without forward references.
func exportSQL(d *Dataset) (string, error) {
	var sb strings.Builder
	sb.WriteString("-- planbase export to PostgreSQL\n\n")

	for i, kind := range importOrder {
		sb.WriteString(tableDDL(kind.collection))
		if i < len(importOrder)-1 {
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n-- data\n\n")
	for _, kind := range importOrder {
		entities := d.entities(kind.collection)
		if len(entities) == 0 {
			continue
		}
		for _, e := range entities {
			stmt, err := rowToInsert(kind.collection, e)
			if err != nil {
				return "", err
			}
			sb.WriteString(stmt)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func tableDDL(collection string) string {
	var sb strings.Builder
	columns := tableColumns(collection)

	fmt.Fprintf(&sb, "CREATE TABLE %s (\n", snakeCase(collection))
	for i, c := range columns {
		sb.WriteString("  ")
		sb.WriteString(columnDDL(c))
		if i < len(columns)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(");\n")
	return sb.String()
}

func columnDDL(c sqlColumn) string {
	parts := []string{c.name(), strings.ToUpper(c.Type)}
	if c.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if c.NotNull && !c.PrimaryKey {
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " ")
}

func rowToInsert(collection string, entity interface{}) (string, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return "", err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", err
	}

	columns := tableColumns(collection)
	names := make([]string, len(columns))
	values := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name()
		v, err := sqlLiteral(doc[c.Field])
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", collection, c.Field, err)
		}
		values[i] = v
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);\n",
		snakeCase(collection),
		strings.Join(names, ", "),
		strings.Join(values, ", ")), nil
}

func sqlLiteral(val interface{}) (string, error) {
	switch v := val.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(v), nil
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v)), nil
		}
		return fmt.Sprintf("%v", v), nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	default:
		// lists and objects go into JSONB columns as text
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return quote(string(data)), nil
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// snakeCase turns a camelCase name into snake_case.
func snakeCase(s string) string {
	var sb strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				sb.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
