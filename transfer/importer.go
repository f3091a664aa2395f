package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
	"github.com/adrianmcphee/planbase/repo"
)

// errAborted stops an atomic import at its first rejected record.
var errAborted = errors.New("import aborted")

// Importer loads payloads through the repositories so every record goes
// through the same validation and integrity checks as a direct write.
type Importer struct {
	repos *repo.Repositories
}

func NewImporter(repos *repo.Repositories) *Importer {
	return &Importer{repos: repos}
}

// Import parses data and persists its records in dependency order.
//
// Record-level problems are reported in the result, never as the error. The
// error is only set when the store cannot accept writes at all. Without
// Options.SkipErrors the whole import runs in one transaction and the first
// rejected record discards everything.
func (im *Importer) Import(ctx context.Context, data []byte, format Format, opts Options) (ImportResult, error) {
	store := im.repos.Store
	if err := store.Ready(ctx); err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{Imported: make(map[string]int, len(importOrder)), Errors: []ImportError{}}
	for _, kind := range importOrder {
		result.Imported[kind.collection] = 0
	}

	p, ferr := parse(data, format)
	if ferr != nil {
		im.reject(&result, *ferr)
		return result, nil
	}

	if opts.SkipErrors {
		_ = im.run(ctx, p, &result, true)
	} else {
		err := store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
			return im.run(ctx, p, &result, false)
		})
		if err != nil {
			if !errors.Is(err, errAborted) {
				im.reject(&result, ImportError{Type: ErrorProcessing, Message: err.Error()})
			}
			for k := range result.Imported {
				result.Imported[k] = 0
			}
			result.Aborted = true
		}
	}

	result.Success = len(result.Errors) == 0 || opts.SkipErrors
	store.Logger().Info("import finished",
		"format", string(format),
		"success", result.Success,
		"errors", len(result.Errors),
		"aborted", result.Aborted)
	return result, nil
}

func parse(data []byte, format Format) (payload, *ImportError) {
	switch format {
	case FormatJSON:
		return parseJSON(data)
	case FormatYAML:
		return parseYAML(data)
	case FormatCSV:
		return parseCSV(data)
	}
	return nil, &ImportError{Type: ErrorFormat, Message: fmt.Sprintf("cannot import format %q", format)}
}

func (im *Importer) run(ctx context.Context, p payload, result *ImportResult, skip bool) error {
	for _, rec := range p[""] {
		im.reject(result, im.failed(entityKind{}, rec))
		if !skip {
			return errAborted
		}
	}

	for _, kind := range importOrder {
		records := p[kind.collection]
		if kind.collection == model.Tasks {
			records = sortTasks(records)
		}
		for _, rec := range records {
			if ierr := im.importRecord(ctx, kind, rec); ierr != nil {
				im.reject(result, *ierr)
				if !skip {
					return errAborted
				}
				continue
			}
			result.Imported[kind.collection]++
			im.repos.Store.Metrics().Increment(planbase.MetricImportRecords, "entity", kind.collection)
		}
	}
	return nil
}

func (im *Importer) reject(result *ImportResult, ierr ImportError) {
	result.Errors = append(result.Errors, ierr)
	im.repos.Store.Metrics().Increment(planbase.MetricImportErrors, "type", ierr.Type)
	im.repos.Store.Logger().Debug("import record rejected",
		"type", ierr.Type,
		"entity", ierr.Entity,
		"row", ierr.Row,
		"field", ierr.Field,
		"message", ierr.Message)
}

func (im *Importer) failed(kind entityKind, rec record) ImportError {
	ierr := *rec.err
	if ierr.Entity == "" {
		ierr.Entity = kind.collection
	}
	ierr.Row = rec.row
	return ierr
}

func (im *Importer) importRecord(ctx context.Context, kind entityKind, rec record) *ImportError {
	if rec.err != nil {
		ierr := im.failed(kind, rec)
		return &ierr
	}
	if ierr := normalizeDates(rec.doc); ierr != nil {
		ierr.Entity, ierr.Row = kind.collection, rec.row
		return ierr
	}

	var err error
	switch kind.collection {
	case model.BusinessLines:
		err = create(ctx, rec.doc, im.repos.BusinessLines.Create)
	case model.Roles:
		err = create(ctx, rec.doc, im.repos.Roles.Create)
	case model.Teams:
		err = create(ctx, rec.doc, im.repos.Teams.Create)
	case model.Members:
		err = create(ctx, rec.doc, im.repos.Members.Create)
	case model.Projects:
		err = create(ctx, rec.doc, im.repos.Projects.Create)
	case model.Tasks:
		err = create(ctx, rec.doc, im.repos.Tasks.Create)
	case model.Resources:
		err = create(ctx, rec.doc, im.repos.Resources.Create)
	case model.ResourceBookings:
		err = create(ctx, rec.doc, im.repos.Bookings.Create)
	case model.PerformanceMetrics:
		err = create(ctx, rec.doc, im.repos.Metrics.Upsert)
	default:
		err = fmt.Errorf("no repository for %s", kind.collection)
	}
	if err == nil {
		return nil
	}
	ierr := classify(err, kind.collection, rec.row)
	return &ierr
}

// create decodes doc into a fresh entity and hands it to save.
func create[T any](ctx context.Context, doc map[string]interface{}, save func(context.Context, *T) (*T, error)) error {
	var item T
	if err := decodeInto(doc, &item); err != nil {
		return decodeError(err)
	}
	_, err := save(ctx, &item)
	return err
}

func decodeError(err error) error {
	field := ""
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field = typeErr.Field
		err = fmt.Errorf("%s must be a %s", typeErr.Field, typeErr.Type)
	}
	return planbase.NewValidationError("record", []planbase.FieldError{{Field: field, Message: err.Error()}})
}

// classify maps a repository error onto an import error type. Rejections
// caused by the record itself are validation errors; anything else is a
// processing failure.
func classify(err error, entity string, row int) ImportError {
	var verr *planbase.ValidationError
	switch {
	case errors.As(err, &verr):
		ierr := ImportError{Type: ErrorValidation, Entity: entity, Row: row, Message: err.Error()}
		if len(verr.Fields) > 0 {
			ierr.Field = verr.Fields[0].Field
		}
		return ierr
	case errors.Is(err, planbase.ErrBookingConflict),
		errors.Is(err, planbase.ErrAlreadyExists),
		errors.Is(err, planbase.ErrReferentialIntegrity),
		errors.Is(err, planbase.ErrInvalidData):
		return ImportError{Type: ErrorValidation, Entity: entity, Row: row, Message: err.Error()}
	}
	perr := &planbase.ProcessingError{Entity: entity, Row: row, Err: err}
	return ImportError{Type: ErrorProcessing, Entity: entity, Row: row, Message: perr.Error()}
}

// sortTasks orders tasks so that a task follows the tasks it depends on
// within the same payload. Tasks caught in a dependency cycle keep their
// input order and fail their reference check on import.
func sortTasks(records []record) []record {
	ids := make(map[string]bool, len(records))
	for _, rec := range records {
		if id, ok := rec.doc["id"].(string); ok && id != "" {
			ids[id] = true
		}
	}

	sorted := make([]record, 0, len(records))
	placed := make(map[string]bool, len(records))
	done := make([]bool, len(records))
	for len(sorted) < len(records) {
		progress := false
		for i, rec := range records {
			if done[i] || !depsPlaced(rec, ids, placed) {
				continue
			}
			done[i] = true
			progress = true
			sorted = append(sorted, rec)
			if id, ok := rec.doc["id"].(string); ok {
				placed[id] = true
			}
		}
		if !progress {
			for i, rec := range records {
				if !done[i] {
					sorted = append(sorted, rec)
				}
			}
			break
		}
	}
	return sorted
}

func depsPlaced(rec record, ids, placed map[string]bool) bool {
	var deps []string
	switch v := rec.doc["dependencies"].(type) {
	case []string:
		deps = v
	case []interface{}:
		for _, d := range v {
			if id, ok := d.(string); ok {
				deps = append(deps, id)
			}
		}
	}
	for _, id := range deps {
		if ids[id] && !placed[id] {
			return false
		}
	}
	return true
}
