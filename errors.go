package planbase

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common conditions
var (
	// Data errors
	ErrNotFound      = errors.New("object not found")
	ErrAlreadyExists = errors.New("object already exists")
	ErrConflict      = errors.New("concurrent modification detected")
	ErrInvalidData   = errors.New("invalid data format")

	// Backend errors
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUnauthorized       = errors.New("unauthorized access")

	// Transaction errors
	ErrTransactionFailed = errors.New("transaction failed")
	ErrRollbackFailed    = errors.New("transaction rollback failed")
	ErrTransactionClosed = errors.New("transaction already committed or rolled back")

	// Schema errors
	ErrNotMigrated   = errors.New("store schema is not current, run migrations first")
	ErrUnknownSchema = errors.New("collection is not declared in the schema")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// Domain error classes. The typed errors below match these with errors.Is.
	ErrValidation           = errors.New("validation failed")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrBookingConflict      = errors.New("booking conflict")
	ErrProcessing           = errors.New("record processing failed")
	ErrVersionDowngrade     = errors.New("schema version downgrade")
	ErrMigrationStep        = errors.New("migration step failed")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

// ValidationError reports schema or invariant violations for one entity.
// No write happens when it is returned.
type ValidationError struct {
	Entity string
	Fields []FieldError
}

// NewValidationError builds a ValidationError from field errors.
// Returns nil when fields is empty so callers can return it directly.
func NewValidationError(entity string, fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Entity: entity, Fields: fields}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ReferentialIntegrityError is returned when a delete is blocked by records
// that still reference the entity. Deletes never cascade.
type ReferentialIntegrityError struct {
	Entity    string
	ID        string
	Dependent string
	Count     int
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("cannot delete %s %s: referenced by %d %s", e.Entity, e.ID, e.Count, e.Dependent)
}

func (e *ReferentialIntegrityError) Is(target error) bool { return target == ErrReferentialIntegrity }

// BookingConflictError lists the existing bookings that overlap a requested slot.
type BookingConflictError struct {
	ResourceID     string
	ConflictingIDs []string
}

func (e *BookingConflictError) Error() string {
	return fmt.Sprintf("resource %s is already booked: conflicts with %s",
		e.ResourceID, strings.Join(e.ConflictingIDs, ", "))
}

func (e *BookingConflictError) Is(target error) bool { return target == ErrBookingConflict }

// ProcessingError wraps an unexpected store failure while persisting a single
// record of a batch.
type ProcessingError struct {
	Entity string
	Row    int
	Err    error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s row %d: %v", e.Entity, e.Row, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool { return target == ErrProcessing }

// VersionDowngradeError is returned when a migration target is below the
// current schema version.
type VersionDowngradeError struct {
	Current int
	Target  int
}

func (e *VersionDowngradeError) Error() string {
	return fmt.Sprintf("cannot migrate from version %d down to %d", e.Current, e.Target)
}

func (e *VersionDowngradeError) Is(target error) bool { return target == ErrVersionDowngrade }

// MigrationStepError is fatal to a migration attempt. The store stays at the
// version of the last step in Completed.
type MigrationStepError struct {
	Version   int
	Step      string
	Completed []AppliedStep
	Err       error
}

func (e *MigrationStepError) Error() string {
	return fmt.Sprintf("migration step %d (%s) failed after %d completed steps: %v",
		e.Version, e.Step, len(e.Completed), e.Err)
}

func (e *MigrationStepError) Unwrap() error { return e.Err }

func (e *MigrationStepError) Is(target error) bool { return target == ErrMigrationStep }

// Common error checking helpers

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a conflict/concurrent modification error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrBookingConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsRecoverable reports whether the caller can fix the input and retry.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrReferentialIntegrity) ||
		errors.Is(err, ErrBookingConflict) ||
		errors.Is(err, ErrProcessing)
}

// IsFatal reports errors that must surface to the application shell.
func IsFatal(err error) bool {
	return errors.Is(err, ErrVersionDowngrade) || errors.Is(err, ErrMigrationStep)
}
