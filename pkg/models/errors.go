package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by every lookup of a missing row.
var ErrNotFound = errors.New("not found")

// ValidationError rejects user input before anything is mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError formats a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError references an entity id that does not exist.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConsistencyError reports a stored value that disagrees with its value
// recomputed from history by more than Epsilon.
type ConsistencyError struct {
	LoanID   int
	Field    string
	Stored   string
	Computed string
}

func (e *ConsistencyError) Error() string {
	if e.LoanID == 0 {
		return fmt.Sprintf("%s drift: stored %s, computed %s", e.Field, e.Stored, e.Computed)
	}
	return fmt.Sprintf("loan %d %s drift: stored %s, computed %s", e.LoanID, e.Field, e.Stored, e.Computed)
}

// StorageError is an I/O failure inside a multi-step pipeline. Step names the
// write that failed so the caller can reconcile by hand.
type StorageError struct {
	Step string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Step, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage returns nil for a nil err.
func WrapStorage(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Step: step, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
