package taskdb

import (
	"errors"
	"fmt"
)

// ErrContextMissing is returned when an operation needs a bound task context
// and none is present.
var ErrContextMissing = errors.New("taskdb: no task context bound")

// ValidationError reports an event rejected before reaching any backend.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("taskdb: invalid event: %s %s", e.Field, e.Reason)
}

// StorageError wraps a backend I/O fault.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("taskdb: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err, or returns nil when err is nil.
func NewStorageError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Backend: backend, Op: op, Err: err}
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage reports whether err is or wraps a *StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
