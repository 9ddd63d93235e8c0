package connector

import (
	"errors"
	"fmt"

	"github.com/roach88/pipeline/internal/record"
)

var (
	// ErrNotFound indicates the record is absent.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict indicates a compare-and-swap mismatch.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnavailable indicates a backend I/O failure.
	ErrUnavailable = errors.New("connector unavailable")
)

// NotFound returns an error wrapping ErrNotFound for key.
func NotFound(key record.Key) error {
	return fmt.Errorf("%s: %w", key, ErrNotFound)
}

// ConflictError carries the versions involved in a failed CAS.
type ConflictError struct {
	Key      record.Key
	Expected int64
	Actual   int64
}

// Conflict returns a ConflictError.
func Conflict(key record.Key, expected, actual int64) error {
	return &ConflictError{Key: key, Expected: expected, Actual: actual}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s (expected %d, stored %d)", e.Key, ErrVersionConflict, e.Expected, e.Actual)
}

// Is matches ErrVersionConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// UnavailableError wraps a backend failure.
type UnavailableError struct {
	Connector string
	Err       error
}

// Unavailable wraps err as a backend failure of the named connector.
// Errors that already belong to the taxonomy are returned unchanged.
func Unavailable(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return &UnavailableError{Connector: name, Err: err}
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Connector, ErrUnavailable, e.Err)
}

// Is matches ErrUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
