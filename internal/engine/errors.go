package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/pipeline/internal/codec"
	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/lock"
	"github.com/roach88/pipeline/internal/record"
)

// Error taxonomy. Every error returned by the engine matches at most one of
// these with errors.Is.
var (
	// ErrNotFound: the record is absent at every consulted tier.
	ErrNotFound = connector.ErrNotFound

	// ErrVersionConflict: the caller's expected version is stale.
	ErrVersionConflict = connector.ErrVersionConflict

	// ErrLockLost: the lease expired before the mutation completed.
	ErrLockLost = errors.New("lock lost")

	// ErrAlreadyLocked: another node holds the lease.
	ErrAlreadyLocked = lock.ErrAlreadyLocked

	// ErrUnsupportedType: no codec is registered for the type.
	ErrUnsupportedType = codec.ErrUnsupportedType

	// ErrDuplicateCodec: a type was registered twice.
	ErrDuplicateCodec = codec.ErrDuplicateCodec

	// ErrUnavailable: a backend I/O failure.
	ErrUnavailable = connector.ErrUnavailable
)

// OpError records the operation and key that failed.
type OpError struct {
	Op  string
	Key record.Key
	Err error
}

func (e *OpError) Error() string {
	if e.Key.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key.Type, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op string, key record.Key, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Key: key, Err: err}
}

// lockLost wraps the conflict that revealed the lost lease.
type lockLost struct {
	cause error
}

func (e *lockLost) Error() string {
	if e.cause == nil {
		return ErrLockLost.Error()
	}
	return fmt.Sprintf("%s: %v", ErrLockLost, e.cause)
}

// Is matches ErrLockLost only, so a lost lock is never mistaken for a
// caller-side version conflict.
func (e *lockLost) Is(target error) bool {
	return target == ErrLockLost
}

// IsRetryable reports whether repeating the whole operation may succeed.
// Uses errors.Is to handle wrapped errors.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAlreadyLocked) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrLockLost)
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
