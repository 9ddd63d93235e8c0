package lock

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pipeline/internal/record"
)

var (
	// ErrAlreadyLocked indicates another owner holds a live lock.
	ErrAlreadyLocked = errors.New("already locked")

	// ErrNotOwner indicates the lock now belongs to someone else.
	ErrNotOwner = errors.New("not lock owner")

	// ErrExpired indicates the token's lease has lapsed.
	ErrExpired = errors.New("lock expired")

	// ErrNoCAS is returned by NewManager for connectors without native CAS.
	ErrNoCAS = errors.New("lock backend lacks native compare-and-swap")
)

// HeldError reports who holds a contended lock.
type HeldError struct {
	Key       record.Key
	Owner     string
	ExpiresAt time.Time
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s: %s by %s until %s", e.Key, ErrAlreadyLocked, e.Owner, e.ExpiresAt.Format(time.RFC3339Nano))
}

// Is matches ErrAlreadyLocked.
func (e *HeldError) Is(target error) bool {
	return target == ErrAlreadyLocked
}
