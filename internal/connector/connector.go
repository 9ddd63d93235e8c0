package connector

import (
	"context"
	"time"

	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

// AnyVersion disables the version check on Put and Remove.
const AnyVersion int64 = -1

// Capabilities advertises what a backend guarantees natively.
type Capabilities struct {
	// NativeCAS is true when version-checked writes are atomic in the backend.
	NativeCAS bool

	// NativeTTL is true when the backend expires records written WithTTL.
	NativeTTL bool
}

// Connector is the uniform CRUD contract over one concrete backend.
//
// Implementations must be safe for concurrent use and must map backend
// failures onto ErrNotFound, ErrVersionConflict and ErrUnavailable.
type Connector interface {
	// Name identifies the connector in logs and errors.
	Name() string

	// Capabilities reports native CAS and TTL support.
	Capabilities() Capabilities

	// Get returns the record or an error wrapping ErrNotFound.
	Get(ctx context.Context, key record.Key) (record.Record, error)

	// Put stores rec if the stored version matches expected.
	// A mismatch returns an error wrapping ErrVersionConflict.
	Put(ctx context.Context, rec record.Record, expected int64, opts ...PutOption) error

	// Remove deletes the record if the stored version matches expected.
	// A missing record returns ErrNotFound.
	Remove(ctx context.Context, key record.Key, expected int64) error

	// Exists reports whether the record is present.
	Exists(ctx context.Context, key record.Key) (bool, error)

	// Find returns a lazy cursor over records of typ matching opts.
	// Callers must Close the cursor.
	Find(ctx context.Context, typ string, opts FindOptions) (Cursor, error)

	// Close releases backend resources.
	Close() error
}

// PutOptions holds optional write parameters.
type PutOptions struct {
	// TTL expires the record after the duration on backends with NativeTTL.
	// Zero means no expiry.
	TTL time.Duration
}

// PutOption configures a Put.
type PutOption func(*PutOptions)

// WithTTL requests backend-side expiry of the written record.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
	}
}

// ApplyPutOptions folds opts into a PutOptions value.
func ApplyPutOptions(opts ...PutOption) PutOptions {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FindOptions filters and pages a Find.
type FindOptions struct {
	// Predicate selects records; nil matches all.
	Predicate query.Predicate

	// Skip drops the first n matches.
	Skip int

	// Limit caps the number of matches; 0 means unlimited.
	Limit int
}

// CheckVersion applies the expected-version rule to a stored version.
// exists is false when no record is stored.
func CheckVersion(key record.Key, expected, stored int64, exists bool) error {
	switch {
	case expected == AnyVersion:
		return nil
	case expected == 0 && !exists:
		return nil
	case exists && stored == expected:
		return nil
	}
	if !exists {
		stored = 0
	}
	return Conflict(key, expected, stored)
}
