// Package memstore implements connector.Connector over in-process maps.
//
// It backs tests and single-host deployments, and doubles as the reference
// implementation of the connector contract: every other connector is held to
// the same conformance suite (connectortest).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roach88/pipeline/internal/clock"
	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

type entry struct {
	rec       record.Record
	expiresAt time.Time // zero = never
}

// Store is an in-memory connector with native CAS and TTL.
type Store struct {
	name  string
	caps  connector.Capabilities
	clock clock.Clock

	mu      sync.RWMutex
	records map[record.Key]entry
	failure error
}

// Option configures a Store.
type Option func(*Store)

// WithName sets the connector name reported in logs and errors.
func WithName(name string) Option {
	return func(s *Store) {
		s.name = name
	}
}

// WithClock sets the clock used for TTL expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = clock.OrSystem(c)
	}
}

// WithoutCAS makes version-checked writes non-atomic (check, then write in a
// separate critical section) and advertises NativeCAS=false. Used to
// exercise the engine's lock-mediated CAS fallback.
func WithoutCAS() Option {
	return func(s *Store) {
		s.caps.NativeCAS = false
	}
}

// WithoutTTL ignores WithTTL and advertises NativeTTL=false.
func WithoutTTL() Option {
	return func(s *Store) {
		s.caps.NativeTTL = false
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		name:    "memory",
		caps:    connector.Capabilities{NativeCAS: true, NativeTTL: true},
		clock:   clock.System{},
		records: make(map[record.Key]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements connector.Connector.
func (s *Store) Name() string { return s.name }

// Capabilities implements connector.Connector.
func (s *Store) Capabilities() connector.Capabilities { return s.caps }

// SetFailure makes every subsequent call fail with ErrUnavailable wrapping err.
// Pass nil to recover. Used for fault-injection tests.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock.Now()
	n := 0
	for _, e := range s.records {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Get implements connector.Connector.
func (s *Store) Get(ctx context.Context, key record.Key) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, connector.Unavailable(s.name, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return record.Record{}, connector.Unavailable(s.name, s.failure)
	}

	e, ok := s.lookup(key)
	if !ok {
		return record.Record{}, connector.NotFound(key)
	}
	return e.rec.Clone(), nil
}

// Put implements connector.Connector.
func (s *Store) Put(ctx context.Context, rec record.Record, expected int64, opts ...connector.PutOption) error {
	if err := ctx.Err(); err != nil {
		return connector.Unavailable(s.name, err)
	}
	if err := rec.Key.Validate(); err != nil {
		return err
	}
	o := connector.ApplyPutOptions(opts...)

	if !s.caps.NativeCAS {
		// check and write in separate critical sections
		if err := s.checkVersion(rec.Key, expected); err != nil {
			return err
		}
		expected = connector.AnyVersion
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return connector.Unavailable(s.name, s.failure)
	}

	cur, exists := s.lookup(rec.Key)
	if err := connector.CheckVersion(rec.Key, expected, cur.rec.Version, exists); err != nil {
		return err
	}

	e := entry{rec: rec.Clone()}
	if o.TTL > 0 && s.caps.NativeTTL {
		e.expiresAt = s.clock.Now().Add(o.TTL)
	}
	s.records[rec.Key] = e
	return nil
}

func (s *Store) checkVersion(key record.Key, expected int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return connector.Unavailable(s.name, s.failure)
	}
	cur, exists := s.lookup(key)
	return connector.CheckVersion(key, expected, cur.rec.Version, exists)
}

// Remove implements connector.Connector.
func (s *Store) Remove(ctx context.Context, key record.Key, expected int64) error {
	if err := ctx.Err(); err != nil {
		return connector.Unavailable(s.name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return connector.Unavailable(s.name, s.failure)
	}

	cur, exists := s.lookup(key)
	if !exists {
		return connector.NotFound(key)
	}
	if err := connector.CheckVersion(key, expected, cur.rec.Version, true); err != nil {
		return err
	}
	delete(s.records, key)
	return nil
}

// Exists implements connector.Connector.
func (s *Store) Exists(ctx context.Context, key record.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, connector.Unavailable(s.name, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return false, connector.Unavailable(s.name, s.failure)
	}
	_, ok := s.lookup(key)
	return ok, nil
}

// Find implements connector.Connector.
// The snapshot is taken at call time and ordered by id.
func (s *Store) Find(ctx context.Context, typ string, opts connector.FindOptions) (connector.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, connector.Unavailable(s.name, err)
	}
	if err := query.Validate(opts.Predicate); err != nil {
		return nil, err
	}
	typ = record.NewKey(typ, "_").Type

	s.mu.RLock()
	if s.failure != nil {
		s.mu.RUnlock()
		return nil, connector.Unavailable(s.name, s.failure)
	}
	now := s.clock.Now()
	var snapshot []record.Record
	for key, e := range s.records {
		if key.Type == typ && !e.expired(now) {
			snapshot = append(snapshot, e.rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Key.ID < snapshot[j].Key.ID
	})
	return connector.Filter(connector.SliceCursor(snapshot), opts.Predicate, opts.Skip, opts.Limit), nil
}

// Close implements connector.Connector.
func (s *Store) Close() error {
	return nil
}

// lookup returns the live entry for key. Callers hold s.mu.
func (s *Store) lookup(key record.Key) (entry, bool) {
	e, ok := s.records[key]
	if !ok || e.expired(s.clock.Now()) {
		return entry{}, false
	}
	return e, true
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
