package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/pipeline/internal/clock"
	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/record"
)

// TypePrefix is prepended to a record type to form its lock type.
const TypePrefix = "lock:"

// Token is proof of a held lease.
type Token struct {
	Key        record.Key
	Owner      string
	Nonce      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease has lapsed at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Manager acquires, renews and releases leases.
type Manager struct {
	conn   connector.Connector
	owner  string
	ids    IDGenerator
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithOwner sets the owner recorded in lock records, usually the node id.
func WithOwner(owner string) Option {
	return func(m *Manager) {
		m.owner = owner
	}
}

// WithIDGenerator sets the nonce generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(m *Manager) {
		m.ids = ids
	}
}

// WithClock sets the clock used for lease expiry.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clock.OrSystem(c)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager storing leases in conn.
func NewManager(conn connector.Connector, opts ...Option) (*Manager, error) {
	if !conn.Capabilities().NativeCAS {
		return nil, fmt.Errorf("%s: %w", conn.Name(), ErrNoCAS)
	}
	m := &Manager{
		conn:   conn,
		ids:    UUIDv7Generator{},
		clock:  clock.System{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.owner == "" {
		m.owner = m.ids.Generate()
	}
	return m, nil
}

// Owner returns the owner id written into lock records.
func (m *Manager) Owner() string { return m.owner }

func lockKey(key record.Key) record.Key {
	return record.Key{Type: TypePrefix + key.Type, ID: key.ID}
}

type lease struct {
	owner      string
	nonce      string
	acquiredAt time.Time
	expiresAt  time.Time
	version    int64
}

func (l lease) document() record.Document {
	return record.Document{
		"owner":       l.owner,
		"nonce":       l.nonce,
		"acquired_at": l.acquiredAt.UTC().Format(time.RFC3339Nano),
		"expires_at":  l.expiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseLease(rec record.Record) (lease, error) {
	str := func(field string) string {
		s, _ := rec.Payload[field].(string)
		return s
	}
	l := lease{owner: str("owner"), nonce: str("nonce"), version: rec.Version}

	var err error
	if l.acquiredAt, err = time.Parse(time.RFC3339Nano, str("acquired_at")); err != nil {
		return lease{}, fmt.Errorf("lock %s: acquired_at: %w", rec.Key, err)
	}
	if l.expiresAt, err = time.Parse(time.RFC3339Nano, str("expires_at")); err != nil {
		return lease{}, fmt.Errorf("lock %s: expires_at: %w", rec.Key, err)
	}
	return l, nil
}

func (m *Manager) write(ctx context.Context, key record.Key, l lease, expected int64, ttl time.Duration) error {
	var opts []connector.PutOption
	if m.conn.Capabilities().NativeTTL {
		opts = append(opts, connector.WithTTL(ttl))
	}
	rec := record.Record{
		Key:          lockKey(key),
		Version:      l.version,
		Payload:      l.document(),
		LastModified: l.acquiredAt,
	}
	return m.conn.Put(ctx, rec, expected, opts...)
}

func (m *Manager) read(ctx context.Context, key record.Key) (lease, error) {
	rec, err := m.conn.Get(ctx, lockKey(key))
	if err != nil {
		return lease{}, err
	}
	return parseLease(rec)
}

// Acquire takes the lease on key for ttl. It makes a single attempt and
// fails with ErrAlreadyLocked while another owner's lease is live.
func (m *Manager) Acquire(ctx context.Context, key record.Key, ttl time.Duration) (*Token, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("acquire %s: ttl must be positive, got %s", key, ttl)
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	now := m.clock.Now()
	next := lease{
		owner:      m.owner,
		nonce:      m.ids.Generate(),
		acquiredAt: now,
		expiresAt:  now.Add(ttl),
		version:    1,
	}
	expected := int64(0)

	cur, err := m.read(ctx, key)
	switch {
	case errors.Is(err, connector.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	case now.Before(cur.expiresAt):
		return nil, &HeldError{Key: key, Owner: cur.owner, ExpiresAt: cur.expiresAt}
	default:
		m.logger.Debug("taking over expired lock",
			"type", key.Type, "id", key.ID, "previous_owner", cur.owner, "expired_at", cur.expiresAt)
		expected = cur.version
		next.version = cur.version + 1
	}

	err = m.write(ctx, key, next, expected, ttl)
	if errors.Is(err, connector.ErrVersionConflict) {
		// someone else won the create or the takeover
		return nil, fmt.Errorf("acquire %s: %w", key, ErrAlreadyLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}

	return &Token{
		Key:        key,
		Owner:      next.owner,
		Nonce:      next.nonce,
		AcquiredAt: next.acquiredAt,
		ExpiresAt:  next.expiresAt,
	}, nil
}

// Release gives the lease back. It fails with ErrNotOwner when another owner
// has taken the lock over and with ErrExpired when the lease lapsed.
func (m *Manager) Release(ctx context.Context, tok *Token) error {
	cur, err := m.read(ctx, tok.Key)
	if errors.Is(err, connector.ErrNotFound) {
		return fmt.Errorf("release %s: %w", tok.Key, ErrExpired)
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", tok.Key, err)
	}
	if cur.nonce != tok.Nonce {
		return fmt.Errorf("release %s: held by %s: %w", tok.Key, cur.owner, ErrNotOwner)
	}

	err = m.conn.Remove(ctx, lockKey(tok.Key), cur.version)
	switch {
	case errors.Is(err, connector.ErrNotFound):
		return fmt.Errorf("release %s: %w", tok.Key, ErrExpired)
	case errors.Is(err, connector.ErrVersionConflict):
		return fmt.Errorf("release %s: %w", tok.Key, ErrNotOwner)
	case err != nil:
		return fmt.Errorf("release %s: %w", tok.Key, err)
	}

	if !m.clock.Now().Before(cur.expiresAt) {
		return fmt.Errorf("release %s: %w", tok.Key, ErrExpired)
	}
	return nil
}

// Renew extends a live lease to now+ttl. It fails with ErrExpired when the
// caller is no longer the recorded owner or the lease already lapsed.
func (m *Manager) Renew(ctx context.Context, tok *Token, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("renew %s: ttl must be positive, got %s", tok.Key, ttl)
	}
	cur, err := m.read(ctx, tok.Key)
	if errors.Is(err, connector.ErrNotFound) {
		return fmt.Errorf("renew %s: %w", tok.Key, ErrExpired)
	}
	if err != nil {
		return fmt.Errorf("renew %s: %w", tok.Key, err)
	}

	now := m.clock.Now()
	if cur.nonce != tok.Nonce || !now.Before(cur.expiresAt) {
		return fmt.Errorf("renew %s: %w", tok.Key, ErrExpired)
	}

	next := cur
	next.expiresAt = now.Add(ttl)
	next.version = cur.version + 1

	err = m.write(ctx, tok.Key, next, cur.version, ttl)
	if errors.Is(err, connector.ErrVersionConflict) {
		return fmt.Errorf("renew %s: %w", tok.Key, ErrExpired)
	}
	if err != nil {
		return fmt.Errorf("renew %s: %w", tok.Key, err)
	}

	tok.ExpiresAt = next.expiresAt
	return nil
}
