package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/pipeline/internal/bus"
	"github.com/roach88/pipeline/internal/clock"
	"github.com/roach88/pipeline/internal/codec"
	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/localcache"
	"github.com/roach88/pipeline/internal/lock"
)

const (
	// DefaultLockTTL bounds how long a crashed writer can block a key.
	DefaultLockTTL = 5 * time.Second

	// DefaultLocalCapacity is the local cache size when none is configured.
	DefaultLocalCapacity = 10_000
)

// Tier names where a Load was answered.
type Tier int

const (
	TierLocal Tier = iota + 1
	TierNetwork
	TierStorage
)

func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierNetwork:
		return "network"
	case TierStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Engine orchestrates the tiers. Safe for concurrent use.
type Engine struct {
	storage connector.Connector
	network connector.Connector
	codecs  *codec.Registry
	locks   *lock.Manager
	bus     bus.Transport
	local   *localcache.Cache

	nodeID   string
	lockTTL  time.Duration
	cacheTTL time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu  sync.Mutex
	sub bus.Subscription
}

// Option configures an Engine.
type Option func(*Engine)

// WithNetworkCache adds the shared cache tier between local and storage.
func WithNetworkCache(c connector.Connector) Option {
	return func(e *Engine) {
		e.network = c
	}
}

// WithLocks sets the lease manager. By default one is built over the network
// cache, or over storage when there is no network cache.
func WithLocks(m *lock.Manager) Option {
	return func(e *Engine) {
		e.locks = m
	}
}

// WithBus sets the invalidation transport. Without one, peers are never told
// about writes and rely on local cache expiry.
func WithBus(t bus.Transport) Option {
	return func(e *Engine) {
		e.bus = t
	}
}

// WithLocalCache replaces the default local cache.
func WithLocalCache(c *localcache.Cache) Option {
	return func(e *Engine) {
		e.local = c
	}
}

// WithLockTTL sets the lease duration for writes.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithCacheTTL sets the expiry of network cache entries on backends with
// native TTL. Zero keeps entries until they are overwritten or removed.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.cacheTTL = ttl
	}
}

// WithNodeID sets the id stamped on published events and lock records.
func WithNodeID(id string) Option {
	return func(e *Engine) {
		e.nodeID = id
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock sets the clock used for LastModified and lease checks.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = clock.OrSystem(c)
	}
}

// New creates an Engine over storage using the given codecs.
func New(storage connector.Connector, codecs *codec.Registry, opts ...Option) (*Engine, error) {
	if storage == nil {
		return nil, errors.New("engine: storage connector is required")
	}
	if codecs == nil {
		return nil, errors.New("engine: codec registry is required")
	}

	e := &Engine{
		storage: storage,
		codecs:  codecs,
		lockTTL: DefaultLockTTL,
		clock:   clock.System{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.nodeID == "" {
		e.nodeID = lock.UUIDv7Generator{}.Generate()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("node", e.nodeID)
	if e.local == nil {
		e.local = localcache.New(localcache.WithCapacity(DefaultLocalCapacity), localcache.WithClock(e.clock))
	}

	if e.locks == nil {
		backend := e.network
		if backend == nil {
			backend = storage
		}
		m, err := lock.NewManager(backend,
			lock.WithOwner(e.nodeID),
			lock.WithClock(e.clock),
			lock.WithLogger(e.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("engine: lock backend: %w", err)
		}
		e.locks = m
	}

	return e, nil
}

// NodeID returns the id this engine publishes under.
func (e *Engine) NodeID() string { return e.nodeID }

// Codecs returns the registry the engine was built with.
func (e *Engine) Codecs() *codec.Registry { return e.codecs }

// Start subscribes to the invalidation bus. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	if e.bus == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub != nil {
		return nil
	}

	sub, err := e.bus.Subscribe(ctx, e.handleEvent)
	if err != nil {
		return fmt.Errorf("engine: subscribe: %w", err)
	}
	e.sub = sub
	e.logger.Info("engine started", "storage", e.storage.Name(), "network", e.networkName())
	return nil
}

// Close stops receiving invalidations. Connectors are owned by the caller.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub == nil {
		return nil
	}
	err := e.sub.Close()
	e.sub = nil
	return err
}

func (e *Engine) networkName() string {
	if e.network == nil {
		return "none"
	}
	return e.network.Name()
}
