package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/pipeline/internal/bus"
	"github.com/roach88/pipeline/internal/bus/redisbus"
	"github.com/roach88/pipeline/internal/codec"
	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/connector/memstore"
	"github.com/roach88/pipeline/internal/connector/redisstore"
	"github.com/roach88/pipeline/internal/connector/sqlstore"
	"github.com/roach88/pipeline/internal/connector/zkstore"
	"github.com/roach88/pipeline/internal/engine"
	"github.com/roach88/pipeline/internal/localcache"
)

// Runtime is a started engine and the backends it owns.
type Runtime struct {
	Engine  *engine.Engine
	Storage connector.Connector
	Network connector.Connector // nil when cache.driver is none
	Bus     bus.Transport       // nil when bus.driver is none

	closers []io.Closer
}

// Close stops the engine and closes every backend, newest first.
func (r *Runtime) Close() error {
	var errs []error
	if r.Engine != nil {
		errs = append(errs, r.Engine.Close())
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the process logger described by c.
func NewLogger(c LoggerConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Codecs registers every configured type with the document codec.
func Codecs(types []string) (*codec.Registry, error) {
	b := codec.NewBuilder()
	for _, typ := range types {
		if err := b.Register(typ, codec.Document()); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Build opens the configured backends and starts an engine over them. On
// error every backend opened so far is closed again.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		rt.Close()
		return nil, err
	}

	codecs, err := Codecs(cfg.Types)
	if err != nil {
		return fail(err)
	}

	if rt.Storage, err = openStorage(cfg.Storage); err != nil {
		return fail(err)
	}
	rt.closers = append(rt.closers, rt.Storage)

	if rt.Network, err = openCache(ctx, cfg.Cache); err != nil {
		return fail(err)
	}
	if rt.Network != nil {
		rt.closers = append(rt.closers, rt.Network)
	}

	var busClient io.Closer
	if rt.Bus, busClient, err = openBus(ctx, cfg.Bus, logger); err != nil {
		return fail(err)
	}
	if busClient != nil {
		rt.closers = append(rt.closers, busClient)
	}

	opts := []engine.Option{
		engine.WithNodeID(cfg.Node.ID),
		engine.WithLogger(logger),
		engine.WithLockTTL(cfg.Lock.TTL.Std()),
		engine.WithCacheTTL(cfg.Cache.TTL.Std()),
		engine.WithLocalCache(localcache.New(
			localcache.WithCapacity(cfg.LocalCache.Capacity),
			localcache.WithExpireAfterWrite(cfg.LocalCache.ExpireAfterWrite.Std()),
			localcache.WithExpireAfterAccess(cfg.LocalCache.ExpireAfterAccess.Std()),
		)),
	}
	if rt.Network != nil {
		opts = append(opts, engine.WithNetworkCache(rt.Network))
	}
	if rt.Bus != nil {
		opts = append(opts, engine.WithBus(rt.Bus))
	}

	if rt.Engine, err = engine.New(rt.Storage, codecs, opts...); err != nil {
		return fail(err)
	}
	if err := rt.Engine.Start(ctx); err != nil {
		return fail(err)
	}
	return rt, nil
}

func openStorage(c StorageConfig) (connector.Connector, error) {
	switch c.Driver {
	case "memory":
		return memstore.New(memstore.WithName("storage"), memstore.WithoutTTL()), nil
	case "sqlite":
		s, err := sqlstore.Open(c.Path)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", c.Driver)
	}
}

func openCache(ctx context.Context, c CacheConfig) (connector.Connector, error) {
	switch c.Driver {
	case "none":
		return nil, nil
	case "memory":
		return memstore.New(memstore.WithName("network")), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("cache: %w", connector.Unavailable("redis", err))
		}
		return redisstore.New(client, redisstore.WithPrefix(c.Prefix)), nil
	case "zookeeper":
		s, err := zkstore.Dial(c.Servers, c.SessionTimeout.Std(), zkstore.WithRoot(c.Root))
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", c.Driver)
	}
}

func openBus(ctx context.Context, c BusConfig, logger *slog.Logger) (bus.Transport, io.Closer, error) {
	switch c.Driver {
	case "none":
		return nil, nil, nil
	case "memory":
		return bus.NewHub(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("bus: %w", connector.Unavailable("redis", err))
		}
		return redisbus.New(client, redisbus.WithChannel(c.Channel), redisbus.WithLogger(logger)), client, nil
	default:
		return nil, nil, fmt.Errorf("bus: unknown driver %q", c.Driver)
	}
}
