// Package enginetest runs several engines against shared in-memory tiers.
package enginetest

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/roach88/pipeline/internal/bus"
	"github.com/roach88/pipeline/internal/codec"
	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/connector/memstore"
	"github.com/roach88/pipeline/internal/engine"
	"github.com/roach88/pipeline/internal/localcache"
	"github.com/roach88/pipeline/internal/testutil"
)

// Cluster is a set of engines sharing one storage, one network cache and one
// in-process bus, all driven by a single FakeClock.
type Cluster struct {
	Clock   *testutil.FakeClock
	Storage connector.Connector
	Network *memstore.Store
	Hub     *bus.Hub
	Codecs  *codec.Registry
	Nodes   []*engine.Engine
	Locals  []*localcache.Cache
}

type clusterConfig struct {
	storage    func(*testutil.FakeClock) connector.Connector
	codecs     *codec.Registry
	lockTTL    time.Duration
	engineOpts []engine.Option
}

// ClusterOption configures NewCluster.
type ClusterOption func(*clusterConfig)

// WithStorage replaces the default memstore storage.
func WithStorage(build func(*testutil.FakeClock) connector.Connector) ClusterOption {
	return func(c *clusterConfig) {
		c.storage = build
	}
}

// WithCodecs sets the registry every node uses.
func WithCodecs(r *codec.Registry) ClusterOption {
	return func(c *clusterConfig) {
		c.codecs = r
	}
}

// WithLockTTL sets the lease duration of every node.
func WithLockTTL(ttl time.Duration) ClusterOption {
	return func(c *clusterConfig) {
		c.lockTTL = ttl
	}
}

// WithEngineOptions appends options applied to every node.
func WithEngineOptions(opts ...engine.Option) ClusterOption {
	return func(c *clusterConfig) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

// NewCluster starts n engines named node-a, node-b, ... and stops them when
// the test ends. Without WithCodecs, "player" is served by codec.Document.
func NewCluster(t *testing.T, n int, opts ...ClusterOption) *Cluster {
	t.Helper()

	cfg := clusterConfig{lockTTL: time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	clk := testutil.NewFakeClock()
	c := &Cluster{
		Clock:   clk,
		Network: memstore.New(memstore.WithName("network"), memstore.WithClock(clk)),
		Hub:     bus.NewHub(),
		Codecs:  cfg.codecs,
	}
	if cfg.storage != nil {
		c.Storage = cfg.storage(clk)
	} else {
		c.Storage = memstore.New(memstore.WithName("storage"), memstore.WithClock(clk), memstore.WithoutTTL())
	}
	if c.Codecs == nil {
		b := codec.NewBuilder()
		if err := b.Register("player", codec.Document()); err != nil {
			t.Fatalf("register codec: %v", err)
		}
		c.Codecs = b.Build()
	}

	for i := 0; i < n; i++ {
		local := localcache.New(localcache.WithClock(clk))
		opts := []engine.Option{
			engine.WithNodeID(fmt.Sprintf("node-%c", 'a'+i)),
			engine.WithNetworkCache(c.Network),
			engine.WithBus(c.Hub),
			engine.WithLocalCache(local),
			engine.WithClock(clk),
			engine.WithLockTTL(cfg.lockTTL),
			engine.WithLogger(slog.New(slog.DiscardHandler)),
		}
		e, err := engine.New(c.Storage, c.Codecs, append(opts, cfg.engineOpts...)...)
		if err != nil {
			t.Fatalf("engine.New() failed: %v", err)
		}
		if err := e.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}
		t.Cleanup(func() { e.Close() })

		c.Nodes = append(c.Nodes, e)
		c.Locals = append(c.Locals, local)
	}
	return c
}

// Settle waits until every published invalidation has been handled.
func (c *Cluster) Settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Hub.Drain(ctx); err != nil {
		t.Fatalf("bus did not settle: %v", err)
	}
}
