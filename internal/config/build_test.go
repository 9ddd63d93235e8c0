package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/engine"
	"github.com/roach88/pipeline/internal/record"
)

func build(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	rt, err := Build(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestBuild_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Types = []string{"player"}
	rt := build(t, cfg)

	assert.Equal(t, "storage", rt.Storage.Name())
	assert.Equal(t, "network", rt.Network.Name())
	require.NotNil(t, rt.Bus)

	key := record.NewKey("player", "p1")
	v, err := rt.Engine.Save(ctx, key, record.Document{"name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	got, err := rt.Engine.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, record.Document{"name": "Ann"}, got.Value)
}

func TestBuild_NoCacheNoBus(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Cache.Driver = "none"
	cfg.Bus.Driver = "none"
	rt := build(t, cfg)

	assert.Nil(t, rt.Network)
	assert.Nil(t, rt.Bus)

	_, err := rt.Engine.Save(ctx, record.NewKey("document", "d1"), record.Document{"n": 1})
	require.NoError(t, err)
}

func TestBuild_SQLiteSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Storage = StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "data.db")}
	cfg.Cache.Driver = "none"
	key := record.NewKey("document", "d1")

	first, err := Build(ctx, cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	_, err = first.Engine.Save(ctx, key, record.Document{"title": "hello"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := build(t, cfg)
	got, err := second.Engine.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, engine.TierStorage, got.Tier)
	assert.Equal(t, record.Document{"title": "hello"}, got.Value)
}

func TestBuild_RedisNodesConverge(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := Default()
	cfg.Cache.Driver = "redis"
	cfg.Cache.Addr = mr.Addr()
	cfg.Bus.Driver = "redis"
	cfg.Bus.Addr = mr.Addr()

	cfg.Node.ID = "node-a"
	a := build(t, cfg)
	cfg.Node.ID = "node-b"
	b := build(t, cfg)

	key := record.NewKey("document", "d1")
	_, err := a.Engine.Save(ctx, key, record.Document{"n": 1})
	require.NoError(t, err)

	got, err := b.Engine.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, engine.TierNetwork, got.Tier)
	assert.Equal(t, int64(1), got.Version)

	_, err = a.Engine.Save(ctx, key, record.Document{"n": 2})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := b.Engine.Load(ctx, key)
		return err == nil && got.Version == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "sqlite"
	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestBuild_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := Default()
	cfg.Cache.Driver = "redis"
	cfg.Cache.Addr = addr
	_, err := Build(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestBuild_DuplicateTypes(t *testing.T) {
	cfg := Default()
	cfg.Types = []string{"player", "player"}
	_, err := Build(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, engine.ErrDuplicateCodec)
}
