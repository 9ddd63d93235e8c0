package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/codec"
	"github.com/roach88/pipeline/internal/engine"
	"github.com/roach88/pipeline/internal/engine/enginetest"
	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

func TestRepository_SaveLoad(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 2)
	writer := engine.NewRepository[player](c.Nodes[0], "player")
	reader := engine.NewRepository[player](c.Nodes[1], "player")

	v, err := writer.Save(ctx, "p1", player{Name: "Ann", Level: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	got, version, err := reader.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, player{Name: "Ann", Level: 1}, got)
	assert.Equal(t, int64(1), version)

	ok, err := reader.Exists(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, reader.Delete(ctx, "p1"))
	_, _, err = writer.Load(ctx, "p1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestRepository_LoadOrCreate(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 2)
	a := engine.NewRepository[player](c.Nodes[0], "player")
	b := engine.NewRepository[player](c.Nodes[1], "player")

	calls := 0
	create := func() player {
		calls++
		return player{Name: "fresh"}
	}

	got, v, err := a.LoadOrCreate(ctx, "p1", create)
	require.NoError(t, err)
	assert.Equal(t, player{Name: "fresh"}, got)
	assert.Equal(t, int64(1), v)

	got, v, err = b.LoadOrCreate(ctx, "p1", create)
	require.NoError(t, err)
	assert.Equal(t, player{Name: "fresh"}, got)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, 1, calls)
}

func TestRepository_Find(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 1)
	seedPlayers(t, c.Nodes[0])
	repo := engine.NewRepository[player](c.Nodes[0], "player")

	var names []string
	for p, err := range repo.Find(ctx, query.Gte("level", 20), engine.Limit(2)) {
		require.NoError(t, err)
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Bob", "Ann"}, names)
}

func TestRepository_Key(t *testing.T) {
	c := newCluster(t, 1)
	repo := engine.NewRepository[player](c.Nodes[0], "player")
	assert.Equal(t, record.NewKey("player", "p1"), repo.Key("p1"))
}

func TestRepository_WrongCodecType(t *testing.T) {
	ctx := context.Background()
	b := codec.NewBuilder()
	require.NoError(t, b.Register("player", codec.Document()))
	c := enginetest.NewCluster(t, 1, enginetest.WithCodecs(b.Build()))

	_, err := c.Nodes[0].Save(ctx, record.NewKey("player", "p1"), record.Document{"name": "Ann"})
	require.NoError(t, err)

	repo := engine.NewRepository[player](c.Nodes[0], "player")
	_, _, err = repo.Load(ctx, "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codec produced record.Document")
}

func TestRepository_PointerCodec(t *testing.T) {
	ctx := context.Background()
	b := codec.NewBuilder()
	require.NoError(t, b.Register("player", codec.Func(
		func(v any) (record.Document, error) {
			p := v.(*player)
			return record.Document{"name": p.Name}, nil
		},
		func(d record.Document) (any, error) {
			name, _ := d["name"].(string)
			return &player{Name: name}, nil
		},
	)))
	c := enginetest.NewCluster(t, 1, enginetest.WithCodecs(b.Build()))

	_, err := c.Nodes[0].Save(ctx, record.NewKey("player", "p1"), &player{Name: "Ann"})
	require.NoError(t, err)
	c.Locals[0].Clear()

	got, _, err := engine.NewRepository[player](c.Nodes[0], "player").Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, player{Name: "Ann"}, got)
}
