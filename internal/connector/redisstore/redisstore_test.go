package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/connector/connectortest"
	"github.com/roach88/pipeline/internal/record"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), opts...)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestConformance(t *testing.T) {
	var mr *miniredis.Miniredis
	connectortest.Run(t, connectortest.Harness{
		New: func(t *testing.T) connector.Connector {
			var s *Store
			s, mr = newTestStore(t, WithPageSize(2))
			return s
		},
		Advance: func(d time.Duration) { mr.FastForward(d) },
	})
}

func TestKeysAreNamespaced(t *testing.T) {
	s, mr := newTestStore(t, WithPrefix("app"))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, connectortest.Rec("lock:player", "a/b", 1, record.Document{"x": "y"}), 0))

	assert.True(t, mr.Exists("app:r:lock%3Aplayer:a%2Fb"))
	assert.True(t, mr.Exists("app:i:lock%3Aplayer"))
	assert.Equal(t, "1", mr.HGet("app:r:lock%3Aplayer:a%2Fb", "version"))
	assert.Equal(t, `{"x":"y"}`, mr.HGet("app:r:lock%3Aplayer:a%2Fb", "payload"))
}

func TestPutWithoutTTLClearsExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	rec := connectortest.Rec("player", "p1", 1, record.Document{})

	require.NoError(t, s.Put(ctx, rec, 0, connector.WithTTL(time.Second)))
	rec.Version = 2
	require.NoError(t, s.Put(ctx, rec, 1))

	mr.FastForward(2 * time.Second)

	got, err := s.Get(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestFindSkipsExpiredIndexEntries(t *testing.T) {
	s, mr := newTestStore(t, WithPageSize(3))
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		var opts []connector.PutOption
		if i%2 == 0 {
			opts = append(opts, connector.WithTTL(time.Second))
		}
		require.NoError(t, s.Put(ctx, connectortest.Rec("player", fmt.Sprintf("p%d", i), 1, record.Document{}), 0, opts...))
	}
	mr.FastForward(2 * time.Second)

	cur, err := s.Find(ctx, "player", connector.FindOptions{})
	require.NoError(t, err)
	recs, err := connector.Collect(cur)
	require.NoError(t, err)

	var ids []string
	for _, r := range recs {
		ids = append(ids, r.Key.ID)
	}
	assert.Equal(t, []string{"p1", "p3", "p5"}, ids)
}

func TestFindPrunesExpiredIndexEntries(t *testing.T) {
	s, mr := newTestStore(t, WithPageSize(2))
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		var opts []connector.PutOption
		if i != 3 {
			opts = append(opts, connector.WithTTL(time.Second))
		}
		require.NoError(t, s.Put(ctx, connectortest.Rec("player", fmt.Sprintf("p%d", i), 1, record.Document{}), 0, opts...))
	}
	mr.FastForward(2 * time.Second)

	members, err := mr.ZMembers(s.indexKey("player"))
	require.NoError(t, err)
	assert.Len(t, members, 7)

	// two pages of expired ids are pruned before the live one is reached
	cur, err := s.Find(ctx, "player", connector.FindOptions{})
	require.NoError(t, err)
	recs, err := connector.Collect(cur)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "p3", recs[0].Key.ID)

	members, err = mr.ZMembers(s.indexKey("player"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p3"}, members)

	// an id recreated after expiry is indexed again
	require.NoError(t, s.Put(ctx, connectortest.Rec("player", "p0", 1, record.Document{}), 0))
	members, err = mr.ZMembers(s.indexKey("player"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p3"}, members)
}

func TestUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), record.NewKey("player", "p1"))
	assert.ErrorIs(t, err, connector.ErrUnavailable)

	err = s.Put(context.Background(), connectortest.Rec("player", "p1", 1, nil), 0)
	assert.ErrorIs(t, err, connector.ErrUnavailable)
}
