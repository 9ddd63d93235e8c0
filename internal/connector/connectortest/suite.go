// Package connectortest holds the conformance suite every connector runs.
//
// A connector package wires the suite into its own tests:
//
//	func TestConformance(t *testing.T) {
//	    connectortest.Run(t, connectortest.Harness{
//	        New: func(t *testing.T) connector.Connector { return memstore.New() },
//	    })
//	}
package connectortest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

// Harness describes how to build and drive the connector under test.
type Harness struct {
	// New returns a fresh, empty connector. Cleanup is the caller's job.
	New func(t *testing.T) connector.Connector

	// Advance moves the backend's notion of time forward.
	// Required for the TTL test on connectors with NativeTTL; when nil the
	// test sleeps in real time.
	Advance func(d time.Duration)
}

// Run executes the conformance suite.
func Run(t *testing.T, h Harness) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, h) })
	t.Run("CreateIfAbsent", func(t *testing.T) { testCreateIfAbsent(t, h) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, h) })
	t.Run("UnconditionalPut", func(t *testing.T) { testUnconditionalPut(t, h) })
	t.Run("Remove", func(t *testing.T) { testRemove(t, h) })
	t.Run("PayloadRoundTrip", func(t *testing.T) { testPayloadRoundTrip(t, h) })
	t.Run("FindPredicate", func(t *testing.T) { testFindPredicate(t, h) })
	t.Run("FindPaging", func(t *testing.T) { testFindPaging(t, h) })
	t.Run("FindMatchFunc", func(t *testing.T) { testFindMatchFunc(t, h) })
	t.Run("FindEarlyClose", func(t *testing.T) { testFindEarlyClose(t, h) })
	t.Run("FindRestartable", func(t *testing.T) { testFindRestartable(t, h) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, h) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, h) })
}

// Rec builds a record for tests.
func Rec(typ, id string, version int64, payload record.Document) record.Record {
	return record.Record{
		Key:          record.NewKey(typ, id),
		Version:      version,
		Payload:      payload,
		LastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testGetMissing(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()
	key := record.NewKey("player", "nobody")

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, connector.ErrNotFound)

	ok, err := c.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testCreateIfAbsent(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()
	rec := Rec("player", "p1", 1, record.Document{"name": "Ann"})

	require.NoError(t, c.Put(ctx, rec, 0))

	err := c.Put(ctx, rec, 0)
	assert.ErrorIs(t, err, connector.ErrVersionConflict)

	ok, err := c.Exists(ctx, rec.Key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testCompareAndSwap(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, Rec("player", "p1", 1, record.Document{"name": "Ann"}), 0))
	require.NoError(t, c.Put(ctx, Rec("player", "p1", 2, record.Document{"name": "Bea"}), 1))

	// stale expectation
	err := c.Put(ctx, Rec("player", "p1", 2, record.Document{"name": "Cid"}), 1)
	assert.ErrorIs(t, err, connector.ErrVersionConflict)

	// expectation on a missing record
	err = c.Put(ctx, Rec("player", "p2", 2, record.Document{}), 1)
	assert.ErrorIs(t, err, connector.ErrVersionConflict)

	got, err := c.Get(ctx, record.NewKey("player", "p1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "Bea", got.Payload["name"])
}

func testUnconditionalPut(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, Rec("player", "p1", 5, record.Document{"n": "a"}), connector.AnyVersion))
	require.NoError(t, c.Put(ctx, Rec("player", "p1", 3, record.Document{"n": "b"}), connector.AnyVersion))

	got, err := c.Get(ctx, record.NewKey("player", "p1"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, "b", got.Payload["n"])
}

func testRemove(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()
	key := record.NewKey("player", "p1")

	err := c.Remove(ctx, key, connector.AnyVersion)
	assert.ErrorIs(t, err, connector.ErrNotFound)

	require.NoError(t, c.Put(ctx, Rec("player", "p1", 1, record.Document{}), 0))
	require.NoError(t, c.Put(ctx, Rec("player", "p1", 2, record.Document{}), 1))

	err = c.Remove(ctx, key, 1)
	assert.ErrorIs(t, err, connector.ErrVersionConflict)

	require.NoError(t, c.Remove(ctx, key, 2))
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, connector.ErrNotFound)

	require.NoError(t, c.Put(ctx, Rec("player", "p1", 1, record.Document{}), 0))
	require.NoError(t, c.Remove(ctx, key, connector.AnyVersion))
}

func testPayloadRoundTrip(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()
	payload := record.Document{
		"name":    "Ann <admin>",
		"level":   json.Number("9007199254740993"),
		"ratio":   json.Number("0.25"),
		"active":  true,
		"guild":   nil,
		"tags":    []any{"a", "b"},
		"address": map[string]any{"city": "Berlin"},
	}
	rec := Rec("player", "p1", 1, payload)

	require.NoError(t, c.Put(ctx, rec, 0))
	got, err := c.Get(ctx, rec.Key)
	require.NoError(t, err)

	assert.Equal(t, rec.Key, got.Key)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, payload, got.Payload)
	assert.True(t, rec.LastModified.Equal(got.LastModified), "last modified %v != %v", got.LastModified, rec.LastModified)
}

func seedPlayers(t *testing.T, c connector.Connector) {
	t.Helper()
	ctx := context.Background()
	players := []record.Record{
		Rec("player", "p1", 1, record.Document{"name": "Ann", "level": json.Number("10")}),
		Rec("player", "p2", 1, record.Document{"name": "Bob", "level": json.Number("20")}),
		Rec("player", "p3", 1, record.Document{"name": "Ann", "level": json.Number("30")}),
		Rec("player", "p4", 1, record.Document{"name": "Cid"}),
		Rec("guild", "p5", 1, record.Document{"name": "Ann"}),
	}
	for _, rec := range players {
		require.NoError(t, c.Put(ctx, rec, 0))
	}
}

func ids(t *testing.T, cur connector.Cursor, err error) []string {
	t.Helper()
	require.NoError(t, err)
	recs, err := connector.Collect(cur)
	require.NoError(t, err)
	out := []string{}
	for _, r := range recs {
		out = append(out, r.Key.ID)
	}
	return out
}

func testFindPredicate(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()
	seedPlayers(t, c)

	tests := []struct {
		name string
		pred query.Predicate
		want []string
	}{
		{"all", nil, []string{"p1", "p2", "p3", "p4"}},
		{"eq", query.Eq("name", "Ann"), []string{"p1", "p3"}},
		{"and", query.All(query.Eq("name", "Ann"), query.Gt("level", 15)), []string{"p3"}},
		{"or", query.Any(query.Eq("name", "Bob"), query.Eq("name", "Cid")), []string{"p2", "p4"}},
		{"not missing field", query.Negate(query.Gte("level", 0)), []string{"p4"}},
		{"ne skips missing", query.Ne("level", 10), []string{"p2", "p3"}},
		{"kind mismatch", query.Eq("level", "10"), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur, err := c.Find(ctx, "player", connector.FindOptions{Predicate: tt.pred})
			assert.Equal(t, tt.want, ids(t, cur, err))
		})
	}
}

func testFindPaging(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()
	seedPlayers(t, c)

	cur, err := c.Find(ctx, "player", connector.FindOptions{Skip: 1, Limit: 2})
	assert.Equal(t, []string{"p2", "p3"}, ids(t, cur, err))

	cur, err = c.Find(ctx, "player", connector.FindOptions{Predicate: query.Eq("name", "Ann"), Skip: 1})
	assert.Equal(t, []string{"p3"}, ids(t, cur, err))

	cur, err = c.Find(ctx, "player", connector.FindOptions{Skip: 10})
	assert.Equal(t, []string{}, ids(t, cur, err))
}

func testFindMatchFunc(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()
	seedPlayers(t, c)

	pred := query.All(
		query.Eq("name", "Ann"),
		query.Func("high-level", func(d record.Document) bool {
			lvl, ok := d["level"].(json.Number)
			if !ok {
				return false
			}
			n, _ := lvl.Int64()
			return n > 15
		}),
	)
	cur, err := c.Find(ctx, "player", connector.FindOptions{Predicate: pred})
	assert.Equal(t, []string{"p3"}, ids(t, cur, err))
}

func testFindEarlyClose(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()
	seedPlayers(t, c)

	cur, err := c.Find(ctx, "player", connector.FindOptions{})
	require.NoError(t, err)
	require.True(t, cur.Next())
	assert.Equal(t, "p1", cur.Record().Key.ID)
	require.NoError(t, cur.Close())
	require.NoError(t, cur.Close())
	assert.False(t, cur.Next())

	// the connector remains usable after an abandoned cursor
	_, err = c.Get(ctx, record.NewKey("player", "p2"))
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, Rec("player", "p9", 1, record.Document{}), 0))
}

func testFindRestartable(t *testing.T, h Harness) {
	c := h.New(t)
	ctx := context.Background()
	seedPlayers(t, c)
	opts := connector.FindOptions{Predicate: query.Eq("name", "Ann")}

	first, err := c.Find(ctx, "player", opts)
	firstIDs := ids(t, first, err)
	second, err := c.Find(ctx, "player", opts)
	assert.Equal(t, firstIDs, ids(t, second, err))
}

func testConcurrentCreate(t *testing.T, h Harness) {
	c := h.New(t)
	if !c.Capabilities().NativeCAS {
		t.Skip("connector does not advertise native CAS")
	}
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := Rec("lock:player", "p1", 1, record.Document{"owner": fmt.Sprintf("node-%d", i)})
			if err := c.Put(ctx, rec, 0); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, connector.ErrVersionConflict)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func testTTL(t *testing.T, h Harness) {
	c := h.New(t)
	if !c.Capabilities().NativeTTL {
		t.Skip("connector does not advertise native TTL")
	}
	ctx := context.Background()
	rec := Rec("player", "p1", 1, record.Document{})

	require.NoError(t, c.Put(ctx, rec, 0, connector.WithTTL(100*time.Millisecond)))
	ok, err := c.Exists(ctx, rec.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	if h.Advance != nil {
		h.Advance(150 * time.Millisecond)
	} else {
		time.Sleep(150 * time.Millisecond)
	}

	_, err = c.Get(ctx, rec.Key)
	assert.ErrorIs(t, err, connector.ErrNotFound)

	// an expired record no longer blocks set-if-absent
	require.NoError(t, c.Put(ctx, rec, 0))
}
