// Package localcache is the per-node cache of decoded objects.
//
// Entries live in a lock-free skip list ordered by (type, id), so reads never
// block. Mutations of one key are serialized through a striped mutex; there
// is no cache-wide lock. When the cache grows past its capacity a single
// evictor drops the least recently used entries, down to a low-water mark
// a tenth below capacity, while readers carry on.
package localcache

import (
	"hash/maphash"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhangyunhao116/skipmap"

	"github.com/roach88/pipeline/internal/clock"
	"github.com/roach88/pipeline/internal/record"
)

const stripes = 64

// Entry is a cached object and the record version it was decoded from.
type Entry struct {
	Value   any
	Version int64
}

type entry struct {
	Entry
	insertedAt int64
	lastAccess atomic.Int64
}

// Stats are cumulative counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is safe for concurrent use.
type Cache struct {
	m *skipmap.FuncMap[record.Key, *entry]

	capacity          int
	expireAfterWrite  time.Duration
	expireAfterAccess time.Duration
	clock             clock.Clock

	seed     maphash.Seed
	locks    [stripes]sync.Mutex
	evicting atomic.Bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity bounds the number of entries. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		c.capacity = n
	}
}

// WithExpireAfterWrite drops entries d after they were stored.
func WithExpireAfterWrite(d time.Duration) Option {
	return func(c *Cache) {
		c.expireAfterWrite = d
	}
}

// WithExpireAfterAccess drops entries not read for d.
func WithExpireAfterAccess(d time.Duration) Option {
	return func(c *Cache) {
		c.expireAfterAccess = d
	}
}

// WithClock sets the clock used for expiry and recency.
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		c.clock = clock.OrSystem(clk)
	}
}

func lessKey(a, b record.Key) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.ID < b.ID
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		m:     skipmap.NewFunc[record.Key, *entry](lessKey),
		clock: clock.System{},
		seed:  maphash.MakeSeed(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) lock(key record.Key) *sync.Mutex {
	var h maphash.Hash
	h.SetSeed(c.seed)
	h.WriteString(key.Type)
	h.WriteByte(0)
	h.WriteString(key.ID)
	return &c.locks[h.Sum64()%stripes]
}

func (c *Cache) expired(e *entry, now int64) bool {
	if c.expireAfterWrite > 0 && now-e.insertedAt >= int64(c.expireAfterWrite) {
		return true
	}
	if c.expireAfterAccess > 0 && now-e.lastAccess.Load() >= int64(c.expireAfterAccess) {
		return true
	}
	return false
}

// Get returns the cached entry. Expired entries are dropped and reported as
// a miss.
func (c *Cache) Get(key record.Key) (Entry, bool) {
	e, ok := c.m.Load(key)
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	now := c.clock.Now().UnixNano()
	if c.expired(e, now) {
		c.remove(key, e)
		c.misses.Add(1)
		return Entry{}, false
	}
	e.lastAccess.Store(now)
	c.hits.Add(1)
	return e.Entry, true
}

// Put stores value unless a newer version is already cached.
// It reports whether the value was stored.
func (c *Cache) Put(key record.Key, value any, version int64) bool {
	now := c.clock.Now().UnixNano()
	e := &entry{Entry: Entry{Value: value, Version: version}, insertedAt: now}
	e.lastAccess.Store(now)

	mu := c.lock(key)
	mu.Lock()
	if cur, ok := c.m.Load(key); ok && cur.Version > version && !c.expired(cur, now) {
		mu.Unlock()
		return false
	}
	c.m.Store(key, e)
	mu.Unlock()

	if c.capacity > 0 && c.m.Len() > c.capacity {
		c.evict()
	}
	return true
}

// Invalidate drops key.
func (c *Cache) Invalidate(key record.Key) {
	mu := c.lock(key)
	mu.Lock()
	c.m.Delete(key)
	mu.Unlock()
}

// InvalidateOlder drops key if the cached version is below version.
// It reports whether an entry was dropped.
func (c *Cache) InvalidateOlder(key record.Key, version int64) bool {
	mu := c.lock(key)
	mu.Lock()
	defer mu.Unlock()
	cur, ok := c.m.Load(key)
	if !ok || cur.Version >= version {
		return false
	}
	c.m.Delete(key)
	return true
}

// InvalidateType drops every entry of typ.
func (c *Cache) InvalidateType(typ string) {
	var keys []record.Key
	c.m.Range(func(key record.Key, _ *entry) bool {
		if key.Type == typ {
			keys = append(keys, key)
		}
		return key.Type <= typ
	})
	for _, key := range keys {
		c.Invalidate(key)
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	var keys []record.Key
	c.m.Range(func(key record.Key, _ *entry) bool {
		keys = append(keys, key)
		return true
	})
	for _, key := range keys {
		c.Invalidate(key)
	}
}

// Len returns the number of stored entries, expired ones included until
// they are next touched.
func (c *Cache) Len() int {
	return c.m.Len()
}

// Stats returns the cumulative counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// remove drops key only if it still maps to e.
func (c *Cache) remove(key record.Key, e *entry) bool {
	mu := c.lock(key)
	mu.Lock()
	defer mu.Unlock()
	if cur, ok := c.m.Load(key); ok && cur == e {
		c.m.Delete(key)
		return true
	}
	return false
}

type candidate struct {
	key        record.Key
	e          *entry
	lastAccess int64
}

// lowWater is the size evict trims to. The headroom below capacity lets
// many Puts share the cost of one full scan.
func (c *Cache) lowWater() int {
	return c.capacity - c.capacity/10
}

// evict trims the cache to its low-water mark, expired entries first, then
// the least recently used. Concurrent callers return immediately.
func (c *Cache) evict() {
	if !c.evicting.CompareAndSwap(false, true) {
		return
	}
	defer c.evicting.Store(false)

	now := c.clock.Now().UnixNano()
	var live []candidate
	c.m.Range(func(key record.Key, e *entry) bool {
		if c.expired(e, now) {
			if c.remove(key, e) {
				c.evictions.Add(1)
			}
			return true
		}
		live = append(live, candidate{key: key, e: e, lastAccess: e.lastAccess.Load()})
		return true
	})

	excess := len(live) - c.lowWater()
	if excess <= 0 {
		return
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].lastAccess < live[j].lastAccess
	})
	for _, cand := range live[:excess] {
		if c.remove(cand.key, cand.e) {
			c.evictions.Add(1)
		}
	}
}
