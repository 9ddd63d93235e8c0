// Package redisstore implements connector.Connector on Redis.
//
// Each record is a hash {version, payload, modified}. A per-type sorted set
// with all scores at zero indexes the ids, so ZRANGEBYLEX walks them in
// binary order. Writes and removals run as Lua scripts, which makes the
// version check atomic. Records written WithTTL expire through PEXPIRE; their
// index entries are pruned by the next Find that walks past them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

// KEYS: data, index. ARGV: expected, version, payload, modified, ttl ms, id.
// Returns {1, 0} on success or {0, stored} on a version mismatch.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
local expected = tonumber(ARGV[1])
if expected == 0 then
  if cur then return {0, tonumber(cur)} end
elseif expected ~= -1 then
  if (not cur) or tonumber(cur) ~= expected then return {0, tonumber(cur or '0')} end
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'payload', ARGV[3], 'modified', ARGV[4])
local ttl = tonumber(ARGV[5])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
else
  redis.call('PERSIST', KEYS[1])
end
redis.call('ZADD', KEYS[2], 0, ARGV[6])
return {1, 0}
`)

// KEYS: data, index. ARGV: expected, id.
// Returns {1, 0} on success, {0, stored} on mismatch, {-1, 0} when missing.
var removeScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then
  redis.call('ZREM', KEYS[2], ARGV[2])
  return {-1, 0}
end
local expected = tonumber(ARGV[1])
if expected ~= -1 and tonumber(cur) ~= expected then return {0, tonumber(cur)} end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return {1, 0}
`)

// KEYS: index, data... ARGV: ids, aligned with KEYS[2:].
// Drops index entries whose hash no longer exists and returns how many.
var pruneScript = redis.NewScript(`
local n = 0
for i, id in ipairs(ARGV) do
  if redis.call('EXISTS', KEYS[i + 1]) == 0 then
    n = n + redis.call('ZREM', KEYS[1], id)
  end
end
return n
`)

var fields = []string{"version", "payload", "modified"}

// Store is a Redis-backed connector.
type Store struct {
	client   redis.UniversalClient
	name     string
	prefix   string
	pageSize int64
}

// Option configures a Store.
type Option func(*Store)

// WithName sets the connector name reported in logs and errors.
func WithName(name string) Option {
	return func(s *Store) {
		s.name = name
	}
}

// WithPrefix namespaces every key. Default "pipeline".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithPageSize sets how many ids a Find cursor fetches per round trip.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = int64(n)
		}
	}
}

// New wraps a client. The Store owns the client and closes it on Close.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:   client,
		name:     "redis",
		prefix:   "pipeline",
		pageSize: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements connector.Connector.
func (s *Store) Name() string { return s.name }

// Capabilities implements connector.Connector.
func (s *Store) Capabilities() connector.Capabilities {
	return connector.Capabilities{NativeCAS: true, NativeTTL: true}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) dataKey(key record.Key) string {
	return s.prefix + ":r:" + url.QueryEscape(key.Type) + ":" + url.QueryEscape(key.ID)
}

func (s *Store) indexKey(typ string) string {
	return s.prefix + ":i:" + url.QueryEscape(typ)
}

// Get implements connector.Connector.
func (s *Store) Get(ctx context.Context, key record.Key) (record.Record, error) {
	vals, err := s.client.HMGet(ctx, s.dataKey(key), fields...).Result()
	if err != nil {
		return record.Record{}, connector.Unavailable(s.name, err)
	}
	rec, ok, err := decode(key, vals)
	if err != nil {
		return record.Record{}, connector.Unavailable(s.name, err)
	}
	if !ok {
		return record.Record{}, connector.NotFound(key)
	}
	return rec, nil
}

// Put implements connector.Connector.
func (s *Store) Put(ctx context.Context, rec record.Record, expected int64, opts ...connector.PutOption) error {
	if err := rec.Key.Validate(); err != nil {
		return err
	}
	payload, err := record.MarshalDocument(rec.Payload)
	if err != nil {
		return err
	}
	o := connector.ApplyPutOptions(opts...)

	res, err := putScript.Run(ctx, s.client,
		[]string{s.dataKey(rec.Key), s.indexKey(rec.Key.Type)},
		expected, rec.Version, string(payload), formatTime(rec.LastModified), o.TTL.Milliseconds(), rec.Key.ID,
	).Int64Slice()
	if err != nil {
		return connector.Unavailable(s.name, err)
	}
	if res[0] != 1 {
		return connector.Conflict(rec.Key, expected, res[1])
	}
	return nil
}

// Remove implements connector.Connector.
func (s *Store) Remove(ctx context.Context, key record.Key, expected int64) error {
	res, err := removeScript.Run(ctx, s.client,
		[]string{s.dataKey(key), s.indexKey(key.Type)},
		expected, key.ID,
	).Int64Slice()
	if err != nil {
		return connector.Unavailable(s.name, err)
	}
	switch res[0] {
	case 1:
		return nil
	case -1:
		return connector.NotFound(key)
	default:
		return connector.Conflict(key, expected, res[1])
	}
}

// Exists implements connector.Connector.
func (s *Store) Exists(ctx context.Context, key record.Key) (bool, error) {
	n, err := s.client.Exists(ctx, s.dataKey(key)).Result()
	if err != nil {
		return false, connector.Unavailable(s.name, err)
	}
	return n > 0, nil
}

// Find implements connector.Connector.
// Predicates are evaluated client-side while streaming.
func (s *Store) Find(ctx context.Context, typ string, opts connector.FindOptions) (connector.Cursor, error) {
	if err := query.Validate(opts.Predicate); err != nil {
		return nil, err
	}
	typ = record.NewKey(typ, "_").Type

	cur := &indexCursor{ctx: ctx, store: s, typ: typ}
	return connector.Filter(cur, opts.Predicate, opts.Skip, opts.Limit), nil
}

// indexCursor pages through the type index, fetching hashes one page at a
// time with a pipeline.
type indexCursor struct {
	ctx    context.Context
	store  *Store
	typ    string
	offset int64
	page   []record.Record
	cur    record.Record
	done   bool
	err    error
}

func (c *indexCursor) Next() bool {
	for len(c.page) == 0 {
		if c.done || c.err != nil {
			return false
		}
		c.fill()
	}
	c.cur, c.page = c.page[0], c.page[1:]
	return true
}

func (c *indexCursor) fill() {
	s := c.store
	ids, err := s.client.ZRangeByLex(c.ctx, s.indexKey(c.typ), &redis.ZRangeBy{
		Min:    "-",
		Max:    "+",
		Offset: c.offset,
		Count:  s.pageSize,
	}).Result()
	if err != nil {
		c.err = err
		return
	}
	c.offset += int64(len(ids))
	if int64(len(ids)) < s.pageSize {
		c.done = true
	}
	if len(ids) == 0 {
		return
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(c.ctx, s.dataKey(record.Key{Type: c.typ, ID: id}), fields...)
	}
	if _, err := pipe.Exec(c.ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.err = err
		return
	}

	var stale []string
	for i, cmd := range cmds {
		key := record.Key{Type: c.typ, ID: ids[i]}
		rec, ok, err := decode(key, cmd.Val())
		if err != nil {
			c.err = err
			return
		}
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		c.page = append(c.page, rec)
	}
	c.prune(stale)
}

// prune removes index entries of expired records. The script re-checks
// each hash, so an id recreated since the page was read stays indexed.
// Pruning is best effort: a failure only costs the next Find the same walk.
func (c *indexCursor) prune(ids []string) {
	if len(ids) == 0 {
		return
	}
	s := c.store
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, s.indexKey(c.typ))
	args := make([]any, len(ids))
	for i, id := range ids {
		keys = append(keys, s.dataKey(record.Key{Type: c.typ, ID: id}))
		args[i] = id
	}
	n, err := pruneScript.Run(c.ctx, s.client, keys, args...).Int64()
	if err != nil {
		return
	}
	// entries before the offset moved down
	c.offset -= n
}

func (c *indexCursor) Record() record.Record { return c.cur }

func (c *indexCursor) Err() error {
	if c.err != nil {
		return connector.Unavailable(c.store.name, c.err)
	}
	return nil
}

func (c *indexCursor) Close() error {
	c.done = true
	c.page = nil
	return nil
}

// decode converts an HMGET reply. ok is false when the hash is missing.
func decode(key record.Key, vals []any) (record.Record, bool, error) {
	if len(vals) != len(fields) || vals[0] == nil {
		return record.Record{}, false, nil
	}
	version, _ := vals[0].(string)
	payload, _ := vals[1].(string)
	modified, _ := vals[2].(string)

	var v int64
	if _, err := fmt.Sscan(version, &v); err != nil {
		return record.Record{}, false, fmt.Errorf("record %s: version %q: %w", key, version, err)
	}
	doc, err := record.UnmarshalDocument([]byte(payload))
	if err != nil {
		return record.Record{}, false, fmt.Errorf("record %s: %w", key, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, modified)
	if err != nil {
		return record.Record{}, false, fmt.Errorf("record %s: modified: %w", key, err)
	}

	return record.Record{Key: key, Version: v, Payload: doc, LastModified: ts}, true, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
