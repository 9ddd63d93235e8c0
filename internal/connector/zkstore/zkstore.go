// Package zkstore implements connector.Connector on ZooKeeper.
//
// Records are znodes at <root>/<type>/<id> holding a JSON envelope. The
// record version lives in the envelope; the znode version guards every
// update, so a read-compare-write loses cleanly to a concurrent writer and
// the connector advertises NativeCAS. ZooKeeper has no per-node TTL here.
package zkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

type envelope struct {
	Version  int64           `json:"version"`
	Payload  json.RawMessage `json:"payload"`
	Modified string          `json:"modified"`
}

// Store is a ZooKeeper-backed connector.
type Store struct {
	conn *zk.Conn
	name string
	root string
	acl  []zk.ACL
}

// Option configures a Store.
type Option func(*Store)

// WithName sets the connector name reported in logs and errors.
func WithName(name string) Option {
	return func(s *Store) {
		s.name = name
	}
}

// WithRoot sets the parent znode. Default "/pipeline".
func WithRoot(root string) Option {
	return func(s *Store) {
		s.root = path.Clean("/" + root)
	}
}

// Dial connects to the ensemble and returns a Store owning the session.
func Dial(servers []string, sessionTimeout time.Duration, opts ...Option) (*Store, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{slog.Default()}))
	if err != nil {
		return nil, fmt.Errorf("connect zookeeper: %w", err)
	}
	return New(conn, opts...), nil
}

// zkLogger routes the client's session chatter to slog at debug level.
type zkLogger struct {
	logger *slog.Logger
}

func (l zkLogger) Printf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "zookeeper")
}

// New wraps an established connection. The Store closes it on Close.
func New(conn *zk.Conn, opts ...Option) *Store {
	s := &Store{
		conn: conn,
		name: "zookeeper",
		root: "/pipeline",
		acl:  zk.WorldACL(zk.PermAll),
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
	return connector.Capabilities{NativeCAS: true}
}

// Close ends the session.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

func (s *Store) typePath(typ string) string {
	return s.root + "/" + escape(typ)
}

func (s *Store) recordPath(key record.Key) string {
	return s.typePath(key.Type) + "/" + escape(key.ID)
}

// escape turns an arbitrary string into a single legal znode name.
func escape(name string) string {
	switch name {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(name)
}

func unescape(name string) (string, error) {
	return url.PathUnescape(name)
}

// Get implements connector.Connector.
func (s *Store) Get(ctx context.Context, key record.Key) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, connector.Unavailable(s.name, err)
	}
	rec, _, err := s.read(key)
	return rec, err
}

// read returns the record and its znode version.
func (s *Store) read(key record.Key) (record.Record, int32, error) {
	data, stat, err := s.conn.Get(s.recordPath(key))
	if errors.Is(err, zk.ErrNoNode) {
		return record.Record{}, 0, connector.NotFound(key)
	}
	if err != nil {
		return record.Record{}, 0, connector.Unavailable(s.name, err)
	}
	rec, err := decode(key, data)
	if err != nil {
		return record.Record{}, 0, connector.Unavailable(s.name, err)
	}
	return rec, stat.Version, nil
}

// Put implements connector.Connector. TTL options are ignored.
func (s *Store) Put(ctx context.Context, rec record.Record, expected int64, _ ...connector.PutOption) error {
	if err := ctx.Err(); err != nil {
		return connector.Unavailable(s.name, err)
	}
	if err := rec.Key.Validate(); err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	p := s.recordPath(rec.Key)

	switch expected {
	case 0:
		return s.create(rec.Key, p, data, expected)
	case connector.AnyVersion:
		for {
			_, err := s.conn.Set(p, data, -1)
			if err == nil {
				return nil
			}
			if !errors.Is(err, zk.ErrNoNode) {
				return connector.Unavailable(s.name, err)
			}
			err = s.create(rec.Key, p, data, expected)
			if !errors.Is(err, connector.ErrVersionConflict) {
				return err
			}
			// lost a create race; overwrite
		}
	default:
		cur, zv, err := s.read(rec.Key)
		if errors.Is(err, connector.ErrNotFound) {
			return connector.Conflict(rec.Key, expected, 0)
		}
		if err != nil {
			return err
		}
		if cur.Version != expected {
			return connector.Conflict(rec.Key, expected, cur.Version)
		}
		_, err = s.conn.Set(p, data, zv)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, zk.ErrBadVersion):
			return connector.Conflict(rec.Key, expected, s.storedVersion(rec.Key))
		case errors.Is(err, zk.ErrNoNode):
			return connector.Conflict(rec.Key, expected, 0)
		default:
			return connector.Unavailable(s.name, err)
		}
	}
}

func (s *Store) create(key record.Key, p string, data []byte, expected int64) error {
	if err := s.ensureParent(key.Type); err != nil {
		return err
	}
	_, err := s.conn.Create(p, data, 0, s.acl)
	if errors.Is(err, zk.ErrNodeExists) {
		return connector.Conflict(key, expected, s.storedVersion(key))
	}
	if err != nil {
		return connector.Unavailable(s.name, err)
	}
	return nil
}

// ensureParent creates the root and type znodes if needed.
func (s *Store) ensureParent(typ string) error {
	var cur string
	full := s.typePath(typ)
	for _, part := range strings.Split(strings.TrimPrefix(full, "/"), "/") {
		cur += "/" + part
		_, err := s.conn.Create(cur, nil, 0, s.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return connector.Unavailable(s.name, fmt.Errorf("create %s: %w", cur, err))
		}
	}
	return nil
}

func (s *Store) storedVersion(key record.Key) int64 {
	rec, _, err := s.read(key)
	if err != nil {
		return 0
	}
	return rec.Version
}

// Remove implements connector.Connector.
func (s *Store) Remove(ctx context.Context, key record.Key, expected int64) error {
	if err := ctx.Err(); err != nil {
		return connector.Unavailable(s.name, err)
	}
	cur, zv, err := s.read(key)
	if err != nil {
		return err
	}
	if expected != connector.AnyVersion && cur.Version != expected {
		return connector.Conflict(key, expected, cur.Version)
	}

	err = s.conn.Delete(s.recordPath(key), zv)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return connector.NotFound(key)
	case errors.Is(err, zk.ErrBadVersion):
		if expected == connector.AnyVersion {
			return s.Remove(ctx, key, expected)
		}
		return connector.Conflict(key, expected, s.storedVersion(key))
	default:
		return connector.Unavailable(s.name, err)
	}
}

// Exists implements connector.Connector.
func (s *Store) Exists(ctx context.Context, key record.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, connector.Unavailable(s.name, err)
	}
	ok, _, err := s.conn.Exists(s.recordPath(key))
	if err != nil {
		return false, connector.Unavailable(s.name, err)
	}
	return ok, nil
}

// Find implements connector.Connector.
// Children are listed once; each record is read as the cursor reaches it.
func (s *Store) Find(ctx context.Context, typ string, opts connector.FindOptions) (connector.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, connector.Unavailable(s.name, err)
	}
	if err := query.Validate(opts.Predicate); err != nil {
		return nil, err
	}
	typ = record.NewKey(typ, "_").Type

	children, _, err := s.conn.Children(s.typePath(typ))
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return nil, connector.Unavailable(s.name, err)
	}

	ids := make([]string, 0, len(children))
	for _, child := range children {
		id, err := unescape(child)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cur := &childCursor{ctx: ctx, store: s, typ: typ, ids: ids}
	return connector.Filter(cur, opts.Predicate, opts.Skip, opts.Limit), nil
}

type childCursor struct {
	ctx   context.Context
	store *Store
	typ   string
	ids   []string
	cur   record.Record
	err   error
}

func (c *childCursor) Next() bool {
	for len(c.ids) > 0 && c.err == nil {
		if err := c.ctx.Err(); err != nil {
			c.err = connector.Unavailable(c.store.name, err)
			return false
		}
		id := c.ids[0]
		c.ids = c.ids[1:]

		rec, _, err := c.store.read(record.Key{Type: c.typ, ID: id})
		if errors.Is(err, connector.ErrNotFound) {
			// removed since the listing
			continue
		}
		if err != nil {
			c.err = err
			return false
		}
		c.cur = rec
		return true
	}
	return false
}

func (c *childCursor) Record() record.Record { return c.cur }

func (c *childCursor) Err() error { return c.err }

func (c *childCursor) Close() error {
	c.ids = nil
	return nil
}

func encode(rec record.Record) ([]byte, error) {
	payload, err := record.MarshalDocument(rec.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Version:  rec.Version,
		Payload:  payload,
		Modified: rec.LastModified.UTC().Format(time.RFC3339Nano),
	})
}

func decode(key record.Key, data []byte) (record.Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return record.Record{}, fmt.Errorf("record %s: %w", key, err)
	}
	doc, err := record.UnmarshalDocument(env.Payload)
	if err != nil {
		return record.Record{}, fmt.Errorf("record %s: %w", key, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, env.Modified)
	if err != nil {
		return record.Record{}, fmt.Errorf("record %s: modified: %w", key, err)
	}
	return record.Record{Key: key, Version: env.Version, Payload: doc, LastModified: ts}, nil
}
