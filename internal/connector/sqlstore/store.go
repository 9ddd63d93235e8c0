package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - records table
const currentSchemaVersion = 1

// ErrSchemaTooNew is returned when the database was written by a newer build.
var ErrSchemaTooNew = errors.New("database schema is newer than this build supports")

const maxOpenConns = 8

// Store is a SQLite-backed connector.
type Store struct {
	db       *sql.DB
	name     string
	compiler *SQLCompiler
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Writers serialize on the busy timeout; readers run concurrently under WAL.
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(2)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, name: "sqlite", compiler: NewSQLCompiler()}, nil
}

// dsn attaches the pragmas to the connection string so every pooled
// connection gets them, not just the first.
func dsn(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", "5000")
	return "file:" + path + "?" + params.Encode()
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("%w: user_version %d > %d", ErrSchemaTooNew, version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Name implements connector.Connector.
func (s *Store) Name() string { return s.name }

// Capabilities implements connector.Connector.
func (s *Store) Capabilities() connector.Capabilities {
	return connector.Capabilities{NativeCAS: true}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements connector.Connector.
func (s *Store) Get(ctx context.Context, key record.Key) (record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, version, payload, last_modified FROM records WHERE type = ? AND id = ?",
		key.Type, key.ID)

	rec, err := scanRecord(key.Type, row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, connector.NotFound(key)
	}
	if err != nil {
		return record.Record{}, connector.Unavailable(s.name, err)
	}
	return rec, nil
}

// Put implements connector.Connector. TTL options are ignored.
func (s *Store) Put(ctx context.Context, rec record.Record, expected int64, _ ...connector.PutOption) error {
	if err := rec.Key.Validate(); err != nil {
		return err
	}
	payload, err := record.MarshalDocument(rec.Payload)
	if err != nil {
		return err
	}
	modified := formatTime(rec.LastModified)

	var res sql.Result
	switch {
	case expected == connector.AnyVersion:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO records (type, id, version, payload, last_modified)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (type, id) DO UPDATE SET
				version = excluded.version,
				payload = excluded.payload,
				last_modified = excluded.last_modified`,
			rec.Key.Type, rec.Key.ID, rec.Version, string(payload), modified)
	case expected == 0:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO records (type, id, version, payload, last_modified)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (type, id) DO NOTHING`,
			rec.Key.Type, rec.Key.ID, rec.Version, string(payload), modified)
	default:
		res, err = s.db.ExecContext(ctx, `
			UPDATE records SET version = ?, payload = ?, last_modified = ?
			WHERE type = ? AND id = ? AND version = ?`,
			rec.Version, string(payload), modified, rec.Key.Type, rec.Key.ID, expected)
	}
	if err != nil {
		return connector.Unavailable(s.name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return connector.Unavailable(s.name, err)
	}
	if n == 0 {
		return connector.Conflict(rec.Key, expected, s.storedVersion(ctx, rec.Key))
	}
	return nil
}

// Remove implements connector.Connector.
func (s *Store) Remove(ctx context.Context, key record.Key, expected int64) error {
	var res sql.Result
	var err error
	if expected == connector.AnyVersion {
		res, err = s.db.ExecContext(ctx,
			"DELETE FROM records WHERE type = ? AND id = ?",
			key.Type, key.ID)
	} else {
		res, err = s.db.ExecContext(ctx,
			"DELETE FROM records WHERE type = ? AND id = ? AND version = ?",
			key.Type, key.ID, expected)
	}
	if err != nil {
		return connector.Unavailable(s.name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return connector.Unavailable(s.name, err)
	}
	if n > 0 {
		return nil
	}

	stored := s.storedVersion(ctx, key)
	if stored == 0 {
		return connector.NotFound(key)
	}
	return connector.Conflict(key, expected, stored)
}

// storedVersion reports the current version for error details, 0 if absent.
func (s *Store) storedVersion(ctx context.Context, key record.Key) int64 {
	var v int64
	err := s.db.QueryRowContext(ctx,
		"SELECT version FROM records WHERE type = ? AND id = ?",
		key.Type, key.ID).Scan(&v)
	if err != nil {
		return 0
	}
	return v
}

// Exists implements connector.Connector.
func (s *Store) Exists(ctx context.Context, key record.Key) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM records WHERE type = ? AND id = ?",
		key.Type, key.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, connector.Unavailable(s.name, err)
	}
	return true, nil
}

// Find implements connector.Connector.
func (s *Store) Find(ctx context.Context, typ string, opts connector.FindOptions) (connector.Cursor, error) {
	typ = record.NewKey(typ, "_").Type

	q, err := s.compiler.Compile(typ, opts)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, connector.Unavailable(s.name, err)
	}

	var cur connector.Cursor = &rowCursor{typ: typ, rows: rows, name: s.name}
	if q.Residual != nil {
		cur = connector.Filter(cur, q.Residual, q.Skip, q.Limit)
	}
	return cur, nil
}

type rowCursor struct {
	typ  string
	name string
	rows *sql.Rows
	cur  record.Record
	err  error
}

func (c *rowCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	rec, err := scanRecord(c.typ, c.rows)
	if err != nil {
		c.err = err
		c.rows.Close()
		return false
	}
	c.cur = rec
	return true
}

func (c *rowCursor) Record() record.Record { return c.cur }

func (c *rowCursor) Err() error {
	if c.err != nil {
		return connector.Unavailable(c.name, c.err)
	}
	if err := c.rows.Err(); err != nil {
		return connector.Unavailable(c.name, err)
	}
	return nil
}

func (c *rowCursor) Close() error {
	return c.rows.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(typ string, row scanner) (record.Record, error) {
	var (
		id       string
		version  int64
		payload  string
		modified string
	)
	if err := row.Scan(&id, &version, &payload, &modified); err != nil {
		return record.Record{}, err
	}

	doc, err := record.UnmarshalDocument([]byte(payload))
	if err != nil {
		return record.Record{}, fmt.Errorf("record %s/%s: %w", typ, id, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, modified)
	if err != nil {
		return record.Record{}, fmt.Errorf("record %s/%s: last_modified: %w", typ, id, err)
	}

	return record.Record{
		Key:          record.Key{Type: typ, ID: id},
		Version:      version,
		Payload:      doc,
		LastModified: ts,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
