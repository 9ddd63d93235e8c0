package sqlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/connector/connectortest"
	"github.com/roach88/pipeline/internal/record"
)

// createTestStore opens a fresh database under t.TempDir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func TestConformance(t *testing.T) {
	connectortest.Run(t, connectortest.Harness{
		New: func(t *testing.T) connector.Connector { return createTestStore(t) },
	})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, connectortest.Rec("player", "p1", 1, record.Document{"name": "Ann"}), 0))
	require.NoError(t, s.Close())

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, record.NewKey("player", "p1"))
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Payload["name"])
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		pragma   string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"user_version", fmt.Sprint(currentSchemaVersion)},
	}
	for _, tt := range tests {
		t.Run(tt.pragma, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(tt.pragma, tt.expected))
		})
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion+1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestCapabilities(t *testing.T) {
	s := createTestStore(t)
	assert.Equal(t, connector.Capabilities{NativeCAS: true}, s.Capabilities())
	assert.Equal(t, "sqlite", s.Name())
}

func TestConflictReportsStoredVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, connectortest.Rec("player", "p1", 3, record.Document{}), 0))

	err := s.Put(ctx, connectortest.Rec("player", "p1", 2, record.Document{}), 1)
	var conflict *connector.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(3), conflict.Actual)
}

func TestFind_CursorOpenDuringWrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, connectortest.Rec("player", fmt.Sprintf("p%d", i), 1, record.Document{}), 0))
	}

	cur, err := s.Find(ctx, "player", connector.FindOptions{})
	require.NoError(t, err)
	defer cur.Close()

	seen := 0
	for cur.Next() {
		rec := cur.Record()
		next := rec
		next.Version = rec.Version + 1
		require.NoError(t, s.Put(ctx, next, rec.Version))
		seen++
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, 3, seen)
}

func TestFind_CorruptPayloadSurfacesOnCursor(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(`INSERT INTO records (type, id, version, payload, last_modified)
		VALUES ('player', 'p1', 1, '{}', 'not a time')`)
	require.NoError(t, err)

	cur, err := s.Find(ctx, "player", connector.FindOptions{})
	require.NoError(t, err)
	defer cur.Close()

	assert.False(t, cur.Next())
	assert.ErrorIs(t, cur.Err(), connector.ErrUnavailable)
}
