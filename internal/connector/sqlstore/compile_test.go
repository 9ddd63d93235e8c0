package sqlstore

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

func render(q compiledFind) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "sql: %s\n", q.SQL)
	for i, arg := range q.Args {
		fmt.Fprintf(&b, "arg %d: %T %v\n", i, arg, arg)
	}
	if q.Residual != nil {
		fmt.Fprintf(&b, "residual: skip=%d limit=%d\n", q.Skip, q.Limit)
	}
	return []byte(b.String())
}

func TestCompile_Golden(t *testing.T) {
	always := func(record.Document) bool { return true }

	tests := []struct {
		name string
		opts connector.FindOptions
	}{
		{"find_all", connector.FindOptions{}},
		{"find_eq_string", connector.FindOptions{Predicate: query.Eq("name", "Ann")}},
		{"find_and_or_not_paged", connector.FindOptions{
			Predicate: query.All(
				query.Gte("level", 10),
				query.Any(query.Eq("active", true), query.Negate(query.Eq("guild", nil))),
			),
			Skip:  5,
			Limit: 10,
		}},
		{"find_residual", connector.FindOptions{
			Predicate: query.All(query.Eq("name", "Ann"), query.Func("always", always)),
			Skip:      1,
			Limit:     2,
		}},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewSQLCompiler().Compile("player", tt.opts)
			require.NoError(t, err)
			g.Assert(t, tt.name, render(q))
		})
	}
}

func TestCompile_ValuesNeverInterpolated(t *testing.T) {
	q, err := NewSQLCompiler().Compile("player", connector.FindOptions{
		Predicate: query.Eq("name", "Robert'); DROP TABLE records;--"),
	})
	require.NoError(t, err)

	assert.NotContains(t, q.SQL, "DROP")
	assert.NotContains(t, q.SQL, "$.name")
	assert.Contains(t, q.SQL, "ORDER BY id ASC COLLATE BINARY")
	assert.Equal(t, "Robert'); DROP TABLE records;--", q.Args[len(q.Args)-1])
}

func TestCompile_LimitWithoutSkip(t *testing.T) {
	q, err := NewSQLCompiler().Compile("player", connector.FindOptions{Limit: 3})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(q.SQL, " LIMIT ? OFFSET ?"))
	assert.Equal(t, []any{"player", int64(3), int64(0)}, q.Args)
}

func TestCompile_SkipWithoutLimit(t *testing.T) {
	q, err := NewSQLCompiler().Compile("player", connector.FindOptions{Skip: 2})
	require.NoError(t, err)

	assert.Equal(t, []any{"player", int64(-1), int64(2)}, q.Args)
}

func TestCompile_NullInequalityNeverMatches(t *testing.T) {
	q, err := NewSQLCompiler().Compile("player", connector.FindOptions{Predicate: query.Ne("guild", nil)})
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "WHERE type = ? AND 0 ORDER BY")
	assert.Equal(t, []any{"player"}, q.Args)
}

func TestCompile_EmptyJunctions(t *testing.T) {
	q, err := NewSQLCompiler().Compile("player", connector.FindOptions{Predicate: query.All()})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "AND 1 ORDER BY")

	q, err = NewSQLCompiler().Compile("player", connector.FindOptions{Predicate: query.Any()})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "AND 0 ORDER BY")
}

func TestCompile_NonConjunctionMatchIsFullyResidual(t *testing.T) {
	pred := query.Any(query.Eq("name", "Ann"), query.Func("never", func(record.Document) bool { return false }))

	q, err := NewSQLCompiler().Compile("player", connector.FindOptions{Predicate: pred, Limit: 4})
	require.NoError(t, err)

	require.NotNil(t, q.Residual)
	assert.IsType(t, query.Or{}, q.Residual)
	assert.Equal(t, []any{"player"}, q.Args)
	assert.Equal(t, 4, q.Limit)
	assert.NotContains(t, q.SQL, "LIMIT")
}

func TestCompile_InvalidPredicate(t *testing.T) {
	_, err := NewSQLCompiler().Compile("player", connector.FindOptions{Predicate: query.Eq("bad field", 1)})
	assert.ErrorIs(t, err, query.ErrInvalidPredicate)
}
