package query

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/record"
)

func testDoc() record.Document {
	return record.Document{
		"name":    "Ann",
		"level":   json.Number("12"),
		"ratio":   json.Number("0.5"),
		"active":  true,
		"guild":   nil,
		"address": map[string]any{"city": "Berlin"},
		"tags":    []any{"a"},
	}
}

func TestEval_Compare(t *testing.T) {
	doc := testDoc()

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"eq string", Eq("name", "Ann"), true},
		{"eq string mismatch", Eq("name", "Bob"), false},
		{"eq int vs json number", Eq("level", 12), true},
		{"eq integral float", Eq("level", 12.0), true},
		{"ne", Ne("name", "Bob"), true},
		{"lt", Lt("level", 13), true},
		{"lte equal", Lte("level", 12), true},
		{"gt", Gt("level", 12), false},
		{"gte", Gte("level", 12), true},
		{"float compare", Lt("ratio", 1), true},
		{"string ordering", Lt("name", "B"), true},
		{"bool", Eq("active", true), true},
		{"null", Eq("guild", nil), true},
		{"nested", Eq("address.city", "Berlin"), true},
		{"missing field", Eq("missing", "x"), false},
		{"missing field ne", Ne("missing", "x"), false},
		{"kind mismatch", Eq("level", "12"), false},
		{"kind mismatch ne", Ne("level", "12"), false},
		{"container never matches", Eq("tags", "a"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, Validate(tt.pred))
			assert.Equal(t, tt.want, Eval(tt.pred, doc))
		})
	}
}

func TestEval_Combinators(t *testing.T) {
	doc := testDoc()

	assert.True(t, Eval(All(Eq("name", "Ann"), Gt("level", 10)), doc))
	assert.False(t, Eval(All(Eq("name", "Ann"), Gt("level", 20)), doc))
	assert.True(t, Eval(Any(Eq("name", "Bob"), Gt("level", 10)), doc))
	assert.False(t, Eval(Any(), doc))
	assert.True(t, Eval(All(), doc))
	assert.True(t, Eval(Negate(Eq("missing", "x")), doc))
	assert.True(t, Eval(nil, doc))
}

func TestEval_Match(t *testing.T) {
	doc := testDoc()

	p := Func("name-prefix", func(d record.Document) bool {
		name, _ := d["name"].(string)
		return strings.HasPrefix(name, "A")
	})
	assert.True(t, Eval(p, doc))
	assert.False(t, Compilable(p))
	assert.False(t, Compilable(All(Eq("name", "Ann"), Negate(p))))
	assert.True(t, Compilable(All(Eq("name", "Ann"), Negate(Gt("level", 1)))))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		pred Predicate
	}{
		{"empty field", Eq("", "x")},
		{"injection in field", Eq("name') OR 1=1 --", "x")},
		{"container value", Eq("name", []string{"a"})},
		{"ordering on bool", Lt("active", true)},
		{"ordering on null", Gt("guild", nil)},
		{"unknown op", Compare{Field: "name", Op: "LIKE", Value: "A%"}},
		{"nil inside and", And{Predicates: []Predicate{nil}}},
		{"nil not", Not{}},
		{"match without fn", Match{Name: "empty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(tt.pred), ErrInvalidPredicate)
		})
	}
}

func TestNormalize(t *testing.T) {
	lit, err := Normalize(uint64(1) << 63)
	require.NoError(t, err)
	assert.True(t, lit.IsFloat)

	lit, err = Normalize(json.Number("9007199254740993"))
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), lit.Int)
	assert.Equal(t, int64(9007199254740993), lit.SQLValue())

	lit, err = Normalize(true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lit.SQLValue())

	_, err = Normalize(struct{}{})
	assert.Error(t, err)
}

func TestOrder(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"numbers", json.Number("2"), json.Number("10"), -1},
		{"int and float", json.Number("3"), 3.0, 0},
		{"strings", "Bob", "Ann", 1},
		{"null before bool", nil, false, -1},
		{"bool before number", true, json.Number("0"), -1},
		{"number before string", json.Number("99"), "1", -1},
		{"containers last", map[string]any{}, "z", 1},
		{"containers equal", []any{1}, map[string]any{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Order(tt.a, tt.b))
		})
	}
}
