package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Predicate
	}{
		{"empty", ``, nil},
		{"compare", `{"field":"name","op":"eq","value":"Ann"}`, Eq("name", "Ann")},
		{"symbol op", `{"field":"level","op":">=","value":10}`, Gte("level", json.Number("10"))},
		{"null value", `{"field":"guild","op":"eq"}`, Eq("guild", nil)},
		{"and", `{"and":[{"field":"a","op":"lt","value":1.5},{"field":"b","op":"ne","value":true}]}`,
			All(Lt("a", json.Number("1.5")), Ne("b", true))},
		{"empty or", `{"or":[]}`, Or{Predicates: []Predicate{}}},
		{"not", `{"not":{"field":"name","op":"gt","value":"M"}}`, Negate(Gt("name", "M"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilter_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `{`},
		{"unknown key", `{"feild":"name","op":"eq","value":"Ann"}`},
		{"nothing set", `{}`},
		{"two set", `{"field":"a","op":"eq","value":1,"not":{"field":"b","op":"eq","value":2}}`},
		{"unknown op", `{"field":"a","op":"like","value":"x"}`},
		{"bad field", `{"field":"a b","op":"eq","value":1}`},
		{"container value", `{"field":"a","op":"eq","value":[1]}`},
		{"ordering bool", `{"field":"a","op":"lt","value":true}`},
		{"nested error", `{"and":[{"field":"a","op":"eq","value":1},{"or":[{}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter([]byte(tt.in))
			assert.ErrorIs(t, err, ErrInvalidPredicate)
		})
	}
}

func TestParseFilter_EvaluatesLikeBuilders(t *testing.T) {
	p, err := ParseFilter([]byte(`{"and":[{"field":"name","op":"eq","value":"Ann"},{"field":"level","op":"gt","value":10}]}`))
	require.NoError(t, err)
	assert.True(t, Eval(p, testDoc()))
	assert.False(t, Eval(Negate(p), testDoc()))
}
