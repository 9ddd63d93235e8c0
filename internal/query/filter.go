package query

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Filter is the JSON form of a predicate, as accepted by the HTTP API and
// the CLI. Exactly one of Field, And, Or or Not is set:
//
//	{"and": [{"field": "name", "op": "eq", "value": "Ann"},
//	         {"not": {"field": "level", "op": "lt", "value": 10}}]}
type Filter struct {
	Field string   `json:"field,omitempty"`
	Op    string   `json:"op,omitempty"`
	Value any      `json:"value,omitempty"`
	And   []Filter `json:"and,omitempty"`
	Or    []Filter `json:"or,omitempty"`
	Not   *Filter  `json:"not,omitempty"`
}

var filterOps = map[string]Op{
	"eq": OpEq, "ne": OpNe, "lt": OpLt, "lte": OpLte, "gt": OpGt, "gte": OpGte,
	string(OpEq): OpEq, string(OpNe): OpNe, string(OpLt): OpLt,
	string(OpLte): OpLte, string(OpGt): OpGt, string(OpGte): OpGte,
}

// ParseFilter decodes a JSON filter into a validated predicate. Numbers keep
// their exact representation. Empty input yields a nil predicate.
func ParseFilter(data []byte) (Predicate, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var f Filter
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPredicate, err)
	}
	return f.Predicate()
}

// Predicate converts f and validates the result.
func (f Filter) Predicate() (Predicate, error) {
	p, err := f.convert()
	if err != nil {
		return nil, err
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (f Filter) convert() (Predicate, error) {
	set := 0
	for _, ok := range []bool{f.Field != "", f.And != nil, f.Or != nil, f.Not != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: filter needs exactly one of field, and, or, not", ErrInvalidPredicate)
	}

	switch {
	case f.Field != "":
		op, ok := filterOps[f.Op]
		if !ok {
			return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, f.Op)
		}
		return Compare{Field: f.Field, Op: op, Value: f.Value}, nil
	case f.And != nil:
		parts, err := convertAll(f.And)
		return And{Predicates: parts}, err
	case f.Or != nil:
		parts, err := convertAll(f.Or)
		return Or{Predicates: parts}, err
	default:
		inner, err := f.Not.convert()
		return Not{Predicate: inner}, err
	}
}

func convertAll(filters []Filter) ([]Predicate, error) {
	out := make([]Predicate, 0, len(filters))
	for _, f := range filters {
		p, err := f.convert()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
