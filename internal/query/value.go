package query

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
)

// Kind is the JSON kind of a normalized literal or document value.
type Kind int

const (
	KindInvalid Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
)

// Literal is a normalized comparison value.
// Integers are kept exact in Int; every other number lives in Float.
type Literal struct {
	Kind    Kind
	Bool    bool
	String  string
	Int     int64
	Float   float64
	IsFloat bool
}

// SQLValue returns the value to bind as a query parameter.
func (l Literal) SQLValue() any {
	switch l.Kind {
	case KindBool:
		if l.Bool {
			return int64(1)
		}
		return int64(0)
	case KindNumber:
		if l.IsFloat {
			return l.Float
		}
		return l.Int
	case KindString:
		return l.String
	default:
		return nil
	}
}

// Normalize converts a Go value into a Literal.
// Document values (json.Number, string, bool, nil) and Go scalars are
// accepted; containers are rejected.
func Normalize(v any) (Literal, error) {
	switch val := v.(type) {
	case nil:
		return Literal{Kind: KindNull}, nil
	case bool:
		return Literal{Kind: KindBool, Bool: val}, nil
	case string:
		return Literal{Kind: KindString, String: val}, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Literal{Kind: KindNumber, Int: i}, nil
		}
		f, err := val.Float64()
		if err != nil {
			return Literal{}, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return floatLiteral(f), nil
	case int:
		return Literal{Kind: KindNumber, Int: int64(val)}, nil
	case int8:
		return Literal{Kind: KindNumber, Int: int64(val)}, nil
	case int16:
		return Literal{Kind: KindNumber, Int: int64(val)}, nil
	case int32:
		return Literal{Kind: KindNumber, Int: int64(val)}, nil
	case int64:
		return Literal{Kind: KindNumber, Int: val}, nil
	case uint:
		return uintLiteral(uint64(val)), nil
	case uint8:
		return Literal{Kind: KindNumber, Int: int64(val)}, nil
	case uint16:
		return Literal{Kind: KindNumber, Int: int64(val)}, nil
	case uint32:
		return Literal{Kind: KindNumber, Int: int64(val)}, nil
	case uint64:
		return uintLiteral(val), nil
	case float32:
		return floatLiteral(float64(val)), nil
	case float64:
		return floatLiteral(val), nil
	default:
		return Literal{}, fmt.Errorf("unsupported comparison value type %T", v)
	}
}

func uintLiteral(u uint64) Literal {
	if u > math.MaxInt64 {
		return Literal{Kind: KindNumber, Float: float64(u), IsFloat: true}
	}
	return Literal{Kind: KindNumber, Int: int64(u)}
}

// floatLiteral keeps integral floats exact so 3.0 compares equal to 3.
func floatLiteral(f float64) Literal {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Literal{Kind: KindNumber, Int: int64(f)}
	}
	return Literal{Kind: KindNumber, Float: f, IsFloat: true}
}

// compare orders two literals of the same kind.
// ok is false when the kinds differ or the kind has no ordering.
func compare(a, b Literal) (cmp int, ok bool) {
	if a.Kind != b.Kind {
		return 0, false
	}
	switch a.Kind {
	case KindNull:
		return 0, true
	case KindBool:
		if a.Bool == b.Bool {
			return 0, true
		}
		if !a.Bool {
			return -1, true
		}
		return 1, true
	case KindString:
		switch {
		case a.String < b.String:
			return -1, true
		case a.String > b.String:
			return 1, true
		}
		return 0, true
	case KindNumber:
		if !a.IsFloat && !b.IsFloat {
			switch {
			case a.Int < b.Int:
				return -1, true
			case a.Int > b.Int:
				return 1, true
			}
			return 0, true
		}
		af, bf := a.asFloat(), b.asFloat()
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (l Literal) asFloat() float64 {
	if l.IsFloat {
		return l.Float
	}
	return float64(l.Int)
}

// Order compares two document values for sorting. Kinds order as
// null < bool < number < string; values Normalize rejects (containers) sort
// after every scalar and compare equal to each other.
func Order(a, b any) int {
	la, errA := Normalize(a)
	lb, errB := Normalize(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return 1
	case errB != nil:
		return -1
	}
	if la.Kind != lb.Kind {
		return cmp.Compare(la.Kind, lb.Kind)
	}
	c, _ := compare(la, lb)
	return c
}
