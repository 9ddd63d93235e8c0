package query

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidPredicate is returned by Validate for malformed predicates.
var ErrInvalidPredicate = errors.New("invalid predicate")

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// Validate checks that p is well formed. A nil predicate is valid.
//
// Validate is a pure function with no side effects.
func Validate(p Predicate) error {
	if p == nil {
		return nil
	}

	switch pred := p.(type) {
	case Compare:
		return validateCompare(pred)
	case *Compare:
		return validateCompare(*pred)
	case And:
		return validateAll(pred.Predicates)
	case *And:
		return validateAll(pred.Predicates)
	case Or:
		return validateAll(pred.Predicates)
	case *Or:
		return validateAll(pred.Predicates)
	case Not:
		if pred.Predicate == nil {
			return fmt.Errorf("%w: not of nil predicate", ErrInvalidPredicate)
		}
		return Validate(pred.Predicate)
	case *Not:
		if pred.Predicate == nil {
			return fmt.Errorf("%w: not of nil predicate", ErrInvalidPredicate)
		}
		return Validate(pred.Predicate)
	case Match:
		if pred.Fn == nil {
			return fmt.Errorf("%w: match %q has no function", ErrInvalidPredicate, pred.Name)
		}
		return nil
	case *Match:
		if pred.Fn == nil {
			return fmt.Errorf("%w: match %q has no function", ErrInvalidPredicate, pred.Name)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported predicate type %T", ErrInvalidPredicate, p)
	}
}

// Compilable reports whether p can be translated to a backend query.
// Any Match anywhere in the tree forces stream-and-filter evaluation.
func Compilable(p Predicate) bool {
	if p == nil {
		return true
	}

	switch pred := p.(type) {
	case Compare, *Compare:
		return true
	case And:
		return allCompilable(pred.Predicates)
	case *And:
		return allCompilable(pred.Predicates)
	case Or:
		return allCompilable(pred.Predicates)
	case *Or:
		return allCompilable(pred.Predicates)
	case Not:
		return Compilable(pred.Predicate)
	case *Not:
		return Compilable(pred.Predicate)
	default:
		return false
	}
}

func allCompilable(preds []Predicate) bool {
	for _, p := range preds {
		if !Compilable(p) {
			return false
		}
	}
	return true
}

func validateAll(preds []Predicate) error {
	for i, p := range preds {
		if p == nil {
			return fmt.Errorf("%w: nil predicate at index %d", ErrInvalidPredicate, i)
		}
		if err := Validate(p); err != nil {
			return err
		}
	}
	return nil
}

func validateCompare(c Compare) error {
	if !fieldPattern.MatchString(c.Field) {
		return fmt.Errorf("%w: field path %q", ErrInvalidPredicate, c.Field)
	}

	lit, err := Normalize(c.Value)
	if err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrInvalidPredicate, c.Field, err)
	}

	switch c.Op {
	case OpEq, OpNe:
		return nil
	case OpLt, OpLte, OpGt, OpGte:
		if lit.Kind != KindNumber && lit.Kind != KindString {
			return fmt.Errorf("%w: operator %s needs a number or string, got %v", ErrInvalidPredicate, c.Op, c.Value)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, c.Op)
	}
}
