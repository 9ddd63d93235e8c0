package query

import "github.com/roach88/pipeline/internal/record"

// Eval reports whether doc satisfies p. A nil predicate matches everything.
//
// Eval assumes p passed Validate; invalid comparisons simply do not match.
func Eval(p Predicate, doc record.Document) bool {
	if p == nil {
		return true
	}

	switch pred := p.(type) {
	case Compare:
		return evalCompare(pred, doc)
	case *Compare:
		return evalCompare(*pred, doc)
	case And:
		return evalAnd(pred.Predicates, doc)
	case *And:
		return evalAnd(pred.Predicates, doc)
	case Or:
		return evalOr(pred.Predicates, doc)
	case *Or:
		return evalOr(pred.Predicates, doc)
	case Not:
		return !Eval(pred.Predicate, doc)
	case *Not:
		return !Eval(pred.Predicate, doc)
	case Match:
		return pred.Fn != nil && pred.Fn(doc)
	case *Match:
		return pred.Fn != nil && pred.Fn(doc)
	default:
		return false
	}
}

func evalAnd(preds []Predicate, doc record.Document) bool {
	for _, p := range preds {
		if !Eval(p, doc) {
			return false
		}
	}
	return true
}

func evalOr(preds []Predicate, doc record.Document) bool {
	for _, p := range preds {
		if Eval(p, doc) {
			return true
		}
	}
	return false
}

func evalCompare(c Compare, doc record.Document) bool {
	raw, ok := doc.Lookup(c.Field)
	if !ok {
		return false
	}
	got, err := Normalize(raw)
	if err != nil {
		// containers never match a scalar literal
		return false
	}
	want, err := Normalize(c.Value)
	if err != nil {
		return false
	}

	cmp, ok := compare(got, want)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	}

	// ordering is only defined for numbers and strings
	if want.Kind != KindNumber && want.Kind != KindString {
		return false
	}
	switch c.Op {
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	default:
		return false
	}
}
