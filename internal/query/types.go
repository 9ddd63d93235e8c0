package query

import "github.com/roach88/pipeline/internal/record"

// Predicate represents a filter condition over a record payload.
//
// This is a sealed interface - only types in this package implement it.
// The marker method enables exhaustive type switches in backend compilers.
type Predicate interface {
	predicateNode()
}

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "<>"
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Compare matches documents whose Field compares to Value using Op.
type Compare struct {
	Field string
	Op    Op
	Value any
}

func (Compare) predicateNode() {}

// And matches when every predicate matches. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or matches when at least one predicate matches. An empty Or matches nothing.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not inverts a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Match evaluates an arbitrary function against the decoded document.
// Connectors cannot push a Match down to the backend; records are streamed
// and filtered instead.
type Match struct {
	Name string
	Fn   func(record.Document) bool
}

func (Match) predicateNode() {}

// Eq returns field = value.
func Eq(field string, value any) Predicate { return Compare{Field: field, Op: OpEq, Value: value} }

// Ne returns field <> value.
func Ne(field string, value any) Predicate { return Compare{Field: field, Op: OpNe, Value: value} }

// Lt returns field < value.
func Lt(field string, value any) Predicate { return Compare{Field: field, Op: OpLt, Value: value} }

// Lte returns field <= value.
func Lte(field string, value any) Predicate { return Compare{Field: field, Op: OpLte, Value: value} }

// Gt returns field > value.
func Gt(field string, value any) Predicate { return Compare{Field: field, Op: OpGt, Value: value} }

// Gte returns field >= value.
func Gte(field string, value any) Predicate { return Compare{Field: field, Op: OpGte, Value: value} }

// All combines predicates with AND.
func All(preds ...Predicate) Predicate { return And{Predicates: preds} }

// Any combines predicates with OR.
func Any(preds ...Predicate) Predicate { return Or{Predicates: preds} }

// Negate wraps a predicate in Not.
func Negate(p Predicate) Predicate { return Not{Predicate: p} }

// Func wraps a Go function as a Match predicate.
func Func(name string, fn func(record.Document) bool) Predicate {
	return Match{Name: name, Fn: fn}
}
