// Package query provides the predicate model used by find operations.
//
// Predicates are the abstraction boundary between callers and connector
// query engines: a connector either compiles a predicate into its native
// query language (sqlstore compiles to json_extract over the payload column)
// or streams records and evaluates the predicate with Eval.
//
//	[caller predicate] → [query.Predicate] → [SQL WHERE clause]
//	                                       → [Eval while streaming]
//
// Predicate types:
//   - Compare: field <op> literal (Eq, Ne, Lt, Lte, Gt, Gte)
//   - And, Or: combine predicates
//   - Not: negate a predicate
//   - Match: arbitrary Go function over the document (never compilable)
//
// Semantics shared by every backend:
//   - A missing field makes every comparison false, so Not(Eq(...)) matches it.
//   - Comparisons only match values of the same JSON kind; a number never
//     equals a string and strings only order against strings.
//   - Ordering operators are not defined for bool or null literals.
//
// Field paths use dots for nesting ("address.city") and are restricted to
// [A-Za-z0-9_] segments so that they can be passed to backends verbatim.
package query
