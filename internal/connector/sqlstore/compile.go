package sqlstore

import (
	"fmt"
	"strings"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/query"
)

// compiledFind is a Find translated to SQL.
//
// When part of the predicate cannot run in SQLite (a query.Match), it is
// returned as Residual and paging moves out of SQL: the connector streams
// rows through connector.Filter with Skip and Limit instead.
type compiledFind struct {
	SQL      string
	Args     []any
	Residual query.Predicate
	Skip     int
	Limit    int
}

// SQLCompiler compiles Find requests to parameterized SQL for SQLite.
//
// Every query orders by id with COLLATE BINARY so results are deterministic,
// and every value (including JSON paths) is bound, never interpolated.
type SQLCompiler struct {
	Table string
}

// NewSQLCompiler creates a compiler for the records table.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Table: "records"}
}

// Compile converts a Find over typ into SQL.
func (c *SQLCompiler) Compile(typ string, opts connector.FindOptions) (compiledFind, error) {
	if err := query.Validate(opts.Predicate); err != nil {
		return compiledFind{}, err
	}

	pushed, residual := split(opts.Predicate)

	where := "type = ?"
	args := []any{typ}
	if pushed != nil {
		sql, params, err := c.compilePredicate(pushed)
		if err != nil {
			return compiledFind{}, fmt.Errorf("compile predicate: %w", err)
		}
		where += " AND " + sql
		args = append(args, params...)
	}

	sql := fmt.Sprintf("SELECT id, version, payload, last_modified FROM %s WHERE %s ORDER BY id ASC COLLATE BINARY",
		c.Table, where)

	out := compiledFind{Residual: residual}
	if residual != nil {
		out.Skip, out.Limit = opts.Skip, opts.Limit
	} else if opts.Limit > 0 || opts.Skip > 0 {
		limit := int64(-1)
		if opts.Limit > 0 {
			limit = int64(opts.Limit)
		}
		sql += " LIMIT ? OFFSET ?"
		args = append(args, limit, int64(opts.Skip))
	}

	out.SQL = sql
	out.Args = args
	return out, nil
}

// split separates the part of p SQLite can evaluate from the part it can't.
// Only top-level conjuncts are split; anything else is all or nothing.
func split(p query.Predicate) (pushed, residual query.Predicate) {
	if query.Compilable(p) {
		return p, nil
	}

	var conjuncts []query.Predicate
	switch and := p.(type) {
	case query.And:
		conjuncts = and.Predicates
	case *query.And:
		conjuncts = and.Predicates
	default:
		return nil, p
	}

	var push, keep []query.Predicate
	for _, c := range conjuncts {
		if query.Compilable(c) {
			push = append(push, c)
		} else {
			keep = append(keep, c)
		}
	}
	if len(push) > 0 {
		pushed = query.All(push...)
	}
	return pushed, query.All(keep...)
}

// compilePredicate compiles a predicate to a WHERE fragment that always
// evaluates to 0 or 1, never NULL, so NOT behaves like query.Eval.
func (c *SQLCompiler) compilePredicate(p query.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case query.Compare:
		return c.compileCompare(pred)
	case *query.Compare:
		return c.compileCompare(*pred)
	case query.And:
		return c.compileJunction(pred.Predicates, " AND ", "1")
	case *query.And:
		return c.compileJunction(pred.Predicates, " AND ", "1")
	case query.Or:
		return c.compileJunction(pred.Predicates, " OR ", "0")
	case *query.Or:
		return c.compileJunction(pred.Predicates, " OR ", "0")
	case query.Not:
		return c.compileNot(pred.Predicate)
	case *query.Not:
		return c.compileNot(pred.Predicate)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(preds []query.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}

	var parts []string
	var allParams []any
	for _, pred := range preds {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		allParams = append(allParams, params...)
	}

	if len(parts) == 1 {
		return parts[0], allParams, nil
	}
	return "(" + strings.Join(parts, sep) + ")", allParams, nil
}

func (c *SQLCompiler) compileNot(p query.Predicate) (string, []any, error) {
	sql, params, err := c.compilePredicate(p)
	if err != nil {
		return "", nil, err
	}
	return "NOT " + sql, params, nil
}

// jsonTypes maps a literal kind to the json_type() results of the same kind.
var jsonTypes = map[query.Kind]string{
	query.KindBool:   "'true', 'false'",
	query.KindNumber: "'integer', 'real'",
	query.KindString: "'text'",
}

// compileCompare guards the comparison with json_type so a missing field or
// a value of another kind never matches.
func (c *SQLCompiler) compileCompare(cmp query.Compare) (string, []any, error) {
	lit, err := query.Normalize(cmp.Value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value: %w", err)
	}
	path := "$." + cmp.Field

	if lit.Kind == query.KindNull {
		// null only equals null
		if cmp.Op == query.OpEq {
			return "COALESCE(json_type(payload, ?) = 'null', 0)", []any{path}, nil
		}
		return "0", nil, nil
	}

	types, ok := jsonTypes[lit.Kind]
	if !ok {
		return "", nil, fmt.Errorf("unsupported literal kind %d", lit.Kind)
	}
	sql := fmt.Sprintf("COALESCE(json_type(payload, ?) IN (%s) AND json_extract(payload, ?) %s ?, 0)", types, cmp.Op)
	return sql, []any{path, path, lit.SQLValue()}, nil
}
