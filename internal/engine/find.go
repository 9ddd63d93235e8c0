package engine

import (
	"context"
	"iter"
	"slices"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

// FindOption pages or orders a Find.
type FindOption func(*findOptions)

type findOptions struct {
	connector.FindOptions
	sortField string
	sortDesc  bool
}

// Skip drops the first n matches.
func Skip(n int) FindOption {
	return func(o *findOptions) {
		o.Skip = n
	}
}

// Limit caps the number of matches.
func Limit(n int) FindOption {
	return func(o *findOptions) {
		o.Limit = n
	}
}

// SortBy orders matches by the payload field at path (dotted) instead of
// by id; ties keep id order and missing fields sort as null. Every match is
// read from storage before Skip and Limit apply.
func SortBy(path string, desc bool) FindOption {
	return func(o *findOptions) {
		o.sortField = path
		o.sortDesc = desc
	}
}

// Results is a lazy, restartable query over storage. Nothing is read until
// the results are iterated, and every iteration re-runs the query.
type Results struct {
	e    *Engine
	typ  string
	opts findOptions
}

// Find queries storage for records of typ matching pred, bypassing both
// caches. A nil pred matches every record of the type. Results are ordered
// by id unless SortBy is given.
func (e *Engine) Find(typ string, pred query.Predicate, opts ...FindOption) *Results {
	o := findOptions{FindOptions: connector.FindOptions{Predicate: pred}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Results{e: e, typ: record.NewKey(typ, "_").Type, opts: o}
}

// cursor opens the storage query, sorting in memory when asked to.
func (r *Results) cursor(ctx context.Context) (connector.Cursor, error) {
	if r.opts.sortField == "" {
		return r.e.storage.Find(ctx, r.typ, r.opts.FindOptions)
	}
	// the field path obeys the same rules as a predicate field
	if err := query.Validate(query.Eq(r.opts.sortField, nil)); err != nil {
		return nil, err
	}

	all := r.opts.FindOptions
	all.Skip, all.Limit = 0, 0
	cur, err := r.e.storage.Find(ctx, r.typ, all)
	if err != nil {
		return nil, err
	}
	recs, err := connector.Collect(cur)
	if err != nil {
		return nil, err
	}

	field := r.opts.sortField
	slices.SortStableFunc(recs, func(a, b record.Record) int {
		av, _ := a.Payload.Lookup(field)
		bv, _ := b.Payload.Lookup(field)
		c := query.Order(av, bv)
		if r.opts.sortDesc {
			c = -c
		}
		return c
	})
	return connector.Filter(connector.SliceCursor(recs), nil, r.opts.Skip, r.opts.Limit), nil
}

// All iterates the decoded matches. Breaking out of the loop closes the
// underlying cursor. An error is yielded once, as the final element.
func (r *Results) All(ctx context.Context) iter.Seq2[Loaded, error] {
	return func(yield func(Loaded, error) bool) {
		key := record.Key{Type: r.typ}
		c, err := r.e.codecs.Resolve(r.typ)
		if err != nil {
			yield(Loaded{}, opError("find", key, err))
			return
		}

		cur, err := r.cursor(ctx)
		if err != nil {
			yield(Loaded{}, opError("find", key, err))
			return
		}
		defer cur.Close()

		for cur.Next() {
			rec := cur.Record()
			v, err := c.Decode(rec.Payload)
			if err != nil {
				yield(Loaded{}, opError("find", rec.Key, err))
				return
			}
			if !yield(Loaded{Key: rec.Key, Value: v, Version: rec.Version, Tier: TierStorage}, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(Loaded{}, opError("find", key, err))
		}
	}
}

// Collect drains the results into a slice.
func (r *Results) Collect(ctx context.Context) ([]Loaded, error) {
	out := []Loaded{}
	for l, err := range r.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Count returns the number of matches.
func (r *Results) Count(ctx context.Context) (int, error) {
	n := 0
	for _, err := range r.All(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
