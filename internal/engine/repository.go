package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

// Repository is a typed view of one record type.
//
// The codec registered for the type must decode to T or *T.
type Repository[T any] struct {
	e   *Engine
	typ string
}

// NewRepository returns a Repository for typ.
func NewRepository[T any](e *Engine, typ string) *Repository[T] {
	return &Repository[T]{e: e, typ: record.NewKey(typ, "_").Type}
}

// Key returns the record key for id.
func (r *Repository[T]) Key(id string) record.Key {
	return record.NewKey(r.typ, id)
}

// Load returns the object and its version.
func (r *Repository[T]) Load(ctx context.Context, id string) (T, int64, error) {
	l, err := r.e.Load(ctx, r.Key(id))
	if err != nil {
		var zero T
		return zero, 0, err
	}
	v, err := as[T](l)
	return v, l.Version, err
}

// LoadOrCreate loads id, or saves create() as version 1 when it is absent.
// If another node created the record first, its version is loaded instead;
// if another node is creating it right now, ErrAlreadyLocked is returned.
func (r *Repository[T]) LoadOrCreate(ctx context.Context, id string, create func() T) (T, int64, error) {
	v, version, err := r.Load(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		return v, version, err
	}

	obj := create()
	version, err = r.e.Save(ctx, r.Key(id), obj, IfVersion(0))
	if errors.Is(err, ErrVersionConflict) {
		return r.Load(ctx, id)
	}
	if err != nil && version == 0 {
		var zero T
		return zero, 0, err
	}
	return obj, version, err
}

// Save writes v and returns the new version.
func (r *Repository[T]) Save(ctx context.Context, id string, v T, opts ...SaveOption) (int64, error) {
	return r.e.Save(ctx, r.Key(id), v, opts...)
}

// Delete removes id from every tier.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	return r.e.Delete(ctx, r.Key(id))
}

// Exists reports whether id is present at any tier.
func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	return r.e.Exists(ctx, r.Key(id))
}

// Find iterates the objects matching pred. See Results.All.
func (r *Repository[T]) Find(ctx context.Context, pred query.Predicate, opts ...FindOption) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for l, err := range r.e.Find(r.typ, pred, opts...).All(ctx) {
			var v T
			if err == nil {
				v, err = as[T](l)
			}
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

func as[T any](l Loaded) (T, error) {
	switch v := l.Value.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	var zero T
	return zero, &OpError{Op: "load", Key: l.Key, Err: fmt.Errorf("codec produced %T, want %T", l.Value, zero)}
}
