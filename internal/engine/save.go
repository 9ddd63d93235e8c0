package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/pipeline/internal/bus"
	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/lock"
	"github.com/roach88/pipeline/internal/record"
)

// SaveOption configures a Save.
type SaveOption func(*saveOptions)

type saveOptions struct {
	ifVersion int64
	checked   bool
}

// IfVersion makes Save fail with ErrVersionConflict unless the stored
// version is v. Use 0 to require that the record does not exist yet.
func IfVersion(v int64) SaveOption {
	return func(o *saveOptions) {
		o.ifVersion = v
		o.checked = true
	}
}

// Save encodes obj and writes it through every tier, returning the new
// version.
//
// Save acquires the lease on key and fails with ErrAlreadyLocked if another
// node holds it. Versions start at 1 and grow by exactly one per write.
//
// A non-zero version with a non-nil error means the write is durable in
// storage but the network cache could not be updated or cleared.
func (e *Engine) Save(ctx context.Context, key record.Key, obj any, opts ...SaveOption) (int64, error) {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := key.Validate(); err != nil {
		return 0, opError("save", key, err)
	}
	c, err := e.codecs.Resolve(key.Type)
	if err != nil {
		return 0, opError("save", key, err)
	}
	payload, err := c.Encode(obj)
	if err != nil {
		return 0, opError("save", key, fmt.Errorf("encode: %w", err))
	}

	tok, err := e.locks.Acquire(ctx, key, e.lockTTL)
	if err != nil {
		return 0, opError("save", key, err)
	}
	defer e.release(ctx, tok)

	prior, err := e.storedVersion(ctx, key)
	if err != nil {
		return 0, opError("save", key, err)
	}
	if o.checked && o.ifVersion != prior {
		return 0, opError("save", key, connector.Conflict(key, o.ifVersion, prior))
	}

	now := e.clock.Now()
	if tok.Expired(now) {
		return 0, opError("save", key, &lockLost{})
	}

	rec := record.Record{
		Key:          key,
		Version:      prior + 1,
		Payload:      payload,
		LastModified: now,
	}
	if err := e.storage.Put(ctx, rec, e.expected(prior)); err != nil {
		if errors.Is(err, connector.ErrVersionConflict) {
			err = &lockLost{cause: err}
		}
		return 0, opError("save", key, err)
	}

	cacheErr := e.writeThrough(ctx, rec)

	if v, err := c.Decode(payload); err == nil {
		e.local.Put(key, v, rec.Version)
	} else {
		e.local.Invalidate(key)
	}

	e.publish(ctx, bus.Event{Kind: bus.KindUpdate, Key: key, Version: rec.Version, Origin: e.nodeID})

	e.logger.Debug("record saved", "type", key.Type, "id", key.ID, "version", rec.Version)
	return rec.Version, opError("save", key, cacheErr)
}

// Delete removes key from every tier and tells peers to evict it.
// It returns ErrNotFound if storage had no such record.
func (e *Engine) Delete(ctx context.Context, key record.Key) error {
	if err := key.Validate(); err != nil {
		return opError("delete", key, err)
	}
	if _, err := e.codecs.Resolve(key.Type); err != nil {
		return opError("delete", key, err)
	}

	tok, err := e.locks.Acquire(ctx, key, e.lockTTL)
	if err != nil {
		return opError("delete", key, err)
	}
	defer e.release(ctx, tok)

	prior, err := e.storedVersion(ctx, key)
	if err != nil {
		return opError("delete", key, err)
	}
	if prior == 0 {
		// nothing durable, but stale cache entries may still linger;
		// an eviction failure is logged and NotFound still wins
		e.local.Invalidate(key)
		_ = e.evictNetwork(ctx, key)
		return opError("delete", key, connector.NotFound(key))
	}
	if tok.Expired(e.clock.Now()) {
		return opError("delete", key, &lockLost{})
	}

	if err := e.storage.Remove(ctx, key, e.expected(prior)); err != nil {
		if errors.Is(err, connector.ErrVersionConflict) {
			err = &lockLost{cause: err}
		}
		return opError("delete", key, err)
	}

	cacheErr := e.evictNetwork(ctx, key)
	e.local.Invalidate(key)
	e.publish(ctx, bus.Event{Kind: bus.KindRemove, Key: key, Version: prior, Origin: e.nodeID})

	e.logger.Debug("record deleted", "type", key.Type, "id", key.ID, "version", prior)
	return opError("delete", key, cacheErr)
}

// storedVersion returns the current storage version, 0 when absent.
func (e *Engine) storedVersion(ctx context.Context, key record.Key) (int64, error) {
	cur, err := e.storage.Get(ctx, key)
	if errors.Is(err, connector.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cur.Version, nil
}

// expected is the CAS argument for storage writes. Without native CAS the
// compare already happened under the lease.
func (e *Engine) expected(prior int64) int64 {
	if e.storage.Capabilities().NativeCAS {
		return prior
	}
	return connector.AnyVersion
}

// writeThrough replaces the network cache entry. If that fails the entry is
// removed instead; only when both fail is an error reported, since peers
// could then read a stale version.
func (e *Engine) writeThrough(ctx context.Context, rec record.Record) error {
	if e.network == nil {
		return nil
	}
	err := e.network.Put(ctx, rec, connector.AnyVersion, e.cacheOptions()...)
	if err == nil {
		return nil
	}
	e.logger.Warn("network cache write-through failed, evicting",
		"type", rec.Key.Type, "id", rec.Key.ID, "version", rec.Version, "error", err)
	return e.evictNetwork(ctx, rec.Key)
}

func (e *Engine) evictNetwork(ctx context.Context, key record.Key) error {
	if e.network == nil {
		return nil
	}
	err := e.network.Remove(ctx, key, connector.AnyVersion)
	if err == nil || errors.Is(err, connector.ErrNotFound) {
		return nil
	}
	e.logger.Error("network cache eviction failed, entry may be stale",
		"type", key.Type, "id", key.ID, "error", err)
	return fmt.Errorf("network cache: %w", connector.Unavailable(e.network.Name(), err))
}

// release gives the lease back. Failures are logged: the write already
// committed and the lease will lapse on its own.
func (e *Engine) release(ctx context.Context, tok *lock.Token) {
	if err := e.locks.Release(context.WithoutCancel(ctx), tok); err != nil {
		e.logger.Warn("lock release failed",
			"type", tok.Key.Type, "id", tok.Key.ID, "error", err)
	}
}
