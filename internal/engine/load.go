package engine

import (
	"context"
	"errors"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/record"
)

// Loaded is a decoded object and where it came from.
//
// Value may be shared with the local cache. record.Document values are
// copied before they are returned; values decoded into pointers, maps or
// slices by other codecs must be treated as read-only.
type Loaded struct {
	Key     record.Key
	Value   any
	Version int64
	Tier    Tier
}

// Load returns the object stored under key.
//
// The local cache answers first; on a miss the network cache and then
// storage are read, and the first hit backfills the faster tiers. A miss at
// every tier returns ErrNotFound.
//
// Reads take no lease, so a Save or Delete may commit between the read and
// the backfill. After filling the faster tiers Load re-reads the tier it was
// served from and withdraws the filled entries if the record has moved on.
func (e *Engine) Load(ctx context.Context, key record.Key) (Loaded, error) {
	if err := key.Validate(); err != nil {
		return Loaded{}, opError("load", key, err)
	}
	c, err := e.codecs.Resolve(key.Type)
	if err != nil {
		return Loaded{}, opError("load", key, err)
	}

	if hit, ok := e.local.Get(key); ok {
		return Loaded{Key: key, Value: detach(hit.Value), Version: hit.Version, Tier: TierLocal}, nil
	}

	if rec, ok := e.readNetwork(ctx, key); ok {
		v, err := c.Decode(rec.Payload)
		if err == nil {
			e.local.Put(key, v, rec.Version)
			if !e.stillCurrent(ctx, e.network, rec) {
				e.local.InvalidateOlder(key, rec.Version+1)
			}
			return Loaded{Key: key, Value: detach(v), Version: rec.Version, Tier: TierNetwork}, nil
		}
		// a payload we cannot decode is treated as a miss and overwritten below
		e.logger.Warn("undecodable network cache entry",
			"type", key.Type, "id", key.ID, "version", rec.Version, "error", err)
	}

	rec, err := e.storage.Get(ctx, key)
	if err != nil {
		return Loaded{}, opError("load", key, err)
	}
	v, err := c.Decode(rec.Payload)
	if err != nil {
		return Loaded{}, opError("load", key, err)
	}

	e.backfillNetwork(ctx, rec)
	e.local.Put(key, v, rec.Version)
	if !e.stillCurrent(ctx, e.storage, rec) {
		e.withdrawBackfill(ctx, rec)
	}
	return Loaded{Key: key, Value: detach(v), Version: rec.Version, Tier: TierStorage}, nil
}

// detach copies documents so callers cannot mutate the cached value.
func detach(v any) any {
	if doc, ok := v.(record.Document); ok {
		return doc.Clone()
	}
	return v
}

// readNetwork consults the network cache. Cache failures degrade to a miss.
func (e *Engine) readNetwork(ctx context.Context, key record.Key) (record.Record, bool) {
	if e.network == nil {
		return record.Record{}, false
	}
	rec, err := e.network.Get(ctx, key)
	if err == nil {
		return rec, true
	}
	if !errors.Is(err, connector.ErrNotFound) {
		e.logger.Warn("network cache read failed, falling through to storage",
			"type", key.Type, "id", key.ID, "error", err)
	}
	return record.Record{}, false
}

// backfillNetwork installs rec only if the cache has no entry, so a newer
// write-through is never replaced by an older storage read.
func (e *Engine) backfillNetwork(ctx context.Context, rec record.Record) {
	if e.network == nil {
		return
	}
	err := e.network.Put(ctx, rec, 0, e.cacheOptions()...)
	if err != nil && !errors.Is(err, connector.ErrVersionConflict) {
		e.logger.Warn("network cache backfill failed",
			"type", rec.Key.Type, "id", rec.Key.ID, "version", rec.Version, "error", err)
	}
}

// stillCurrent re-reads rec from src and reports whether it is still the
// stored version. Read failures count as not current.
func (e *Engine) stillCurrent(ctx context.Context, src connector.Connector, rec record.Record) bool {
	cur, err := src.Get(ctx, rec.Key)
	if err == nil {
		return cur.Version == rec.Version
	}
	if !errors.Is(err, connector.ErrNotFound) {
		e.logger.Warn("re-read after load failed, dropping cached copies",
			"type", rec.Key.Type, "id", rec.Key.ID, "version", rec.Version, "error", err)
	}
	return false
}

// withdrawBackfill undoes a backfill of rec that raced a write. Entries
// newer than rec are left alone.
func (e *Engine) withdrawBackfill(ctx context.Context, rec record.Record) {
	e.local.InvalidateOlder(rec.Key, rec.Version+1)
	if e.network == nil {
		return
	}
	err := e.network.Remove(ctx, rec.Key, rec.Version)
	if err != nil && !errors.Is(err, connector.ErrNotFound) && !errors.Is(err, connector.ErrVersionConflict) {
		e.logger.Warn("withdrawing stale backfill failed",
			"type", rec.Key.Type, "id", rec.Key.ID, "version", rec.Version, "error", err)
	}
	e.logger.Debug("withdrew backfill that raced a write",
		"type", rec.Key.Type, "id", rec.Key.ID, "version", rec.Version)
}

func (e *Engine) cacheOptions() []connector.PutOption {
	if e.cacheTTL > 0 && e.network.Capabilities().NativeTTL {
		return []connector.PutOption{connector.WithTTL(e.cacheTTL)}
	}
	return nil
}

// Exists reports whether key is present at any tier.
func (e *Engine) Exists(ctx context.Context, key record.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, opError("exists", key, err)
	}
	if _, ok := e.local.Get(key); ok {
		return true, nil
	}
	if e.network != nil {
		ok, err := e.network.Exists(ctx, key)
		if err != nil {
			e.logger.Warn("network cache exists failed, falling through to storage",
				"type", key.Type, "id", key.ID, "error", err)
		} else if ok {
			return true, nil
		}
	}
	ok, err := e.storage.Exists(ctx, key)
	if err != nil {
		return false, opError("exists", key, err)
	}
	return ok, nil
}
