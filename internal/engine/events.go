package engine

import (
	"context"

	"github.com/roach88/pipeline/internal/bus"
)

// publish broadcasts ev. Delivery failures are logged and swallowed: peers
// converge through local cache expiry and the storage version check.
func (e *Engine) publish(ctx context.Context, ev bus.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("invalidation publish failed",
			"kind", ev.Kind, "type", ev.Key.Type, "id", ev.Key.ID, "version", ev.Version, "error", err)
	}
}

// handleEvent evicts local entries made stale by a peer's write.
// It only ever removes entries, so duplicate or reordered events are harmless.
func (e *Engine) handleEvent(_ context.Context, ev bus.Event) {
	if ev.Origin == e.nodeID {
		return
	}

	switch ev.Kind {
	case bus.KindUpdate:
		if e.local.InvalidateOlder(ev.Key, ev.Version) {
			e.logger.Debug("evicted stale entry", "type", ev.Key.Type, "id", ev.Key.ID, "version", ev.Version, "origin", ev.Origin)
		}
	case bus.KindRemove:
		e.local.Invalidate(ev.Key)
	case bus.KindClear:
		e.local.InvalidateType(ev.Key.Type)
	default:
		e.logger.Warn("unknown invalidation kind", "kind", ev.Kind, "origin", ev.Origin)
	}
}

// EvictType drops every local entry of typ and asks every peer to do the
// same. Storage and the network cache are untouched.
func (e *Engine) EvictType(ctx context.Context, typ string) error {
	e.local.InvalidateType(typ)
	if e.bus == nil {
		return nil
	}
	ev := bus.Event{Kind: bus.KindClear, Origin: e.nodeID}
	ev.Key.Type = typ
	if err := e.bus.Publish(ctx, ev); err != nil {
		return &OpError{Op: "evict", Key: ev.Key, Err: err}
	}
	return nil
}
