// Package bus carries invalidation events between nodes.
//
// Delivery is at-least-once from the handler's point of view: duplicates are
// possible and handlers must be idempotent. Events for one key are delivered
// to a subscriber in publish order on a best-effort basis; there is no
// ordering across keys.
package bus

import (
	"context"
	"fmt"

	"github.com/roach88/pipeline/internal/record"
)

// Kind says what happened to the record.
type Kind string

const (
	// KindUpdate means a new version was written.
	KindUpdate Kind = "update"

	// KindRemove means the record was deleted.
	KindRemove Kind = "remove"

	// KindClear means every cached record of Key.Type is stale. Key.ID is empty.
	KindClear Kind = "clear"
)

// Event is a broadcast invalidation notice. Events are never persisted.
type Event struct {
	Kind    Kind
	Key     record.Key
	Version int64
	Origin  string
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s v%d from %s", e.Kind, e.Key, e.Version, e.Origin)
}

// Handler receives events. It must be idempotent.
type Handler func(ctx context.Context, ev Event)

// Subscription is an active handler registration.
type Subscription interface {
	// Close stops delivery. Events still queued are dropped.
	Close() error
}

// Transport is a publish/subscribe primitive.
type Transport interface {
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers h until ctx is done or the subscription is closed.
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}
