// Package redisbus implements bus.Transport over Redis pub/sub.
//
// Events travel as JSON on a single channel. Redis pub/sub does not buffer
// for disconnected subscribers; a node that misses events relies on cache
// TTLs and the storage version check, as with any lost invalidation.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/pipeline/internal/bus"
	"github.com/roach88/pipeline/internal/record"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "pipeline:invalidations"

type wireEvent struct {
	Kind    bus.Kind `json:"kind"`
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Version int64    `json:"version,omitempty"`
	Origin  string   `json:"origin"`
}

// Transport publishes and subscribes on one Redis channel.
type Transport struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) Option {
	return func(t *Transport) {
		t.channel = channel
	}
}

// WithLogger sets the logger used for undecodable messages.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// New creates a Transport. The caller keeps ownership of client.
func New(client redis.UniversalClient, opts ...Option) *Transport {
	t := &Transport{
		client:  client,
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Publish implements bus.Transport.
func (t *Transport) Publish(ctx context.Context, ev bus.Event) error {
	data, err := json.Marshal(wireEvent{
		Kind:    ev.Kind,
		Type:    ev.Key.Type,
		ID:      ev.Key.ID,
		Version: ev.Version,
		Origin:  ev.Origin,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev, err)
	}
	return nil
}

// Subscribe implements bus.Transport. It returns once the subscription is
// confirmed by the server, so events published afterwards are delivered.
func (t *Transport) Subscribe(ctx context.Context, h bus.Handler) (bus.Subscription, error) {
	ps := t.client.Subscribe(ctx, t.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", t.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{ps: ps, cancel: cancel, done: make(chan struct{})}
	go s.run(ctx, t.logger, h)
	return s, nil
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) run(ctx context.Context, logger *slog.Logger, h bus.Handler) {
	defer close(s.done)
	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var w wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
				logger.Warn("dropping undecodable invalidation", "channel", msg.Channel, "error", err)
				continue
			}
			h(ctx, bus.Event{
				Kind:    w.Kind,
				Key:     record.Key{Type: w.Type, ID: w.ID},
				Version: w.Version,
				Origin:  w.Origin,
			})
		}
	}
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
		<-s.done
	})
	return err
}
