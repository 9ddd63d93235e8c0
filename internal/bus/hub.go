package bus

import (
	"context"
	"fmt"
	"sync"
)

// Hub is an in-process Transport.
//
// Every subscriber owns an unbounded queue drained by its own goroutine, so a
// slow handler never blocks Publish or other subscribers.
type Hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	failure error

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// SetFailure makes Publish fail with err. Pass nil to recover.
func (h *Hub) SetFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failure = err
}

// Publish implements Transport.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failure != nil {
		return fmt.Errorf("publish %s: %w", ev, h.failure)
	}

	h.add(len(h.subs))
	for s := range h.subs {
		s.enqueue(ev)
	}
	return nil
}

// Subscribe implements Transport.
func (h *Hub) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscriber{
		hub:     h,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.run()
	return s, nil
}

// Drain blocks until every published event has been handled or dropped.
func (h *Hub) Drain(ctx context.Context) error {
	for {
		h.pendingMu.Lock()
		if h.pending == 0 {
			h.pendingMu.Unlock()
			return nil
		}
		if h.idle == nil {
			h.idle = make(chan struct{})
		}
		idle := h.idle
		h.pendingMu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) add(n int) {
	h.pendingMu.Lock()
	h.pending += n
	h.pendingMu.Unlock()
}

func (h *Hub) finish(n int) {
	if n == 0 {
		return
	}
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	h.pending -= n
	if h.pending == 0 && h.idle != nil {
		close(h.idle)
		h.idle = nil
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

type subscriber struct {
	hub     *Hub
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		if s.ctx.Err() != nil {
			s.hub.remove(s)
			s.dropAll()
			return
		}

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.ctx.Done():
			}
			continue
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(s.ctx, ev)
		s.hub.finish(1)
	}
}

func (s *subscriber) dropAll() {
	s.mu.Lock()
	n := len(s.queue)
	s.queue = nil
	s.mu.Unlock()
	s.hub.finish(n)
}

func (s *subscriber) Close() error {
	s.cancel()
	<-s.done
	return nil
}
