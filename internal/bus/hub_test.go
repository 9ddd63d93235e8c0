package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/record"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) get() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func update(id string, version int64) Event {
	return Event{Kind: KindUpdate, Key: record.NewKey("player", id), Version: version, Origin: "node-a"}
}

func TestHub_FanOut(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	var a, b recorder
	subA, err := hub.Subscribe(ctx, a.handle)
	require.NoError(t, err)
	defer subA.Close()
	subB, err := hub.Subscribe(ctx, b.handle)
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, hub.Publish(ctx, update("p1", 1)))
	require.NoError(t, hub.Publish(ctx, update("p1", 2)))
	require.NoError(t, hub.Drain(ctx))

	want := []Event{update("p1", 1), update("p1", 2)}
	assert.Equal(t, want, a.get())
	assert.Equal(t, want, b.get())
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	release := make(chan struct{})
	sub, err := hub.Subscribe(ctx, func(context.Context, Event) { <-release })
	require.NoError(t, err)
	defer sub.Close()

	var fast recorder
	fastSub, err := hub.Subscribe(ctx, fast.handle)
	require.NoError(t, err)
	defer fastSub.Close()

	for i := int64(1); i <= 50; i++ {
		require.NoError(t, hub.Publish(ctx, update("p1", i)))
	}
	assert.Eventually(t, func() bool { return len(fast.get()) == 50 }, time.Second, time.Millisecond)

	close(release)
	require.NoError(t, hub.Drain(ctx))
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	var r recorder
	sub, err := hub.Subscribe(ctx, r.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	require.NoError(t, hub.Publish(ctx, update("p1", 1)))
	require.NoError(t, hub.Drain(ctx))
	assert.Empty(t, r.get())
}

func TestHub_ContextEndsSubscription(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	var r recorder
	sub, err := hub.Subscribe(ctx, r.handle)
	require.NoError(t, err)
	cancel()
	require.NoError(t, sub.Close())

	require.NoError(t, hub.Publish(context.Background(), update("p1", 1)))
	require.NoError(t, hub.Drain(context.Background()))
	assert.Empty(t, r.get())
}

func TestHub_Failure(t *testing.T) {
	hub := NewHub()
	boom := errors.New("network partition")

	hub.SetFailure(boom)
	assert.ErrorIs(t, hub.Publish(context.Background(), update("p1", 1)), boom)

	hub.SetFailure(nil)
	assert.NoError(t, hub.Publish(context.Background(), update("p1", 1)))
}

func TestHub_DrainRespectsContext(t *testing.T) {
	hub := NewHub()
	release := make(chan struct{})
	sub, err := hub.Subscribe(context.Background(), func(context.Context, Event) { <-release })
	require.NoError(t, err)
	defer sub.Close()
	defer close(release)

	require.NoError(t, hub.Publish(context.Background(), update("p1", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, hub.Drain(ctx), context.DeadlineExceeded)
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "update player/p1 v3 from node-a", update("p1", 3).String())
}
