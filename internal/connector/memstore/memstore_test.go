package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/connector/connectortest"
	"github.com/roach88/pipeline/internal/record"
	"github.com/roach88/pipeline/internal/testutil"
)

func TestConformance(t *testing.T) {
	clk := testutil.NewFakeClock()
	connectortest.Run(t, connectortest.Harness{
		New:     func(t *testing.T) connector.Connector { return New(WithClock(clk)) },
		Advance: clk.Advance,
	})
}

func TestConformance_WithoutCAS(t *testing.T) {
	connectortest.Run(t, connectortest.Harness{
		New: func(t *testing.T) connector.Connector { return New(WithoutCAS(), WithoutTTL()) },
	})
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, connector.Capabilities{NativeCAS: true, NativeTTL: true}, New().Capabilities())
	assert.Equal(t, connector.Capabilities{}, New(WithoutCAS(), WithoutTTL()).Capabilities())
	assert.Equal(t, "cache", New(WithName("cache")).Name())
}

func TestSetFailure(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := record.NewKey("player", "p1")
	boom := errors.New("connection reset")

	s.SetFailure(boom)
	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, connector.ErrUnavailable)
	assert.ErrorIs(t, err, boom)

	err = s.Put(ctx, connectortest.Rec("player", "p1", 1, nil), 0)
	assert.ErrorIs(t, err, connector.ErrUnavailable)

	s.SetFailure(nil)
	require.NoError(t, s.Put(ctx, connectortest.Rec("player", "p1", 1, nil), 0))
}

func TestWithoutTTL_IgnoresTTL(t *testing.T) {
	clk := testutil.NewFakeClock()
	s := New(WithClock(clk), WithoutTTL())
	ctx := context.Background()
	rec := connectortest.Rec("player", "p1", 1, nil)

	require.NoError(t, s.Put(ctx, rec, 0, connector.WithTTL(time.Millisecond)))
	clk.Advance(time.Second)

	ok, err := s.Exists(ctx, rec.Key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, record.NewKey("player", "p1"))
	assert.ErrorIs(t, err, connector.ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}
