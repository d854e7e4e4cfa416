package collab

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulltrade/gateway/internal/circuitbreaker"
	"github.com/bulltrade/gateway/internal/domain"
)

// flakyHistory fails a fixed number of times before succeeding.
type flakyHistory struct {
	failures int
	calls    int
}

func (f *flakyHistory) Fetch(context.Context, string, domain.HistoryQuery) ([]domain.Candle, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient fault")
	}
	return []domain.Candle{{Symbol: "ETH-USD"}}, nil
}

func (f *flakyHistory) Latest(context.Context, []string, int) ([]domain.Candle, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient fault")
	}
	return []domain.Candle{{Symbol: "ETH-USD"}}, nil
}

type failingLog struct{ calls int }

func (f *failingLog) Append(context.Context, string, string, string, string) error {
	f.calls++
	return errors.New("db down")
}

func (f *failingLog) QueryLatestPerOrder(context.Context, string, string, int) ([]domain.OrderRecord, error) {
	f.calls++
	return nil, errors.New("db down")
}

func (f *failingLog) GetByOrderID(context.Context, string) (*domain.OrderRecord, error) {
	f.calls++
	return nil, errors.New("db down")
}

func TestHistoryPassesThrough(t *testing.T) {
	h := NewHistory(&flakyHistory{})

	candles, err := h.Fetch(context.Background(), "ETH-USD", domain.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "ETH-USD", candles[0].Symbol)
}

func TestTransientFaultRetriedOnce(t *testing.T) {
	inner := &flakyHistory{failures: 1}
	h := NewHistory(inner)

	candles, err := h.Latest(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Len(t, candles, 1)
	assert.Equal(t, 2, inner.calls)
}

func TestPersistentFaultTripsBreaker(t *testing.T) {
	inner := &failingLog{}
	o := NewOrderLog(inner)
	ctx := context.Background()

	// The default trip point is 5 requests with a majority failing; each
	// Append costs two attempts, so three calls get there.
	for i := 0; i < 3; i++ {
		err := o.Append(ctx, "k", "FILLED", "ord-1", "{}")
		assert.Error(t, err)
	}

	callsBefore := inner.calls
	err := o.Append(ctx, "k", "FILLED", "ord-1", "{}")
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, callsBefore, inner.calls)
}

func TestIsUnavailable(t *testing.T) {
	assert.True(t, IsUnavailable(circuitbreaker.ErrCircuitOpen))
	assert.True(t, IsUnavailable(circuitbreaker.ErrTooManyRequests))
	assert.False(t, IsUnavailable(errors.New("bad request")))
	assert.False(t, IsUnavailable(nil))
}

func TestCancelledContextSkipsRetry(t *testing.T) {
	inner := &failingLog{}
	o := NewOrderLog(inner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.GetByOrderID(ctx, "ord-1")
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
