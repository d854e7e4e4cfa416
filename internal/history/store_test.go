package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulltrade/gateway/internal/domain"
	"github.com/bulltrade/gateway/internal/market"
	"github.com/bulltrade/gateway/internal/room"
)

func newTestStore() *Store {
	return NewStore(market.NewSimulator(room.NewRegistry()))
}

func TestFetchAlignsToIntervalBoundaries(t *testing.T) {
	s := newTestStore()
	q := domain.HistoryQuery{
		FromTs:   1_700_000_030_000, // mid-minute
		ToTs:     1_700_000_330_000,
		Interval: domain.IntervalM1,
	}

	candles, err := s.Fetch(context.Background(), "ETH-USD", q)
	require.NoError(t, err)
	require.Len(t, candles, 6)

	for i, c := range candles {
		assert.Zero(t, c.OpenTime%60_000)
		assert.Equal(t, domain.IntervalM1, c.Interval)
		assert.Equal(t, "ETH-USD", c.Symbol)
		if i > 0 {
			assert.Equal(t, int64(60_000), c.OpenTime-candles[i-1].OpenTime)
		}
	}
	assert.Equal(t, int64(1_699_999_980_000), candles[0].OpenTime)
}

func TestFetchIsDeterministic(t *testing.T) {
	s := newTestStore()
	q := domain.HistoryQuery{FromTs: 1_700_000_000_000, ToTs: 1_700_000_600_000, Interval: domain.IntervalM5}

	a, err := s.Fetch(context.Background(), "BTC-USD", q)
	require.NoError(t, err)
	b, err := s.Fetch(context.Background(), "BTC-USD", q)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Different symbols over the same window diverge.
	c, err := s.Fetch(context.Background(), "ETH-USD", q)
	require.NoError(t, err)
	assert.NotEqual(t, a[0].Close, c[0].Close)
}

func TestFetchCandleShape(t *testing.T) {
	s := newTestStore()
	q := domain.HistoryQuery{FromTs: 1_700_000_000_000, ToTs: 1_700_003_600_000, Interval: domain.IntervalH1}

	candles, err := s.Fetch(context.Background(), "SOL-USD", q)
	require.NoError(t, err)
	for _, c := range candles {
		assert.GreaterOrEqual(t, c.High, c.Open)
		assert.GreaterOrEqual(t, c.High, c.Close)
		assert.LessOrEqual(t, c.Low, c.Open)
		assert.LessOrEqual(t, c.Low, c.Close)
		assert.NotZero(t, c.Volume)
	}
}

func TestFetchCapsResultSize(t *testing.T) {
	s := newTestStore()
	q := domain.HistoryQuery{
		FromTs:   1_700_000_000_000,
		ToTs:     1_700_000_000_000 + 5000*1000, // 5001 one-second candles
		Interval: domain.IntervalS1,
	}

	candles, err := s.Fetch(context.Background(), "ETH-USD", q)
	require.NoError(t, err)
	assert.Len(t, candles, 1000)
	// The newest candles survive the cap.
	assert.Equal(t, q.ToTs-q.ToTs%1000, candles[len(candles)-1].OpenTime)

	q.Limit = 10
	candles, err = s.Fetch(context.Background(), "ETH-USD", q)
	require.NoError(t, err)
	assert.Len(t, candles, 10)
}

func TestFetchRejectsBadInput(t *testing.T) {
	s := newTestStore()

	_, err := s.Fetch(context.Background(), "NOPE-USD", domain.HistoryQuery{FromTs: 1, ToTs: 2, Interval: domain.IntervalM1})
	assert.Error(t, err)

	_, err = s.Fetch(context.Background(), "ETH-USD", domain.HistoryQuery{FromTs: 2000, ToTs: 1000, Interval: domain.IntervalM1})
	assert.Error(t, err)

	_, err = s.Fetch(context.Background(), "ETH-USD", domain.HistoryQuery{FromTs: 0, ToTs: 1000, Interval: domain.IntervalM1})
	assert.Error(t, err)
}

func TestLatestCoversRequestedSymbols(t *testing.T) {
	s := newTestStore()

	candles, err := s.Latest(context.Background(), []string{"ETH-USD", "BTC-USD"}, 1)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "ETH-USD", candles[0].Symbol)
	assert.Equal(t, "BTC-USD", candles[1].Symbol)
	for _, c := range candles {
		assert.Equal(t, domain.IntervalM1, c.Interval)
		assert.Zero(t, c.OpenTime%60_000)
	}
}

func TestLatestDefaultsToFullUniverse(t *testing.T) {
	s := newTestStore()

	candles, err := s.Latest(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Len(t, candles, 8)

	_, err = s.Latest(context.Background(), []string{"NOPE-USD"}, 1)
	assert.Error(t, err)
}
