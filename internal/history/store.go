// Package history serves historical candles. The store synthesizes OHLCV
// series on demand, walking backwards from the live simulator price so
// history lines up with the realtime feed.
package history

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/bulltrade/gateway/internal/domain"
	"github.com/bulltrade/gateway/internal/market"
)

// maxCandles bounds a single query's result size.
const maxCandles = 1000

// Store implements domain.HistoryRepository over the simulator.
type Store struct {
	sim *market.Simulator
}

// NewStore creates a store anchored to the simulator.
func NewStore(sim *market.Simulator) *Store {
	return &Store{sim: sim}
}

// Fetch returns candles for [FromTs, ToTs] at the query's interval, oldest
// first.
func (s *Store) Fetch(_ context.Context, symbol string, q domain.HistoryQuery) ([]domain.Candle, error) {
	if !s.sim.Has(symbol) {
		return nil, fmt.Errorf("history: unknown symbol %s", symbol)
	}
	if q.FromTs <= 0 || q.ToTs <= 0 || q.ToTs < q.FromTs {
		return nil, fmt.Errorf("history: invalid time range [%d, %d]", q.FromTs, q.ToTs)
	}

	stepMs := q.Interval.Seconds() * 1000
	if stepMs <= 0 {
		return nil, fmt.Errorf("history: invalid interval %q", q.Interval)
	}

	limit := q.Limit
	if limit <= 0 || limit > maxCandles {
		limit = maxCandles
	}

	// Align the window to interval boundaries, then cap the count.
	start := q.FromTs - q.FromTs%stepMs
	count := int((q.ToTs-start)/stepMs) + 1
	if count > limit {
		start = start + int64(count-limit)*stepMs
		count = limit
	}

	out := make([]domain.Candle, 0, count)
	for i := 0; i < count; i++ {
		openTime := start + int64(i)*stepMs
		out = append(out, s.candleAt(symbol, openTime, q.Interval))
	}
	return out, nil
}

// Latest returns the most recent limit candles per symbol at one-minute
// resolution, oldest first within each symbol.
func (s *Store) Latest(ctx context.Context, symbols []string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		limit = 1
	}
	if len(symbols) == 0 {
		symbols = s.sim.Symbols()
	}

	stepMs := domain.IntervalM1.Seconds() * 1000
	now := nowMs()
	end := now - now%stepMs

	out := make([]domain.Candle, 0, len(symbols)*limit)
	for _, symbol := range symbols {
		if !s.sim.Has(symbol) {
			return nil, fmt.Errorf("history: unknown symbol %s", symbol)
		}
		for i := limit - 1; i >= 0; i-- {
			out = append(out, s.candleAt(symbol, end-int64(i)*stepMs, domain.IntervalM1))
		}
	}
	return out, nil
}

// candleAt synthesizes one candle deterministically from (symbol, openTime),
// anchored around the symbol's live price. Identical queries return identical
// candles.
func (s *Store) candleAt(symbol string, openTime int64, interval domain.Interval) domain.Candle {
	anchor := s.sim.Price(symbol)
	rng := rand.New(rand.NewSource(seedFor(symbol, openTime)))

	drift := (rng.Float64()*2 - 1) * 0.02
	openPx := anchor * (1 + drift)
	closePx := openPx * (1 + (rng.Float64()*2-1)*0.01)
	highPx := openPx
	if closePx > highPx {
		highPx = closePx
	}
	highPx *= 1 + rng.Float64()*0.005
	lowPx := openPx
	if closePx < lowPx {
		lowPx = closePx
	}
	lowPx *= 1 - rng.Float64()*0.005

	return domain.Candle{
		Symbol:   symbol,
		OpenTime: openTime,
		Open:     openPx,
		High:     highPx,
		Low:      lowPx,
		Close:    closePx,
		Volume:   1000 + uint64(rng.Int63n(9000)),
		Interval: interval,
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

func seedFor(symbol string, openTime int64) int64 {
	var h int64 = 1469598103934665603
	for _, b := range []byte(symbol) {
		h ^= int64(b)
		h *= 1099511628211
	}
	return h ^ openTime
}
