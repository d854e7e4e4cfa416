// Package market generates simulated market data. Each symbol performs a
// bounded random walk around its base price; one tick per symbol per second
// is published to that symbol's room.
package market

import (
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bulltrade/gateway/internal/protocol"
	"github.com/bulltrade/gateway/internal/room"
)

var logger = log.New(log.Writer(), "[MARKET] ", log.LstdFlags)

// MethodTick is the frame method for market data pushes.
const MethodTick = "market.tick"

// RoomPrefix namespaces per-symbol rooms.
const RoomPrefix = "market:"

// Tick is one market data point.
type Tick struct {
	Symbol    string  `msgpack:"symbol" json:"symbol"`
	Price     float64 `msgpack:"price" json:"price"`
	ChangePct float64 `msgpack:"changePct" json:"changePct"`
	Volume    uint64  `msgpack:"volume" json:"volume"`
	Seq       uint64  `msgpack:"seq" json:"seq"`
	Timestamp int64   `msgpack:"timestamp" json:"timestamp"`
}

type instrument struct {
	base       float64
	volatility float64
	volumeLow  uint64
	volumeHigh uint64

	mu    sync.Mutex
	price float64
}

// Simulator owns the instrument universe and the tick loop.
type Simulator struct {
	instruments map[string]*instrument
	symbols     []string
	rooms       *room.Registry
	rng         *rand.Rand
	rngMu       sync.Mutex

	seq atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

// NewSimulator seeds the default instrument universe.
func NewSimulator(rooms *room.Registry) *Simulator {
	s := &Simulator{
		instruments: make(map[string]*instrument),
		rooms:       rooms,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		done:        make(chan struct{}),
	}
	add := func(symbol string, base, vol float64, vLow, vHigh uint64) {
		s.instruments[symbol] = &instrument{base: base, volatility: vol, volumeLow: vLow, volumeHigh: vHigh, price: base}
		s.symbols = append(s.symbols, symbol)
	}
	add("ETH-USD", 2500, 0.003, 500, 5000)
	add("BTC-USD", 45000, 0.002, 100, 2000)
	add("ADA-USD", 0.45, 0.004, 10000, 100000)
	add("SOL-USD", 95, 0.004, 1000, 10000)
	add("DOGE-USD", 0.08, 0.005, 50000, 500000)
	add("AVAX-USD", 25, 0.004, 2000, 20000)
	add("MATIC-USD", 0.75, 0.005, 10000, 80000)
	add("LINK-USD", 12.5, 0.003, 3000, 30000)
	return s
}

// Symbols lists the simulated instruments.
func (s *Simulator) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Has reports whether the symbol is simulated.
func (s *Simulator) Has(symbol string) bool {
	_, ok := s.instruments[symbol]
	return ok
}

// Price returns the current price, or zero for unknown symbols. Used as the
// reference price for market-order risk checks.
func (s *Simulator) Price(symbol string) float64 {
	inst, ok := s.instruments[symbol]
	if !ok {
		return 0
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.price
}

// Start launches the tick loop. interval <= 0 defaults to one second.
func (s *Simulator) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go s.loop(interval)
	logger.Printf("simulator started: %d symbols, interval %s", len(s.symbols), interval)
}

// Stop halts the tick loop.
func (s *Simulator) Stop() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Simulator) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.tickAll()
		}
	}
}

func (s *Simulator) tickAll() {
	now := time.Now().UnixMilli()
	for _, symbol := range s.symbols {
		tick := s.advance(symbol, now)
		body, err := protocol.EncodeBody(tick)
		if err != nil {
			logger.Printf("encode tick %s: %v", symbol, err)
			continue
		}
		s.rooms.Broadcast(RoomPrefix+symbol, MethodTick, body)
	}
}

// advance performs one random-walk step. The walk is mean-reverting only in
// the sense that price never leaves the [0.5x, 2x] band around base.
func (s *Simulator) advance(symbol string, now int64) Tick {
	inst := s.instruments[symbol]

	s.rngMu.Lock()
	step := (s.rng.Float64()*2 - 1) * inst.volatility
	volSpan := inst.volumeHigh - inst.volumeLow
	volume := inst.volumeLow + uint64(s.rng.Int63n(int64(volSpan)+1))
	s.rngMu.Unlock()

	inst.mu.Lock()
	prev := inst.price
	next := prev * (1 + step)
	if next < inst.base*0.5 {
		next = inst.base * 0.5
	}
	if next > inst.base*2 {
		next = inst.base * 2
	}
	inst.price = next
	inst.mu.Unlock()

	changePct := 0.0
	if prev != 0 {
		changePct = (next - prev) / prev * 100
	}

	return Tick{
		Symbol:    symbol,
		Price:     next,
		ChangePct: changePct,
		Volume:    volume,
		Seq:       s.seq.Add(1),
		Timestamp: now,
	}
}
