// Package reliable implements the per-session at-least-once delivery channel.
// Outbound frames carry a monotonically increasing sequence number and stay
// pending until the peer acknowledges them; unacknowledged frames are
// retransmitted with linear backoff. Inbound frames are deduplicated against a
// high-water mark so replays after a resume do not re-run handlers.
package reliable

import (
	"sync"
	"time"

	"github.com/bulltrade/gateway/internal/protocol"
)

const (
	retryBase   = 100 * time.Millisecond
	retryCap    = 2 * time.Second
	maxAttempts = 5
	responseTTL = 300 * time.Second
	sweepPeriod = 50 * time.Millisecond
)

// Sink is where the channel pushes encoded frames. Deliver returns false when
// the underlying connection can no longer accept writes.
type Sink interface {
	Deliver(payload []byte) bool
}

type pendingFrame struct {
	seq      uint64
	payload  []byte
	attempts int
	nextTry  time.Time
}

type cachedResponse struct {
	payload []byte
	expires time.Time
}

// Channel is the reliability state for one logical session. It survives
// transport drops; Attach wires in the live connection and Detach suspends
// retransmission until the session is resumed.
type Channel struct {
	mu      sync.Mutex
	nextSeq uint64
	pending []*pendingFrame
	sink    Sink

	inboundHigh uint64
	responses   map[uint64]cachedResponse

	onDrop func(seq uint64)

	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel creates a channel and starts its retransmission loop. onDrop is
// invoked (outside the lock) when a frame exhausts its retry budget; it may be
// nil.
func NewChannel(onDrop func(seq uint64)) *Channel {
	ch := &Channel{
		responses: make(map[uint64]cachedResponse),
		onDrop:    onDrop,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go ch.retryLoop()
	return ch
}

// Attach binds a live sink and immediately retransmits every pending frame in
// sequence order, so a resumed client receives the gap before any new traffic.
func (c *Channel) Attach(sink Sink) {
	c.mu.Lock()
	c.sink = sink
	now := time.Now()
	for _, p := range c.pending {
		sink.Deliver(p.payload)
		p.nextTry = now.Add(backoff(p.attempts))
	}
	c.mu.Unlock()
	c.poke()
}

// Detach suspends delivery. Pending frames are kept and their attempt counts
// frozen until the session rebinds or expires.
func (c *Channel) Detach() {
	c.mu.Lock()
	c.sink = nil
	c.mu.Unlock()
}

// Send assigns the next sequence number, encodes the frame and queues it for
// at-least-once delivery. The assigned sequence is returned.
func (c *Channel) Send(method string, body []byte) (uint64, error) {
	c.mu.Lock()
	c.nextSeq++
	seq := c.nextSeq
	frame := protocol.Frame{Method: method, Seq: seq, Body: body}
	payload, err := protocol.Encode(&frame)
	if err != nil {
		c.nextSeq--
		c.mu.Unlock()
		return 0, err
	}
	p := &pendingFrame{seq: seq, payload: payload, nextTry: time.Now().Add(backoff(0))}
	c.pending = append(c.pending, p)
	if c.sink != nil {
		c.sink.Deliver(payload)
	}
	c.mu.Unlock()
	c.poke()
	return seq, nil
}

// SendFireAndForget delivers a frame with sequence zero. It is never
// retransmitted and is silently dropped while detached.
func (c *Channel) SendFireAndForget(method string, body []byte) error {
	frame := protocol.Frame{Method: method, Body: body}
	payload, err := protocol.Encode(&frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.sink != nil {
		c.sink.Deliver(payload)
	}
	c.mu.Unlock()
	return nil
}

// Ack acknowledges every pending frame with sequence <= seq.
func (c *Channel) Ack(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.seq > seq {
			kept = append(kept, p)
		}
	}
	c.pending = kept
}

// PendingCount reports how many frames are awaiting acknowledgement.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dedup checks an inbound sequence number against the high-water mark. For a
// duplicate it returns the cached response (nil if it has expired) and true;
// the caller must not re-run the handler.
func (c *Channel) Dedup(seq uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq == 0 || seq > c.inboundHigh {
		return nil, false
	}
	if cached, ok := c.responses[seq]; ok && time.Now().Before(cached.expires) {
		return cached.payload, true
	}
	return nil, true
}

// Commit records that an inbound sequence has been fully handled and caches
// the encoded response for replay to duplicates.
func (c *Channel) Commit(seq uint64, response []byte) {
	if seq == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.inboundHigh {
		c.inboundHigh = seq
	}
	now := time.Now()
	c.responses[seq] = cachedResponse{payload: response, expires: now.Add(responseTTL)}
	for s, cached := range c.responses {
		if now.After(cached.expires) {
			delete(c.responses, s)
		}
	}
}

// Close stops the retransmission loop. Pending frames are discarded.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Channel) poke() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Channel) retryLoop() {
	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.kick:
		case <-ticker.C:
		}
		c.sweep()
	}
}

// sweep retransmits due frames and drops any that exhausted their budget.
// While detached nothing is counted against the budget.
func (c *Channel) sweep() {
	var dropped []uint64
	c.mu.Lock()
	if c.sink != nil {
		now := time.Now()
		kept := c.pending[:0]
		for _, p := range c.pending {
			if now.Before(p.nextTry) {
				kept = append(kept, p)
				continue
			}
			if p.attempts >= maxAttempts {
				dropped = append(dropped, p.seq)
				continue
			}
			p.attempts++
			c.sink.Deliver(p.payload)
			p.nextTry = now.Add(backoff(p.attempts))
			kept = append(kept, p)
		}
		c.pending = kept
	}
	onDrop := c.onDrop
	c.mu.Unlock()

	if onDrop != nil {
		for _, seq := range dropped {
			onDrop(seq)
		}
	}
}

// backoff grows linearly with the attempt count and is capped.
func backoff(attempts int) time.Duration {
	d := retryBase * time.Duration(attempts+1)
	if d > retryCap {
		return retryCap
	}
	return d
}
