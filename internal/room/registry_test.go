package room

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulltrade/gateway/internal/protocol"
	"github.com/bulltrade/gateway/internal/session"
)

type captureSink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *captureSink) Deliver(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return true
}

func (s *captureSink) last(t *testing.T) *protocol.Frame {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.payloads)
	f, err := protocol.Decode(s.payloads[len(s.payloads)-1])
	require.NoError(t, err)
	return f
}

func newTestSession(t *testing.T, reg *session.Registry) (*session.Session, *captureSink) {
	t.Helper()
	s := reg.Bind(nil)
	sink := &captureSink{}
	s.Channel.Attach(sink)
	return s, sink
}

func TestJoinLeaveLifecycle(t *testing.T) {
	sessions := session.NewRegistry("secret", 30*time.Second, nil)
	defer sessions.Shutdown()
	r := NewRegistry()

	a, _ := newTestSession(t, sessions)
	b, _ := newTestSession(t, sessions)

	r.Join("market:BTC-USD", a)
	r.Join("market:BTC-USD", a) // idempotent
	r.Join("market:BTC-USD", b)
	r.Join("alerts:system", a)

	assert.Equal(t, 2, r.MemberCount("market:BTC-USD"))
	assert.ElementsMatch(t, []string{"market:BTC-USD", "alerts:system"}, r.Rooms(a))

	r.Leave("market:BTC-USD", a)
	assert.Equal(t, 1, r.MemberCount("market:BTC-USD"))
	assert.Equal(t, []string{"alerts:system"}, r.Rooms(a))

	// Last member out destroys the room.
	r.Leave("market:BTC-USD", b)
	assert.Equal(t, 0, r.MemberCount("market:BTC-USD"))
	assert.Empty(t, r.Members("market:BTC-USD"))
}

func TestLeaveAll(t *testing.T) {
	sessions := session.NewRegistry("secret", 30*time.Second, nil)
	defer sessions.Shutdown()
	r := NewRegistry()

	s, _ := newTestSession(t, sessions)
	r.Join("market:BTC-USD", s)
	r.Join("market:ETH-USD", s)
	r.Join("alerts:system", s)

	r.LeaveAll(s)
	assert.Empty(t, r.Rooms(s))
	assert.Equal(t, 0, r.MemberCount("market:BTC-USD"))
	assert.Equal(t, 0, r.MemberCount("alerts:system"))
}

func TestBroadcastReachesMembersOnly(t *testing.T) {
	sessions := session.NewRegistry("secret", 30*time.Second, nil)
	defer sessions.Shutdown()
	r := NewRegistry()

	a, sinkA := newTestSession(t, sessions)
	b, sinkB := newTestSession(t, sessions)
	_, sinkC := newTestSession(t, sessions)

	r.Join("market:ETH-USD", a)
	r.Join("market:ETH-USD", b)

	body, err := protocol.EncodeBody(map[string]string{"symbol": "ETH-USD"})
	require.NoError(t, err)
	n := r.Broadcast("market:ETH-USD", "market.tick", body)
	assert.Equal(t, 2, n)

	for _, sink := range []*captureSink{sinkA, sinkB} {
		f := sink.last(t)
		assert.Equal(t, "market.tick", f.Method)
		assert.Zero(t, f.Seq)
	}
	sinkC.mu.Lock()
	assert.Empty(t, sinkC.payloads)
	sinkC.mu.Unlock()
}

func TestBroadcastToMissingRoom(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Broadcast("market:NOPE-USD", "market.tick", nil))
}
