// Package transport owns the WebSocket edge: connection upgrade, session
// binding and resume, the read/write pumps, and the bridge between the wire
// and the dispatcher.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/metrics"
	"github.com/bulltrade/gateway/internal/protocol"
	"github.com/bulltrade/gateway/internal/room"
	"github.com/bulltrade/gateway/internal/session"
)

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a message
	sendBuffer = 256              // Per-connection outbound channel buffer
)

// In production (GATEWAY_ENV=production), only origins listed in
// GATEWAY_ALLOWED_ORIGINS are accepted. In dev, all origins are allowed.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("GATEWAY_ENV")
	allowedRaw := os.Getenv("GATEWAY_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		slog.Info("[Transport] Origin allowlist active", "count", len(allowed))
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				return true
			}
			slog.Warn("[Transport] Rejected connection from origin", "origin", origin)
			return false
		}
	}
	if env == "production" && allowedRaw == "" {
		slog.Warn("[Transport] GATEWAY_ALLOWED_ORIGINS not set in production, allowing all origins")
	}
	return func(r *http.Request) bool { return true }
}

// Transport upgrades HTTP connections and runs one Conn per client.
type Transport struct {
	sessions  *session.Registry
	rooms     *room.Registry
	router    *dispatch.Router
	collector *metrics.Collector
}

// New creates the transport.
func New(sessions *session.Registry, rooms *room.Registry, router *dispatch.Router, collector *metrics.Collector) *Transport {
	return &Transport{sessions: sessions, rooms: rooms, router: router, collector: collector}
}

// Conn is one live WebSocket connection bound to a session. All writes go
// through the Send channel into writePump; readPump is the only reader.
type Conn struct {
	t     *Transport
	ws    *websocket.Conn
	sess  *session.Session
	owner uint64
	Send  chan []byte
	done  chan struct{}
	once  sync.Once

	cancel context.CancelFunc
}

// Deliver implements reliable.Sink. It never blocks; a full buffer drops the
// write and reports failure so the reliability layer retries later.
func (c *Conn) Deliver(payload []byte) bool {
	select {
	case c.Send <- payload:
		return true
	case <-c.done:
		return false
	default:
		slog.Warn("[Transport] Send buffer full", "session", c.sess.ID)
		return false
	}
}

// HandleWebSocket inspects the handshake, upgrades the request and binds or
// resumes a session. Identity material in the upgrade query (clientId,
// deviceId, token) is extracted up front; a verified bearer token
// authenticates the session before the first frame, and material that
// resolves to no user rejects the connection. A valid sessionToken query
// parameter reclaims a suspended session with its pending frames; anything
// else starts an anonymous session that must hello.
func (t *Transport) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := inspect(r)
	if !ok {
		slog.Warn("[Transport] Handshake rejected", "remote", r.RemoteAddr)
		http.Error(w, RejectReason, http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Transport] Upgrade failed", "error", err)
		return
	}

	var sess *session.Session
	resumed := false
	if id.hasResume {
		if s, rerr := t.sessions.Resume(id.resume); rerr == nil {
			sess = s
			resumed = true
		} else {
			slog.Warn("[Transport] Resume rejected", "remote", r.RemoteAddr)
		}
	}
	if sess == nil {
		sess = t.sessions.Bind(t.onDrop)
	}

	switch {
	case id.verified:
		t.sessions.Authenticate(sess, id.principal, id.userID, id.deviceID)
	case id.userID != "":
		sess.Identify(id.userID, id.deviceID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		t:      t,
		ws:     ws,
		sess:   sess,
		owner:  t.sessions.Claim(sess),
		Send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	t.collector.RecordConnection()
	slog.Info("[Transport] Connected", "session", sess.ID, "resumed", resumed, "remote", r.RemoteAddr)

	// Attach after pumps exist so the resume replay has somewhere to go.
	go conn.writePump()
	go conn.readPump(ctx)
	sess.Channel.Attach(conn)
}

// onDrop runs when a frame exhausts its retry budget.
func (t *Transport) onDrop(seq uint64) {
	slog.Warn("[Transport] Dropped unacknowledged frame", "seq", seq)
	t.collector.RecordError()
}

// close tears the connection down exactly once and suspends the session,
// unless a newer connection has claimed it since. The session itself survives
// until its resume window lapses.
func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		c.t.sessions.Suspend(c.sess, c.owner)
		c.t.collector.RecordDisconnection()
		c.ws.Close()
		slog.Info("[Transport] Disconnected", "session", c.sess.ID)
	})
}

// writePump serializes all writes to the WebSocket connection. It is the
// only goroutine that calls WriteMessage.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.Send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				slog.Warn("[Transport] Write failed", "session", c.sess.ID, "error", err)
				return
			}
			// Drain queued frames in the same wakeup.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.ws.WriteMessage(websocket.BinaryMessage, <-c.Send); err != nil {
					slog.Warn("[Transport] Batch write failed", "session", c.sess.ID, "error", err)
					return
				}
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump is the only goroutine that reads from the connection. Inbound
// frames are handled strictly in arrival order, so responses leave the
// dispatcher in the order requests came in.
func (c *Conn) readPump(ctx context.Context) {
	defer c.close()

	c.ws.SetReadLimit(protocol.MaxFrameBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("[Transport] Read error", "session", c.sess.ID, "error", err)
			}
			return
		}

		frame, err := protocol.Decode(payload)
		if err != nil {
			slog.Warn("[Transport] Malformed frame", "session", c.sess.ID, "error", err)
			continue
		}
		c.handleFrame(ctx, frame)
	}
}

// handleFrame processes one inbound frame: acks feed the reliability layer,
// duplicates replay their cached response, everything else dispatches.
func (c *Conn) handleFrame(ctx context.Context, frame *protocol.Frame) {
	if frame.Method == protocol.MethodAck {
		var ack protocol.AckBody
		if err := protocol.DecodeBody(frame.Body, &ack); err != nil {
			slog.Warn("[Transport] Malformed ack", "session", c.sess.ID, "error", err)
			return
		}
		c.sess.Channel.Ack(ack.Seq)
		return
	}

	if frame.Seq > 0 {
		if cached, dup := c.sess.Channel.Dedup(frame.Seq); dup {
			if cached != nil {
				c.sess.Channel.Send(frame.Method, cached)
			}
			return
		}
	}

	resp := c.t.router.Dispatch(ctx, &dispatch.Request{
		Method:  frame.Method,
		Seq:     frame.Seq,
		Body:    frame.Body,
		Session: c.sess,
	})
	if resp.Silent {
		return
	}

	c.sess.Channel.Commit(frame.Seq, resp.Body)
	if _, err := c.sess.Channel.Send(frame.Method, resp.Body); err != nil {
		slog.Warn("[Transport] Response send failed", "session", c.sess.ID, "error", err)
	}
}
