package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulltrade/gateway/internal/auth"
	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/metrics"
	"github.com/bulltrade/gateway/internal/protocol"
	"github.com/bulltrade/gateway/internal/room"
	"github.com/bulltrade/gateway/internal/session"
)

type testGateway struct {
	sessions *session.Registry
	server   *httptest.Server
	url      string
}

// newTestGateway serves a transport with two toy methods: echo returns the
// request body, login authenticates the session and returns its resume token,
// whoami reports the session's user id.
func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	collector := metrics.NewCollector()
	rooms := room.NewRegistry()
	sessions := session.NewRegistry("test-secret", 30*time.Second, nil)
	t.Cleanup(sessions.Shutdown)

	router := dispatch.NewRouter()
	router.Handle("echo", func(_ context.Context, req *dispatch.Request) dispatch.Response {
		return dispatch.Reply(req.Body)
	})
	router.Handle("login", func(_ context.Context, req *dispatch.Request) dispatch.Response {
		token := sessions.Authenticate(req.Session,
			auth.Principal{UserID: "trader-user-123", Roles: []string{"trader"}}, "test", "dev-1")
		body, _ := protocol.EncodeBody(map[string]string{"token": token.Hex()})
		return dispatch.Reply(body)
	})
	router.Handle("whoami", func(_ context.Context, req *dispatch.Request) dispatch.Response {
		body, _ := protocol.EncodeBody(map[string]string{
			"userId":   req.Session.UserID(),
			"clientId": req.Session.ClientID(),
			"deviceId": req.Session.DeviceID(),
		})
		return dispatch.Reply(body)
	})
	router.Handle("nothing", func(context.Context, *dispatch.Request) dispatch.Response {
		return dispatch.Drop()
	})

	tr := New(sessions, rooms, router, collector)
	server := httptest.NewServer(http.HandlerFunc(tr.HandleWebSocket))
	t.Cleanup(server.Close)

	return &testGateway{
		sessions: sessions,
		server:   server,
		url:      "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendFrame(t *testing.T, ws *websocket.Conn, method string, seq uint64, body interface{}) {
	t.Helper()
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = protocol.EncodeBody(body)
		require.NoError(t, err)
	}
	payload, err := protocol.Encode(&protocol.Frame{Method: method, Seq: seq, Body: encoded})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, payload))
}

func readFrame(t *testing.T, ws *websocket.Conn) *protocol.Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)
	frame, err := protocol.Decode(payload)
	require.NoError(t, err)
	return frame
}

func ack(t *testing.T, ws *websocket.Conn, seq uint64) {
	t.Helper()
	sendFrame(t, ws, protocol.MethodAck, 0, protocol.AckBody{Seq: seq})
}

func TestRequestResponseOverWire(t *testing.T) {
	g := newTestGateway(t)
	ws := dial(t, g.url)

	sendFrame(t, ws, "echo", 1, map[string]string{"hello": "world"})

	frame := readFrame(t, ws)
	assert.Equal(t, "echo", frame.Method)
	assert.NotZero(t, frame.Seq)

	var body map[string]string
	require.NoError(t, protocol.DecodeBody(frame.Body, &body))
	assert.Equal(t, "world", body["hello"])

	ack(t, ws, frame.Seq)
}

func TestDuplicateRequestReplaysCachedResponse(t *testing.T) {
	g := newTestGateway(t)
	ws := dial(t, g.url)

	sendFrame(t, ws, "echo", 7, map[string]string{"n": "1"})
	first := readFrame(t, ws)
	ack(t, ws, first.Seq)

	// Same inbound sequence again: the handler must not re-run; the cached
	// bytes come back.
	sendFrame(t, ws, "echo", 7, map[string]string{"n": "2"})
	replay := readFrame(t, ws)
	assert.Equal(t, "echo", replay.Method)
	assert.Equal(t, first.Body, replay.Body)
	ack(t, ws, replay.Seq)
}

func TestSilentResponsesWriteNothing(t *testing.T) {
	g := newTestGateway(t)
	ws := dial(t, g.url)

	sendFrame(t, ws, "nothing", 1, nil)

	// Nothing should arrive; the follow-up echo is the next frame on the wire.
	sendFrame(t, ws, "echo", 2, map[string]string{"k": "v"})
	frame := readFrame(t, ws)
	assert.Equal(t, "echo", frame.Method)
	ack(t, ws, frame.Seq)
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	g := newTestGateway(t)
	ws := dial(t, g.url)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("not msgpack")))

	sendFrame(t, ws, "echo", 1, map[string]string{"still": "alive"})
	frame := readFrame(t, ws)
	assert.Equal(t, "echo", frame.Method)
	ack(t, ws, frame.Seq)
}

func TestResumeReclaimsSession(t *testing.T) {
	g := newTestGateway(t)
	ws := dial(t, g.url)

	sendFrame(t, ws, "login", 1, nil)
	frame := readFrame(t, ws)
	var login map[string]string
	require.NoError(t, protocol.DecodeBody(frame.Body, &login))
	require.Len(t, login["token"], 32)
	ack(t, ws, frame.Seq)

	ws.Close()

	// Reconnect with the resume token: same session, same principal.
	ws2 := dial(t, g.url+"?sessionToken="+login["token"])
	sendFrame(t, ws2, "whoami", 2, nil)
	frame = readFrame(t, ws2)

	var who map[string]string
	require.NoError(t, protocol.DecodeBody(frame.Body, &who))
	assert.Equal(t, "trader-user-123", who["userId"])
	ack(t, ws2, frame.Seq)
}

func TestResumeWhileOldConnectionStillOpen(t *testing.T) {
	g := newTestGateway(t)
	ws1 := dial(t, g.url)

	sendFrame(t, ws1, "login", 1, nil)
	frame := readFrame(t, ws1)
	var login map[string]string
	require.NoError(t, protocol.DecodeBody(frame.Body, &login))
	ack(t, ws1, frame.Seq)

	// Resume on a second connection while the first is still up, then tear
	// the first one down. Its late close must not suspend the session the
	// second connection now owns.
	ws2 := dial(t, g.url+"?sessionToken="+login["token"])
	ws1.Close()
	time.Sleep(100 * time.Millisecond)

	sendFrame(t, ws2, "whoami", 2, nil)
	frame = readFrame(t, ws2)
	var who map[string]string
	require.NoError(t, protocol.DecodeBody(frame.Body, &who))
	assert.Equal(t, "trader-user-123", who["userId"])
	ack(t, ws2, frame.Seq)
}

func TestHandshakeTokenAuthenticates(t *testing.T) {
	g := newTestGateway(t)

	ws := dial(t, g.url+"?token=trader-abc&deviceId=dev-9")
	sendFrame(t, ws, "whoami", 1, nil)
	frame := readFrame(t, ws)

	var who map[string]string
	require.NoError(t, protocol.DecodeBody(frame.Body, &who))
	assert.Equal(t, "trader-user-123", who["userId"])
	assert.Equal(t, "dev-9", who["deviceId"])
	ack(t, ws, frame.Seq)
}

func TestHandshakeClientIDWithHeaderDevice(t *testing.T) {
	g := newTestGateway(t)

	header := http.Header{"X-Device-Id": []string{"kiosk-4"}}
	ws, _, err := websocket.DefaultDialer.Dial(g.url+"?clientId=web-7", header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	sendFrame(t, ws, "whoami", 1, nil)
	frame := readFrame(t, ws)

	var who map[string]string
	require.NoError(t, protocol.DecodeBody(frame.Body, &who))
	assert.Empty(t, who["userId"])
	assert.Equal(t, "web-7", who["clientId"])
	assert.Equal(t, "kiosk-4", who["deviceId"])
	ack(t, ws, frame.Seq)
}

func TestHandshakeDefaultsDeviceID(t *testing.T) {
	g := newTestGateway(t)

	ws := dial(t, g.url+"?clientId=web-7")
	sendFrame(t, ws, "whoami", 1, nil)
	frame := readFrame(t, ws)

	var who map[string]string
	require.NoError(t, protocol.DecodeBody(frame.Body, &who))
	assert.Equal(t, auth.DefaultDeviceID("web-7"), who["deviceId"])
	ack(t, ws, frame.Seq)
}

func TestHandshakeRejectsUnresolvedIdentity(t *testing.T) {
	g := newTestGateway(t)

	// Device material without any user identification is refused before the
	// upgrade.
	_, resp, err := websocket.DefaultDialer.Dial(g.url+"?deviceId=555", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	header := http.Header{"X-Device-Id": []string{"kiosk-4"}}
	_, resp, err = websocket.DefaultDialer.Dial(g.url, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestBadResumeTokenStartsFresh(t *testing.T) {
	g := newTestGateway(t)

	ws := dial(t, g.url+"?sessionToken=ffffffffffffffffffffffffffffffff")
	sendFrame(t, ws, "whoami", 1, nil)
	frame := readFrame(t, ws)

	var who map[string]string
	require.NoError(t, protocol.DecodeBody(frame.Body, &who))
	assert.Empty(t, who["userId"])
	ack(t, ws, frame.Seq)
}

func TestUnackedResponseIsRetransmitted(t *testing.T) {
	g := newTestGateway(t)
	ws := dial(t, g.url)

	sendFrame(t, ws, "echo", 1, map[string]string{"k": "v"})

	first := readFrame(t, ws)
	second := readFrame(t, ws)
	assert.Equal(t, first.Seq, second.Seq)
	assert.Equal(t, first.Body, second.Body)

	ack(t, ws, first.Seq)
}
