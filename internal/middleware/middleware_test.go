package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/bulltrade/gateway/internal/auth"
	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/metrics"
	"github.com/bulltrade/gateway/internal/protocol"
	"github.com/bulltrade/gateway/internal/session"
)

func okHandler(context.Context, *dispatch.Request) dispatch.Response {
	return dispatch.Reply(nil)
}

func authedSession(t *testing.T, reg *session.Registry) *session.Session {
	t.Helper()
	s := reg.Bind(nil)
	reg.Authenticate(s, auth.Principal{UserID: "trader-user-123", Roles: []string{"trader"}}, "web", "dev")
	return s
}

func TestTraceAssignsIDAndCountsErrors(t *testing.T) {
	collector := metrics.NewCollector()
	mw := Trace(collector, nil)

	req := &dispatch.Request{Method: "orders.place"}
	resp := mw(func(ctx context.Context, r *dispatch.Request) dispatch.Response {
		assert.NotEmpty(t, r.TraceID)
		assert.False(t, r.Received.IsZero())
		return dispatch.Fail(protocol.CodeInvalidParams, "bad symbol")
	})(context.Background(), req)

	_, isErr := protocol.IsError(resp.Body)
	assert.True(t, isErr)

	_, _, errs, _ := collector.Counters()
	assert.Equal(t, int64(1), errs)
}

func TestTraceDoesNotCountSuccess(t *testing.T) {
	collector := metrics.NewCollector()
	mw := Trace(collector, nil)

	mw(okHandler)(context.Background(), &dispatch.Request{Method: "metrics.get"})

	_, _, errs, _ := collector.Counters()
	assert.Zero(t, errs)
}

func TestAuthGateDropsProtectedMethods(t *testing.T) {
	reg := session.NewRegistry("secret", 30*time.Second, nil)
	defer reg.Shutdown()

	gate := AuthGate(map[string]bool{"hello": true, "logout": true})
	anon := reg.Bind(nil)

	// Protected method from an anonymous session: silently dropped.
	resp := gate(okHandler)(context.Background(), &dispatch.Request{Method: "orders.place", Session: anon})
	assert.True(t, resp.Silent)

	// Open method passes even without authentication.
	resp = gate(okHandler)(context.Background(), &dispatch.Request{Method: "hello", Session: anon})
	assert.False(t, resp.Silent)

	// After authentication the gate opens.
	authed := authedSession(t, reg)
	resp = gate(okHandler)(context.Background(), &dispatch.Request{Method: "orders.place", Session: authed})
	assert.False(t, resp.Silent)

	// Logout clears the flag and the gate closes again.
	authed.SetField(session.FieldAuthenticated, nil)
	resp = gate(okHandler)(context.Background(), &dispatch.Request{Method: "orders.place", Session: authed})
	assert.True(t, resp.Silent)
}

func TestRateLimitPerSessionPerMethod(t *testing.T) {
	reg := session.NewRegistry("secret", 30*time.Second, nil)
	defer reg.Shutdown()

	mw := RateLimit(map[string]rate.Limit{"orders.place": rate.Every(time.Hour)})
	h := mw(okHandler)

	a := authedSession(t, reg)
	b := authedSession(t, reg)

	// First call passes, immediate second call on the same session is
	// rejected.
	resp := h(context.Background(), &dispatch.Request{Method: "orders.place", Session: a})
	_, isErr := protocol.IsError(resp.Body)
	assert.False(t, isErr)

	resp = h(context.Background(), &dispatch.Request{Method: "orders.place", Session: a})
	detail, isErr := protocol.IsError(resp.Body)
	require.True(t, isErr)
	assert.Equal(t, protocol.CodeRateLimitExceeded, detail.Code)

	// Buckets are per session.
	resp = h(context.Background(), &dispatch.Request{Method: "orders.place", Session: b})
	_, isErr = protocol.IsError(resp.Body)
	assert.False(t, isErr)

	// Unlisted methods are never limited.
	for i := 0; i < 5; i++ {
		resp = h(context.Background(), &dispatch.Request{Method: "metrics.get", Session: a})
		_, isErr = protocol.IsError(resp.Body)
		assert.False(t, isErr)
	}
}

func TestRateLimitChargesOnlyAcceptedRequests(t *testing.T) {
	reg := session.NewRegistry("secret", 30*time.Second, nil)
	defer reg.Shutdown()

	mw := RateLimit(map[string]rate.Limit{"orders.place": rate.Every(time.Hour)})
	s := authedSession(t, reg)

	failing := mw(func(context.Context, *dispatch.Request) dispatch.Response {
		return dispatch.Fail(protocol.CodeInvalidParams, "qty must be positive")
	})
	ok := mw(okHandler)

	// A request the handler rejects hands its token back; the valid retry
	// right behind it still gets through.
	resp := failing(context.Background(), &dispatch.Request{Method: "orders.place", Session: s})
	detail, isErr := protocol.IsError(resp.Body)
	require.True(t, isErr)
	assert.Equal(t, protocol.CodeInvalidParams, detail.Code)

	resp = ok(context.Background(), &dispatch.Request{Method: "orders.place", Session: s})
	_, isErr = protocol.IsError(resp.Body)
	assert.False(t, isErr)

	// The accepted request did consume the token.
	resp = ok(context.Background(), &dispatch.Request{Method: "orders.place", Session: s})
	detail, isErr = protocol.IsError(resp.Body)
	require.True(t, isErr)
	assert.Equal(t, protocol.CodeRateLimitExceeded, detail.Code)

	// A rejected-over-limit attempt does not push the window out either.
	resp = failing(context.Background(), &dispatch.Request{Method: "orders.place", Session: s})
	detail, isErr = protocol.IsError(resp.Body)
	require.True(t, isErr)
	assert.Equal(t, protocol.CodeRateLimitExceeded, detail.Code)
}
