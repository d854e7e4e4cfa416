// Package middleware holds the cross-cutting request wrappers installed on
// the dispatcher: tracing and latency accounting, the authentication gate and
// per-method rate limiting.
package middleware

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bulltrade/gateway/internal/alerts"
	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/metrics"
	"github.com/bulltrade/gateway/internal/protocol"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var logger = log.New(log.Writer(), "[MW] ", log.LstdFlags)

// Trace assigns each request a trace id, times it end to end and feeds the
// latency and error counters. Errors trigger an alert evaluation pass.
func Trace(collector *metrics.Collector, engine *alerts.Engine) dispatch.Middleware {
	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, req *dispatch.Request) dispatch.Response {
			req.TraceID = uuid.NewString()
			req.Received = time.Now()
			if req.Session != nil {
				logger.Printf("trace=%s method=%s session=%s", req.TraceID, req.Method, req.Session.ID)
			}

			resp := next(ctx, req)

			elapsed := time.Since(req.Received)
			collector.RecordLatency(elapsed)
			if detail, isErr := protocol.IsError(resp.Body); isErr {
				collector.RecordError()
				logger.Printf("trace=%s method=%s code=%s elapsed=%s", req.TraceID, req.Method, detail.Code, elapsed)
				if engine != nil {
					engine.EvaluateAndBroadcast()
				}
			}
			return resp
		}
	}
}

// AuthGate silently drops protected requests from unauthenticated sessions.
// Open methods pass through untouched. Dropped requests get no reply, not
// even an error; probing clients learn nothing.
func AuthGate(open map[string]bool) dispatch.Middleware {
	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, req *dispatch.Request) dispatch.Response {
			if open[req.Method] {
				return next(ctx, req)
			}
			if req.Session == nil || !req.Session.Authenticated() {
				logger.Printf("dropped unauthenticated %s", req.Method)
				return dispatch.Drop()
			}
			return next(ctx, req)
		}
	}
}

// RateLimit enforces per-session token buckets on selected methods. Limits
// maps a method name to its bucket parameters; unlisted methods are
// unlimited. Only accepted requests consume a token: a request the handler
// answers with an error hands its token back, so a malformed attempt does not
// push out the window for the valid retry behind it.
func RateLimit(limits map[string]rate.Limit) dispatch.Middleware {
	const fieldPrefix = "ratelimit:"
	var mu sync.Mutex

	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, req *dispatch.Request) dispatch.Response {
			limit, limited := limits[req.Method]
			if !limited || req.Session == nil {
				return next(ctx, req)
			}

			mu.Lock()
			var limiter *rate.Limiter
			if v, ok := req.Session.Field(fieldPrefix + req.Method); ok {
				limiter = v.(*rate.Limiter)
			} else {
				limiter = rate.NewLimiter(limit, 1)
				req.Session.SetField(fieldPrefix+req.Method, limiter)
			}
			mu.Unlock()

			res := limiter.ReserveN(time.Now(), 1)
			if !res.OK() || res.Delay() > 0 {
				res.Cancel()
				return dispatch.Fail(protocol.CodeRateLimitExceeded, "rate limit exceeded for "+req.Method)
			}

			resp := next(ctx, req)
			if _, isErr := protocol.IsError(resp.Body); isErr {
				res.Cancel()
			}
			return resp
		}
	}
}
