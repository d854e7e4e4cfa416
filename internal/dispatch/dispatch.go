// Package dispatch routes decoded frames to their method handlers through a
// middleware chain. One router instance serves every connection.
package dispatch

import (
	"context"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/bulltrade/gateway/internal/protocol"
	"github.com/bulltrade/gateway/internal/session"
)

var logger = log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags)

// Request is one inbound frame plus the session it arrived on.
type Request struct {
	Method   string
	Seq      uint64
	Body     []byte
	Session  *session.Session
	TraceID  string
	Received time.Time
}

// Response is what a handler returns. Silent suppresses the reply frame
// entirely; the client learns nothing about the request's fate.
type Response struct {
	Body   []byte
	Silent bool
}

// Reply wraps an encoded body in a normal response.
func Reply(body []byte) Response { return Response{Body: body} }

// Fail wraps an error envelope in a normal response.
func Fail(code, message string) Response {
	return Response{Body: protocol.NewError(code, message)}
}

// Drop produces a response that is never written to the wire.
func Drop() Response { return Response{Silent: true} }

// HandlerFunc processes one request.
type HandlerFunc func(ctx context.Context, req *Request) Response

// Middleware wraps a handler with cross-cutting behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Router maps method names to handlers and applies the middleware chain.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	chain    []Middleware
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Use appends middleware. The first registered runs outermost. Must be called
// before Dispatch starts serving traffic.
func (r *Router) Use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chain = append(r.chain, mw...)
}

// Handle registers a handler for a method name.
func (r *Router) Handle(method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Methods lists the registered method names, sorted.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the request through the middleware chain to its handler. A
// panicking handler is contained and reported as an internal error.
func (r *Router) Dispatch(ctx context.Context, req *Request) Response {
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	chain := r.chain
	r.mu.RUnlock()

	if !ok {
		h = func(context.Context, *Request) Response {
			return Fail(protocol.CodeUnknownMethod, "unknown method: "+req.Method)
		}
	}

	wrapped := func(ctx context.Context, req *Request) (resp Response) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Printf("panic in %s: %v\n%s", req.Method, rec, debug.Stack())
				resp = Fail(protocol.CodeInternalError, "internal error")
			}
		}()
		return h(ctx, req)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		wrapped = chain[i](wrapped)
	}
	return wrapped(ctx, req)
}
