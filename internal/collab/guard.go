// Package collab wraps the backing stores the gateway collaborates with in a
// circuit breaker plus a single retry. Handlers see either a result or a
// fast failure they can map to SERVICE_UNAVAILABLE.
package collab

import (
	"context"
	"errors"
	"time"

	"github.com/bulltrade/gateway/internal/circuitbreaker"
	"github.com/bulltrade/gateway/internal/domain"
)

// retryDelay separates the first attempt from its single retry.
const retryDelay = 50 * time.Millisecond

// IsUnavailable reports whether the error means the dependency is shedding
// load rather than rejecting the request itself.
func IsUnavailable(err error) bool {
	return errors.Is(err, circuitbreaker.ErrCircuitOpen) ||
		errors.Is(err, circuitbreaker.ErrTooManyRequests)
}

func execute[T any](ctx context.Context, cb *circuitbreaker.CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	run := func(ctx context.Context) (interface{}, error) { return fn(ctx) }

	res, err := cb.Execute(ctx, run)
	if err != nil && !IsUnavailable(err) && ctx.Err() == nil {
		// One retry covers transient faults; persistent ones trip the breaker.
		select {
		case <-ctx.Done():
		case <-time.After(retryDelay):
			res, err = cb.Execute(ctx, run)
		}
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// History guards a HistoryRepository.
type History struct {
	inner domain.HistoryRepository
	cb    *circuitbreaker.CircuitBreaker
}

// NewHistory wraps the repository with its own breaker.
func NewHistory(inner domain.HistoryRepository) *History {
	return &History{inner: inner, cb: circuitbreaker.New(circuitbreaker.DefaultConfig("history"))}
}

// Fetch implements domain.HistoryRepository.
func (h *History) Fetch(ctx context.Context, symbol string, q domain.HistoryQuery) ([]domain.Candle, error) {
	return execute(ctx, h.cb, func(ctx context.Context) ([]domain.Candle, error) {
		return h.inner.Fetch(ctx, symbol, q)
	})
}

// Latest implements domain.HistoryRepository.
func (h *History) Latest(ctx context.Context, symbols []string, limit int) ([]domain.Candle, error) {
	return execute(ctx, h.cb, func(ctx context.Context) ([]domain.Candle, error) {
		return h.inner.Latest(ctx, symbols, limit)
	})
}

// OrderLog guards a domain.OrderLog.
type OrderLog struct {
	inner domain.OrderLog
	cb    *circuitbreaker.CircuitBreaker
}

// NewOrderLog wraps the log with its own breaker.
func NewOrderLog(inner domain.OrderLog) *OrderLog {
	return &OrderLog{inner: inner, cb: circuitbreaker.New(circuitbreaker.DefaultConfig("orderlog"))}
}

// Append implements domain.OrderLog.
func (o *OrderLog) Append(ctx context.Context, idempotencyKey, status, orderID, resultJSON string) error {
	_, err := execute(ctx, o.cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.inner.Append(ctx, idempotencyKey, status, orderID, resultJSON)
	})
	return err
}

// QueryLatestPerOrder implements domain.OrderLog.
func (o *OrderLog) QueryLatestPerOrder(ctx context.Context, fromTime, toTime string, limit int) ([]domain.OrderRecord, error) {
	return execute(ctx, o.cb, func(ctx context.Context) ([]domain.OrderRecord, error) {
		return o.inner.QueryLatestPerOrder(ctx, fromTime, toTime, limit)
	})
}

// GetByOrderID implements domain.OrderLog.
func (o *OrderLog) GetByOrderID(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	return execute(ctx, o.cb, func(ctx context.Context) (*domain.OrderRecord, error) {
		return o.inner.GetByOrderID(ctx, orderID)
	})
}
