package domain

import "context"

// HistoryRepository serves candle history for a symbol. Implementations live
// outside the gateway core; the simulated store is the default.
type HistoryRepository interface {
	Fetch(ctx context.Context, symbol string, q HistoryQuery) ([]Candle, error)
	Latest(ctx context.Context, symbols []string, limit int) ([]Candle, error)
}

// OrderLog is the append-only durable sink for order outcomes, keyed by
// idempotency key.
type OrderLog interface {
	Append(ctx context.Context, idempotencyKey, status, orderID, resultJSON string) error
	// QueryLatestPerOrder returns the latest status per orderId in the given
	// time range, newest first. Empty bounds mean unbounded.
	QueryLatestPerOrder(ctx context.Context, fromTime, toTime string, limit int) ([]OrderRecord, error)
	GetByOrderID(ctx context.Context, orderID string) (*OrderRecord, error)
}

// RiskValidator decides whether an order may proceed. A false result carries a
// human-readable rejection reason.
type RiskValidator interface {
	Validate(account Account, positions []Position, order Order) (bool, string)
}

// AccountSource resolves the account and open positions backing a user.
type AccountSource interface {
	AccountFor(ctx context.Context, userID string) (Account, error)
	PositionsFor(ctx context.Context, account Account) ([]Position, error)
}
