// Package domain holds the value records shared by the gateway's handlers and
// its external collaborators: orders, accounts, candles, metrics, alerts.
package domain

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes limit from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus is the lifecycle state of an order as reported to clients.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusAck             OrderStatus = "ACK"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// Interval is a candle aggregation interval.
type Interval string

const (
	IntervalS1  Interval = "S1"
	IntervalS5  Interval = "S5"
	IntervalS15 Interval = "S15"
	IntervalM1  Interval = "M1"
	IntervalM5  Interval = "M5"
	IntervalM15 Interval = "M15"
	IntervalH1  Interval = "H1"
	IntervalD1  Interval = "D1"
)

// ParseInterval maps a wire string to an Interval, defaulting to M1.
func ParseInterval(s string) Interval {
	switch Interval(s) {
	case IntervalS1, IntervalS5, IntervalS15, IntervalM1, IntervalM5, IntervalM15, IntervalH1, IntervalD1:
		return Interval(s)
	}
	return IntervalM1
}

// Seconds returns the interval width in seconds.
func (i Interval) Seconds() int64 {
	switch i {
	case IntervalS1:
		return 1
	case IntervalS5:
		return 5
	case IntervalS15:
		return 15
	case IntervalM1:
		return 60
	case IntervalM5:
		return 300
	case IntervalM15:
		return 900
	case IntervalH1:
		return 3600
	case IntervalD1:
		return 86400
	}
	return 60
}

// Order is a client order as seen by the risk validator and the order log.
type Order struct {
	OrderID        string
	IdempotencyKey string
	Symbol         string
	Type           OrderType
	Side           Side
	Qty            float64
	Price          float64
	Status         OrderStatus
	CreatedAt      int64 // unix millis
}

// OrderResult is the outcome of an order operation. It is the unit cached by
// the idempotency layer, so two requests with the same key observe identical
// values.
type OrderResult struct {
	Status  OrderStatus `msgpack:"status" json:"status"`
	OrderID string      `msgpack:"orderId" json:"orderId"`
	EchoKey string      `msgpack:"echoKey" json:"echoKey"`
	Reason  string      `msgpack:"reason" json:"reason"`
}

// Account is a trading account snapshot from the account collaborator.
type Account struct {
	AccountID    string
	OwnerUserID  string
	BaseCurrency string
	Balance      float64
}

// Position is a per-symbol position for risk checks.
type Position struct {
	Symbol   string
	Qty      float64
	AvgPrice float64
}

// Candle is an OHLCV sample produced by the history repository.
type Candle struct {
	Symbol   string   `msgpack:"symbol" json:"symbol"`
	OpenTime int64    `msgpack:"openTime" json:"openTime"`
	Open     float64  `msgpack:"open" json:"open"`
	High     float64  `msgpack:"high" json:"high"`
	Low      float64  `msgpack:"low" json:"low"`
	Close    float64  `msgpack:"close" json:"close"`
	Volume   uint64   `msgpack:"volume" json:"volume"`
	Interval Interval `msgpack:"interval" json:"interval"`
}

// HistoryQuery selects a candle range. Timestamps are unix seconds.
type HistoryQuery struct {
	FromTs   int64
	ToTs     int64
	Interval Interval
	Limit    int
}

// OrderRecord is one append-only entry in the order log.
type OrderRecord struct {
	IdempotencyKey string
	Status         string
	OrderID        string
	ResultJSON     string
	LoggedAt       time.Time
}

// Metrics is a point-in-time snapshot derived from the process counters.
type Metrics struct {
	Ts         int64   `msgpack:"ts" json:"ts"`
	LatencyMs  float64 `msgpack:"latencyMs" json:"latencyMs"`
	Throughput float64 `msgpack:"throughput" json:"throughput"`
	ErrorRate  float64 `msgpack:"errorRate" json:"errorRate"`
	ConnCount  int32   `msgpack:"connCount" json:"connCount"`
}

// AlertRule is a user-registered threshold over one metric key.
type AlertRule struct {
	RuleID    string  `msgpack:"ruleId" json:"ruleId"`
	MetricKey string  `msgpack:"metricKey" json:"metricKey"`
	Operator  string  `msgpack:"operator" json:"operator"`
	Threshold float64 `msgpack:"threshold" json:"threshold"`
	Enabled   bool    `msgpack:"enabled" json:"enabled"`
}

// AlertEvent is produced each evaluation cycle a rule fires.
type AlertEvent struct {
	EventID string  `msgpack:"eventId" json:"eventId"`
	RuleID  string  `msgpack:"ruleId" json:"ruleId"`
	Ts      int64   `msgpack:"ts" json:"ts"`
	Value   float64 `msgpack:"value" json:"value"`
	Message string  `msgpack:"message" json:"message"`
}
