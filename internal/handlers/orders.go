package handlers

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/bulltrade/gateway/internal/collab"
	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/domain"
	"github.com/bulltrade/gateway/internal/protocol"
	"github.com/google/uuid"
)

// RoleTrader is required for order mutations.
const RoleTrader = "trader"

// Session fields recording the most recent order activity.
const (
	FieldLastOrderID     = "lastOrderId"
	FieldLastOrderStatus = "lastOrderStatus"
)

// PlaceOrderRequest is the body of orders.place.
type PlaceOrderRequest struct {
	IdempotencyKey string  `msgpack:"idempotencyKey" json:"idempotencyKey"`
	Symbol         string  `msgpack:"symbol" json:"symbol"`
	Type           string  `msgpack:"type" json:"type"`
	Side           string  `msgpack:"side" json:"side"`
	Qty            float64 `msgpack:"qty" json:"qty"`
	Price          float64 `msgpack:"price" json:"price"`
}

// PlaceOrderResponse is the result plus an echo of what was booked.
type PlaceOrderResponse struct {
	Status  string `msgpack:"status" json:"status"`
	OrderID string `msgpack:"orderId" json:"orderId"`
	EchoKey string `msgpack:"echoKey" json:"echoKey"`
	Reason  string `msgpack:"reason,omitempty" json:"reason,omitempty"`

	Symbol         string  `msgpack:"symbol" json:"symbol"`
	Side           string  `msgpack:"side" json:"side"`
	Type           string  `msgpack:"type" json:"type"`
	Price          float64 `msgpack:"price" json:"price"`
	Quantity       float64 `msgpack:"quantity" json:"quantity"`
	IdempotencyKey string  `msgpack:"idempotencyKey" json:"idempotencyKey"`
	SessionID      string  `msgpack:"sessionId" json:"sessionId"`
	QoS            int     `msgpack:"qos" json:"qos"`
}

// CancelOrderRequest is the body of orders.cancel.
type CancelOrderRequest struct {
	OrderID string `msgpack:"orderId" json:"orderId"`
}

// CancelOrderResponse confirms the cancel booking.
type CancelOrderResponse struct {
	Status   string `msgpack:"status" json:"status"`
	OrderID  string `msgpack:"orderId" json:"orderId"`
	EchoKey  string `msgpack:"echoKey" json:"echoKey"`
	Original string `msgpack:"original,omitempty" json:"original,omitempty"`
}

// OrderStatusRequest is the body of orders.status. OrderID is optional;
// when empty the session's last order is reported.
type OrderStatusRequest struct {
	OrderID string `msgpack:"orderId" json:"orderId"`
}

// OrderStatusResponse reports one order's last known status.
type OrderStatusResponse struct {
	OrderID string `msgpack:"orderId" json:"orderId"`
	Status  string `msgpack:"status" json:"status"`
	Result  string `msgpack:"result,omitempty" json:"result,omitempty"`
}

// OrderHistoryRequest is the body of orders.history. Time bounds are RFC3339
// strings; empty means unbounded.
type OrderHistoryRequest struct {
	FromTime string `msgpack:"fromTime" json:"fromTime"`
	ToTime   string `msgpack:"toTime" json:"toTime"`
	Limit    int    `msgpack:"limit" json:"limit"`
}

// OrderHistoryResponse lists the newest record per order in the window.
type OrderHistoryResponse struct {
	Orders []OrderRecordView `msgpack:"orders" json:"orders"`
	Count  int               `msgpack:"count" json:"count"`
}

// OrderRecordView is the wire shape of one audit record.
type OrderRecordView struct {
	OrderID  string `msgpack:"orderId" json:"orderId"`
	Status   string `msgpack:"status" json:"status"`
	Result   string `msgpack:"result" json:"result"`
	LoggedAt int64  `msgpack:"loggedAt" json:"loggedAt"`
}

// HandlePlaceOrder validates, risk-checks and executes an order exactly once
// per idempotency key. A replayed key returns the byte-identical first
// result without re-running anything.
func HandlePlaceOrder(d Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, req *dispatch.Request) dispatch.Response {
		if !req.Session.HasRole(RoleTrader) {
			return dispatch.Fail(protocol.CodeAuthFailed, "trader role required")
		}

		var in PlaceOrderRequest
		if err := protocol.DecodeBody(req.Body, &in); err != nil {
			return dispatch.Fail(protocol.CodeInvalidParams, "malformed orders.place body")
		}
		if reason, ok := validatePlace(d, &in); !ok {
			return dispatch.Fail(protocol.CodeInvalidParams, reason)
		}

		payload, _, err := d.Idem.Do(ctx, in.IdempotencyKey, func() ([]byte, error) {
			result := executeOrder(ctx, d, req, &in)
			return protocol.EncodeBody(result)
		})
		if err != nil {
			return dispatch.Fail(protocol.CodeInternalError, "order execution failed")
		}
		d.Alerts.EvaluateAndBroadcast()
		return dispatch.Reply(payload)
	}
}

// validatePlace rejects structurally bad requests before they reach the
// idempotency cache, so malformed retries never occupy a key.
func validatePlace(d Deps, in *PlaceOrderRequest) (string, bool) {
	if in.IdempotencyKey == "" {
		return "idempotencyKey is required", false
	}
	if !d.Simulator.Has(in.Symbol) {
		return "unknown symbol: " + in.Symbol, false
	}
	if in.Side != string(domain.SideBuy) && in.Side != string(domain.SideSell) {
		return "side must be BUY or SELL", false
	}
	if in.Type != string(domain.OrderTypeLimit) && in.Type != string(domain.OrderTypeMarket) {
		return "type must be LIMIT or MARKET", false
	}
	if in.Qty <= 0 {
		return "qty must be positive", false
	}
	if in.Type == string(domain.OrderTypeLimit) && in.Price <= 0 {
		return "price is required for LIMIT orders", false
	}
	return "", true
}

// executeOrder runs the risk gate and books the order. Market orders fill
// immediately at the simulator price; limit orders are acknowledged.
func executeOrder(ctx context.Context, d Deps, req *dispatch.Request, in *PlaceOrderRequest) PlaceOrderResponse {
	order := domain.Order{
		OrderID:        uuid.NewString(),
		IdempotencyKey: in.IdempotencyKey,
		Symbol:         in.Symbol,
		Type:           domain.OrderType(in.Type),
		Side:           domain.Side(in.Side),
		Qty:            in.Qty,
		Price:          in.Price,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if order.Type == domain.OrderTypeMarket {
		order.Price = d.Simulator.Price(order.Symbol)
	}

	status := domain.OrderStatusAck
	reason := ""

	account, err := d.Accounts.AccountFor(ctx, req.Session.UserID())
	if err != nil {
		status, reason = domain.OrderStatusRejected, "account unavailable"
	} else {
		positions, _ := d.Accounts.PositionsFor(ctx, account)
		if ok, why := d.Risk.Validate(account, positions, order); !ok {
			status, reason = domain.OrderStatusRejected, why
		} else if order.Type == domain.OrderTypeMarket {
			d.Accounts.ApplyFill(account, order)
			status = domain.OrderStatusFilled
		}
	}
	d.Collector.RecordOrderPlaced()

	resp := PlaceOrderResponse{
		Status:         string(status),
		OrderID:        order.OrderID,
		EchoKey:        in.IdempotencyKey,
		Reason:         reason,
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		Type:           string(order.Type),
		Price:          order.Price,
		Quantity:       order.Qty,
		IdempotencyKey: in.IdempotencyKey,
		SessionID:      req.Session.ID,
		QoS:            1,
	}

	req.Session.SetField(FieldLastOrderID, order.OrderID)
	req.Session.SetField(FieldLastOrderStatus, string(status))

	resultJSON, _ := json.Marshal(resp)
	if err := d.Orders.Append(ctx, in.IdempotencyKey, string(status), order.OrderID, string(resultJSON)); err != nil {
		d.Collector.RecordError()
	}
	return resp
}

// HandleCancelOrder books a cancel against an order's audit trail. The
// original record, when the log still has it, is echoed back.
func HandleCancelOrder(d Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, req *dispatch.Request) dispatch.Response {
		if !req.Session.HasRole(RoleTrader) {
			return dispatch.Fail(protocol.CodeAuthFailed, "trader role required")
		}

		var in CancelOrderRequest
		if err := protocol.DecodeBody(req.Body, &in); err != nil || in.OrderID == "" {
			return dispatch.Fail(protocol.CodeInvalidParams, "orderId is required")
		}

		original := ""
		if rec, err := d.Orders.GetByOrderID(ctx, in.OrderID); err == nil && rec != nil {
			original = rec.ResultJSON
		}

		resp := CancelOrderResponse{
			Status:   string(domain.OrderStatusCancelled),
			OrderID:  in.OrderID,
			EchoKey:  "CANCEL_" + in.OrderID,
			Original: original,
		}
		resultJSON, _ := json.Marshal(resp)
		if err := d.Orders.Append(ctx, resp.EchoKey, resp.Status, in.OrderID, string(resultJSON)); err != nil {
			if collab.IsUnavailable(err) {
				return dispatch.Fail(protocol.CodeServiceUnavailable, "order log unavailable")
			}
			return dispatch.Fail(protocol.CodeQueryFailed, "cancel not recorded")
		}
		d.Collector.RecordOrderCancelled()
		d.Alerts.EvaluateAndBroadcast()

		req.Session.SetField(FieldLastOrderID, in.OrderID)
		req.Session.SetField(FieldLastOrderStatus, resp.Status)

		body, _ := protocol.EncodeBody(resp)
		return dispatch.Reply(body)
	}
}

// HandleOrderStatus reports an order's last known status. Without an orderId
// it falls back to the session's most recent order, "none" when the session
// has not traded.
func HandleOrderStatus(d Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, req *dispatch.Request) dispatch.Response {
		var in OrderStatusRequest
		if len(req.Body) > 0 {
			if err := protocol.DecodeBody(req.Body, &in); err != nil {
				return dispatch.Fail(protocol.CodeInvalidParams, "malformed orders.status body")
			}
		}

		if in.OrderID == "" {
			out := OrderStatusResponse{OrderID: "none", Status: "none"}
			if v, ok := req.Session.Field(FieldLastOrderID); ok {
				out.OrderID, _ = v.(string)
			}
			if v, ok := req.Session.Field(FieldLastOrderStatus); ok {
				out.Status, _ = v.(string)
			}
			body, _ := protocol.EncodeBody(out)
			return dispatch.Reply(body)
		}

		rec, err := d.Orders.GetByOrderID(ctx, in.OrderID)
		if err != nil {
			if collab.IsUnavailable(err) {
				return dispatch.Fail(protocol.CodeServiceUnavailable, "order log unavailable")
			}
			return dispatch.Fail(protocol.CodeQueryFailed, "order lookup failed")
		}
		if rec == nil {
			return dispatch.Fail(protocol.CodeNoData, "no record for order "+in.OrderID)
		}

		body, _ := protocol.EncodeBody(OrderStatusResponse{
			OrderID: rec.OrderID,
			Status:  rec.Status,
			Result:  rec.ResultJSON,
		})
		return dispatch.Reply(body)
	}
}

// HandleOrderHistory returns the latest record per order within the window.
func HandleOrderHistory(d Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, req *dispatch.Request) dispatch.Response {
		var in OrderHistoryRequest
		if len(req.Body) > 0 {
			if err := protocol.DecodeBody(req.Body, &in); err != nil {
				return dispatch.Fail(protocol.CodeInvalidParams, "malformed orders.history body")
			}
		}
		if in.Limit <= 0 || in.Limit > 1000 {
			in.Limit = 1000
		}

		records, err := d.Orders.QueryLatestPerOrder(ctx, in.FromTime, in.ToTime, in.Limit)
		if err != nil {
			if collab.IsUnavailable(err) {
				return dispatch.Fail(protocol.CodeServiceUnavailable, "order log unavailable")
			}
			return dispatch.Fail(protocol.CodeQueryFailed, "order history query failed")
		}

		views := make([]OrderRecordView, 0, len(records))
		for _, rec := range records {
			views = append(views, OrderRecordView{
				OrderID:  rec.OrderID,
				Status:   rec.Status,
				Result:   rec.ResultJSON,
				LoggedAt: rec.LoggedAt.UnixMilli(),
			})
		}
		sort.Slice(views, func(i, j int) bool { return views[i].LoggedAt > views[j].LoggedAt })
		body, _ := protocol.EncodeBody(OrderHistoryResponse{Orders: views, Count: len(views)})
		return dispatch.Reply(body)
	}
}
