package handlers

import (
	"context"

	"github.com/bulltrade/gateway/internal/collab"
	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/domain"
	"github.com/bulltrade/gateway/internal/protocol"
)

// HistoryQueryRequest is the body of history.query.
type HistoryQueryRequest struct {
	Symbol   string `msgpack:"symbol" json:"symbol"`
	Interval string `msgpack:"interval" json:"interval"`
	FromTs   int64  `msgpack:"fromTs" json:"fromTs"`
	ToTs     int64  `msgpack:"toTs" json:"toTs"`
	Limit    int    `msgpack:"limit" json:"limit"`
}

// HistoryLatestRequest is the body of history.latest. Empty symbols means
// the whole universe.
type HistoryLatestRequest struct {
	Symbols []string `msgpack:"symbols" json:"symbols"`
}

// LatestClose is one symbol's most recent closing price.
type LatestClose struct {
	Symbol string  `msgpack:"symbol" json:"symbol"`
	Close  float64 `msgpack:"close" json:"close"`
	Ts     int64   `msgpack:"ts" json:"ts"`
}

// HistoryLatestResponse maps each known symbol to its latest close.
type HistoryLatestResponse struct {
	Closes []LatestClose `msgpack:"closes" json:"closes"`
}

// HistoryResponse carries candles oldest first.
type HistoryResponse struct {
	Candles []domain.Candle `msgpack:"candles" json:"candles"`
	Count   int             `msgpack:"count" json:"count"`
}

// HandleHistoryQuery serves a candle range for one symbol.
func HandleHistoryQuery(d Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, req *dispatch.Request) dispatch.Response {
		var in HistoryQueryRequest
		if err := protocol.DecodeBody(req.Body, &in); err != nil {
			return dispatch.Fail(protocol.CodeInvalidParams, "malformed history.query body")
		}
		if in.Symbol == "" {
			return dispatch.Fail(protocol.CodeInvalidParams, "symbol is required")
		}
		interval := domain.ParseInterval(in.Interval)

		candles, err := d.History.Fetch(ctx, in.Symbol, domain.HistoryQuery{
			FromTs:   in.FromTs,
			ToTs:     in.ToTs,
			Interval: interval,
			Limit:    in.Limit,
		})
		if err != nil {
			if collab.IsUnavailable(err) {
				return dispatch.Fail(protocol.CodeServiceUnavailable, "history store unavailable")
			}
			return dispatch.Fail(protocol.CodeQueryFailed, err.Error())
		}
		if len(candles) == 0 {
			return dispatch.Fail(protocol.CodeNoData, "no candles in range")
		}

		body, _ := protocol.EncodeBody(HistoryResponse{Candles: candles, Count: len(candles)})
		return dispatch.Reply(body)
	}
}

// HandleHistoryLatest serves the latest close per known symbol.
func HandleHistoryLatest(d Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, req *dispatch.Request) dispatch.Response {
		var in HistoryLatestRequest
		if len(req.Body) > 0 {
			if err := protocol.DecodeBody(req.Body, &in); err != nil {
				return dispatch.Fail(protocol.CodeInvalidParams, "malformed history.latest body")
			}
		}

		candles, err := d.History.Latest(ctx, in.Symbols, 1)
		if err != nil {
			if collab.IsUnavailable(err) {
				return dispatch.Fail(protocol.CodeServiceUnavailable, "history store unavailable")
			}
			return dispatch.Fail(protocol.CodeQueryFailed, err.Error())
		}

		closes := make([]LatestClose, 0, len(candles))
		for _, c := range candles {
			closes = append(closes, LatestClose{Symbol: c.Symbol, Close: c.Close, Ts: c.OpenTime})
		}
		body, _ := protocol.EncodeBody(HistoryLatestResponse{Closes: closes})
		return dispatch.Reply(body)
	}
}
