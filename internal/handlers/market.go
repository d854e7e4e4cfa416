package handlers

import (
	"context"

	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/market"
	"github.com/bulltrade/gateway/internal/protocol"
)

// FieldSubscribedRooms holds the session's current market room set.
const FieldSubscribedRooms = "subscribedRooms"

// MarketSubscribeRequest is the body of market.subscribe and
// market.unsubscribe.
type MarketSubscribeRequest struct {
	Symbols []string `msgpack:"symbols" json:"symbols"`
}

// MarketSubscribeResponse reports the room set transition.
type MarketSubscribeResponse struct {
	Subscribed []string `msgpack:"subscribed" json:"subscribed"`
	Rooms      []string `msgpack:"rooms" json:"rooms"`
	LeftRooms  []string `msgpack:"leftRooms" json:"leftRooms"`
}

// SymbolInfo is one entry of market.list.
type SymbolInfo struct {
	Symbol string  `msgpack:"symbol" json:"symbol"`
	Price  float64 `msgpack:"price" json:"price"`
}

// MarketListResponse lists the session's rooms and the instrument universe.
type MarketListResponse struct {
	Rooms   []string     `msgpack:"rooms" json:"rooms"`
	Symbols []SymbolInfo `msgpack:"symbols" json:"symbols"`
}

// subscribedRooms reads the session's market room set.
func subscribedRooms(req *dispatch.Request) []string {
	v, ok := req.Session.Field(FieldSubscribedRooms)
	if !ok {
		return nil
	}
	rooms, _ := v.([]string)
	return rooms
}

// HandleMarketSubscribe replaces the session's market room set with the
// requested symbols: every current market room is left first, then the new
// set is joined. Unknown symbols reject the whole request; nothing is
// partially joined.
func HandleMarketSubscribe(d Deps) dispatch.HandlerFunc {
	return func(_ context.Context, req *dispatch.Request) dispatch.Response {
		var in MarketSubscribeRequest
		if err := protocol.DecodeBody(req.Body, &in); err != nil || len(in.Symbols) == 0 {
			return dispatch.Fail(protocol.CodeInvalidParams, "symbols is required")
		}
		for _, symbol := range in.Symbols {
			if !d.Simulator.Has(symbol) {
				return dispatch.Fail(protocol.CodeInvalidParams, "unknown symbol: "+symbol)
			}
		}

		left := subscribedRooms(req)
		for _, name := range left {
			d.Rooms.Leave(name, req.Session)
		}

		rooms := make([]string, 0, len(in.Symbols))
		for _, symbol := range in.Symbols {
			name := market.RoomPrefix + symbol
			d.Rooms.Join(name, req.Session)
			rooms = append(rooms, name)
		}
		req.Session.SetField(FieldSubscribedRooms, rooms)

		body, _ := protocol.EncodeBody(MarketSubscribeResponse{
			Subscribed: in.Symbols,
			Rooms:      rooms,
			LeftRooms:  left,
		})
		return dispatch.Reply(body)
	}
}

// HandleMarketUnsubscribe leaves the requested symbols' rooms. Symbols that
// were never subscribed are ignored.
func HandleMarketUnsubscribe(d Deps) dispatch.HandlerFunc {
	return func(_ context.Context, req *dispatch.Request) dispatch.Response {
		var in MarketSubscribeRequest
		if err := protocol.DecodeBody(req.Body, &in); err != nil || len(in.Symbols) == 0 {
			return dispatch.Fail(protocol.CodeInvalidParams, "symbols is required")
		}

		drop := make(map[string]bool, len(in.Symbols))
		var left []string
		for _, symbol := range in.Symbols {
			name := market.RoomPrefix + symbol
			drop[name] = true
			d.Rooms.Leave(name, req.Session)
			left = append(left, name)
		}

		var remaining []string
		for _, name := range subscribedRooms(req) {
			if !drop[name] {
				remaining = append(remaining, name)
			}
		}
		req.Session.SetField(FieldSubscribedRooms, remaining)

		body, _ := protocol.EncodeBody(MarketSubscribeResponse{
			Rooms:     remaining,
			LeftRooms: left,
		})
		return dispatch.Reply(body)
	}
}

// HandleMarketList returns the session's current rooms and the instrument
// universe with live prices.
func HandleMarketList(d Deps) dispatch.HandlerFunc {
	return func(_ context.Context, req *dispatch.Request) dispatch.Response {
		symbols := d.Simulator.Symbols()
		infos := make([]SymbolInfo, 0, len(symbols))
		for _, symbol := range symbols {
			infos = append(infos, SymbolInfo{Symbol: symbol, Price: d.Simulator.Price(symbol)})
		}
		body, _ := protocol.EncodeBody(MarketListResponse{
			Rooms:   subscribedRooms(req),
			Symbols: infos,
		})
		return dispatch.Reply(body)
	}
}
