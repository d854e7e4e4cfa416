// Package handlers contains the method handlers the dispatcher routes to.
// Each handler is a closure constructor taking the services it needs, in the
// same shape for every method family.
package handlers

import (
	"github.com/bulltrade/gateway/internal/alerts"
	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/domain"
	"github.com/bulltrade/gateway/internal/idem"
	"github.com/bulltrade/gateway/internal/market"
	"github.com/bulltrade/gateway/internal/metrics"
	"github.com/bulltrade/gateway/internal/risk"
	"github.com/bulltrade/gateway/internal/room"
	"github.com/bulltrade/gateway/internal/session"
)

// Method names served by the gateway.
const (
	MethodHello  = "hello"
	MethodLogout = "logout"

	MethodOrdersPlace   = "orders.place"
	MethodOrdersCancel  = "orders.cancel"
	MethodOrdersStatus  = "orders.status"
	MethodOrdersHistory = "orders.history"

	MethodMarketSubscribe   = "market.subscribe"
	MethodMarketUnsubscribe = "market.unsubscribe"
	MethodMarketList        = "market.list"

	MethodHistoryQuery  = "history.query"
	MethodHistoryLatest = "history.latest"

	MethodMetricsGet = "metrics.get"

	MethodAlertsSubscribe = "alerts.subscribe"
	MethodAlertsList      = "alerts.list"
	MethodAlertsRegister  = "alerts.register"
	MethodAlertsDisable   = "alerts.disable"
)

// OpenMethods pass the authentication gate without a bound principal.
func OpenMethods() map[string]bool {
	return map[string]bool{
		MethodHello:  true,
		MethodLogout: true,
	}
}

// Deps carries the services the handlers close over.
type Deps struct {
	Sessions  *session.Registry
	Rooms     *room.Registry
	Simulator *market.Simulator
	History   domain.HistoryRepository
	Orders    domain.OrderLog
	Idem      idem.Cache
	Risk      domain.RiskValidator
	Accounts  *risk.MemoryAccounts
	Collector *metrics.Collector
	Alerts    *alerts.Engine
}

// Register wires every method handler into the router.
func Register(r *dispatch.Router, d Deps) {
	r.Handle(MethodHello, HandleHello(d))
	r.Handle(MethodLogout, HandleLogout(d))

	r.Handle(MethodOrdersPlace, HandlePlaceOrder(d))
	r.Handle(MethodOrdersCancel, HandleCancelOrder(d))
	r.Handle(MethodOrdersStatus, HandleOrderStatus(d))
	r.Handle(MethodOrdersHistory, HandleOrderHistory(d))

	r.Handle(MethodMarketSubscribe, HandleMarketSubscribe(d))
	r.Handle(MethodMarketUnsubscribe, HandleMarketUnsubscribe(d))
	r.Handle(MethodMarketList, HandleMarketList(d))

	r.Handle(MethodHistoryQuery, HandleHistoryQuery(d))
	r.Handle(MethodHistoryLatest, HandleHistoryLatest(d))

	r.Handle(MethodMetricsGet, HandleMetricsGet(d))

	r.Handle(MethodAlertsSubscribe, HandleAlertsSubscribe(d))
	r.Handle(MethodAlertsList, HandleAlertsList(d))
	r.Handle(MethodAlertsRegister, HandleAlertsRegister(d))
	r.Handle(MethodAlertsDisable, HandleAlertsDisable(d))
}
