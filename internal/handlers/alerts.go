package handlers

import (
	"context"

	"github.com/bulltrade/gateway/internal/alerts"
	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/domain"
	"github.com/bulltrade/gateway/internal/protocol"
)

// RoleAdmin is required to change the alert rule set.
const RoleAdmin = "admin"

// AlertsListResponse carries the full rule set with each rule's live
// evaluation.
type AlertsListResponse struct {
	Rules []alerts.RuleStatus `msgpack:"rules" json:"rules"`
	Count int                 `msgpack:"count" json:"count"`
}

// AlertsSubscribeResponse confirms membership in the alerts room.
type AlertsSubscribeResponse struct {
	Room string `msgpack:"room" json:"room"`
}

// AlertsRuleResponse acknowledges a rule mutation.
type AlertsRuleResponse struct {
	RuleID string `msgpack:"ruleId" json:"ruleId"`
	OK     bool   `msgpack:"ok" json:"ok"`
}

// AlertsRegisterRequest is the body of alerts.register. Enabled is a pointer
// so an absent field defaults to on without clobbering an explicit false.
type AlertsRegisterRequest struct {
	RuleID    string  `msgpack:"ruleId" json:"ruleId"`
	MetricKey string  `msgpack:"metricKey" json:"metricKey"`
	Operator  string  `msgpack:"operator" json:"operator"`
	Threshold float64 `msgpack:"threshold" json:"threshold"`
	Enabled   *bool   `msgpack:"enabled" json:"enabled"`
}

// AlertsDisableRequest is the body of alerts.disable.
type AlertsDisableRequest struct {
	RuleID string `msgpack:"ruleId" json:"ruleId"`
}

// HandleAlertsSubscribe joins the session to the system alerts room.
func HandleAlertsSubscribe(d Deps) dispatch.HandlerFunc {
	return func(_ context.Context, req *dispatch.Request) dispatch.Response {
		d.Rooms.Join(alerts.Room, req.Session)
		body, _ := protocol.EncodeBody(AlertsSubscribeResponse{Room: alerts.Room})
		return dispatch.Reply(body)
	}
}

// HandleAlertsList returns every rule, enabled or not, with its current
// value and status.
func HandleAlertsList(d Deps) dispatch.HandlerFunc {
	return func(_ context.Context, _ *dispatch.Request) dispatch.Response {
		statuses := d.Alerts.Status()
		d.Alerts.EvaluateAndBroadcast()
		body, _ := protocol.EncodeBody(AlertsListResponse{Rules: statuses, Count: len(statuses)})
		return dispatch.Reply(body)
	}
}

// HandleAlertsRegister adds or replaces a rule. Admin only.
func HandleAlertsRegister(d Deps) dispatch.HandlerFunc {
	return func(_ context.Context, req *dispatch.Request) dispatch.Response {
		if !req.Session.HasRole(RoleAdmin) {
			return dispatch.Fail(protocol.CodeAuthFailed, "admin role required")
		}

		var in AlertsRegisterRequest
		if err := protocol.DecodeBody(req.Body, &in); err != nil {
			return dispatch.Fail(protocol.CodeInvalidParams, "malformed alerts.register body")
		}
		rule := domain.AlertRule{
			RuleID:    in.RuleID,
			MetricKey: in.MetricKey,
			Operator:  in.Operator,
			Threshold: in.Threshold,
			Enabled:   in.Enabled == nil || *in.Enabled,
		}
		if err := d.Alerts.Register(rule); err != nil {
			return dispatch.Fail(protocol.CodeInvalidParams, err.Error())
		}

		body, _ := protocol.EncodeBody(AlertsRuleResponse{RuleID: rule.RuleID, OK: true})
		return dispatch.Reply(body)
	}
}

// HandleAlertsDisable turns a rule off. Admin only.
func HandleAlertsDisable(d Deps) dispatch.HandlerFunc {
	return func(_ context.Context, req *dispatch.Request) dispatch.Response {
		if !req.Session.HasRole(RoleAdmin) {
			return dispatch.Fail(protocol.CodeAuthFailed, "admin role required")
		}

		var in AlertsDisableRequest
		if err := protocol.DecodeBody(req.Body, &in); err != nil || in.RuleID == "" {
			return dispatch.Fail(protocol.CodeInvalidParams, "ruleId is required")
		}
		if err := d.Alerts.Disable(in.RuleID); err != nil {
			return dispatch.Fail(protocol.CodeNoData, err.Error())
		}

		body, _ := protocol.EncodeBody(AlertsRuleResponse{RuleID: in.RuleID, OK: true})
		return dispatch.Reply(body)
	}
}
