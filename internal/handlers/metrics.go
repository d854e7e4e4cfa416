package handlers

import (
	"context"

	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/protocol"
)

// MetricsResponse is the flat snapshot served by metrics.get.
type MetricsResponse struct {
	Ts             int64   `msgpack:"ts" json:"ts"`
	UptimeMs       int64   `msgpack:"uptimeMs" json:"uptimeMs"`
	LatencyMs      float64 `msgpack:"latencyMs" json:"latencyMs"`
	Throughput     float64 `msgpack:"throughput" json:"throughput"`
	ErrorRate      float64 `msgpack:"errorRate" json:"errorRate"`
	TotalOrders    int64   `msgpack:"totalOrders" json:"totalOrders"`
	TotalCancels   int64   `msgpack:"totalCancels" json:"totalCancels"`
	TotalErrors    int64   `msgpack:"totalErrors" json:"totalErrors"`
	ConnCount      int32   `msgpack:"connCount" json:"connCount"`
	ActiveSessions int     `msgpack:"activeSessions" json:"activeSessions"`
}

// HandleMetricsGet returns the current metric snapshot. Counters are real;
// nothing here is synthesized.
func HandleMetricsGet(d Deps) dispatch.HandlerFunc {
	return func(_ context.Context, _ *dispatch.Request) dispatch.Response {
		snap := d.Collector.Snapshot()
		placed, cancelled, errs, conns := d.Collector.Counters()

		body, err := protocol.EncodeBody(MetricsResponse{
			Ts:             snap.Ts,
			UptimeMs:       d.Collector.Uptime().Milliseconds(),
			LatencyMs:      snap.LatencyMs,
			Throughput:     snap.Throughput,
			ErrorRate:      snap.ErrorRate,
			TotalOrders:    placed,
			TotalCancels:   cancelled,
			TotalErrors:    errs,
			ConnCount:      conns,
			ActiveSessions: d.Sessions.Len(),
		})
		if err != nil {
			return dispatch.Fail(protocol.CodeInternalError, "encode metrics snapshot")
		}
		return dispatch.Reply(body)
	}
}
