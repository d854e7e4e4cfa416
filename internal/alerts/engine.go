// Package alerts evaluates threshold rules against the live metric snapshot
// and pushes fired alerts into the system alerts room.
package alerts

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/bulltrade/gateway/internal/domain"
	"github.com/bulltrade/gateway/internal/metrics"
	"github.com/bulltrade/gateway/internal/protocol"
	"github.com/bulltrade/gateway/internal/room"
	"github.com/google/uuid"
)

var logger = log.New(log.Writer(), "[ALERTS] ", log.LstdFlags)

// Room is the fan-out room for fired alerts.
const Room = "alerts:system"

// MethodEvent is the frame method for alert pushes.
const MethodEvent = "alerts.event"

// warmup suppresses rate-style rules until counters have meaning.
const warmup = 60 * time.Second

// Metric keys rules may reference.
const (
	KeyLatencyMs  = "latencyMs"
	KeyThroughput = "throughput"
	KeyErrorRate  = "errorRate"
	KeyConnCount  = "connCount"
)

// warmupRules are skipped while the process is younger than warmup; their
// metrics are ratios over uptime and fire spuriously at start.
var warmupRules = map[string]bool{"low_throughput": true}

// Engine holds the rule set and evaluates it on demand.
type Engine struct {
	collector *metrics.Collector
	rooms     *room.Registry

	mu    sync.Mutex
	rules map[string]*domain.AlertRule
}

// NewEngine creates an engine preloaded with the built-in rules.
func NewEngine(collector *metrics.Collector, rooms *room.Registry) *Engine {
	e := &Engine{
		collector: collector,
		rooms:     rooms,
		rules:     make(map[string]*domain.AlertRule),
	}
	for _, r := range []domain.AlertRule{
		{RuleID: "high_latency", MetricKey: KeyLatencyMs, Operator: ">", Threshold: 100, Enabled: true},
		{RuleID: "error_rate", MetricKey: KeyErrorRate, Operator: ">", Threshold: 0.01, Enabled: true},
		{RuleID: "connection_count", MetricKey: KeyConnCount, Operator: ">", Threshold: 1000, Enabled: true},
		{RuleID: "high_throughput", MetricKey: KeyThroughput, Operator: ">", Threshold: 2.0, Enabled: true},
		{RuleID: "low_throughput", MetricKey: KeyThroughput, Operator: "<", Threshold: 10, Enabled: true},
	} {
		rule := r
		e.rules[rule.RuleID] = &rule
	}
	return e
}

// operators are the comparisons a rule may use.
var operators = map[string]bool{">": true, ">=": true, "<": true, "<=": true, "==": true}

// Register adds or replaces a rule. The operator must be one of >, >=, <, <=
// or == and the metric key must be known.
func (e *Engine) Register(rule domain.AlertRule) error {
	if rule.RuleID == "" {
		return fmt.Errorf("alerts: empty rule id")
	}
	if !operators[rule.Operator] {
		return fmt.Errorf("alerts: unsupported operator %q", rule.Operator)
	}
	switch rule.MetricKey {
	case KeyLatencyMs, KeyThroughput, KeyErrorRate, KeyConnCount:
	default:
		return fmt.Errorf("alerts: unknown metric %q", rule.MetricKey)
	}

	e.mu.Lock()
	e.rules[rule.RuleID] = &rule
	e.mu.Unlock()
	logger.Printf("registered rule %s: %s %s %g", rule.RuleID, rule.MetricKey, rule.Operator, rule.Threshold)
	return nil
}

// Disable turns a rule off without removing it.
func (e *Engine) Disable(ruleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[ruleID]
	if !ok {
		return fmt.Errorf("alerts: unknown rule %q", ruleID)
	}
	rule.Enabled = false
	return nil
}

// List returns every rule, sorted by id.
func (e *Engine) List() []domain.AlertRule {
	e.mu.Lock()
	out := make([]domain.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// RuleStatus pairs a rule with its live evaluation for alerts.list.
type RuleStatus struct {
	Rule    domain.AlertRule `msgpack:"rule" json:"rule"`
	Current float64          `msgpack:"current" json:"current"`
	Status  string           `msgpack:"status" json:"status"`
	Message string           `msgpack:"message" json:"message"`
}

// Status evaluates every rule without broadcasting. Breached warmup rules
// report "warning", other breached rules "alert", the rest "ok".
func (e *Engine) Status() []RuleStatus {
	snap := e.collector.Snapshot()
	young := e.collector.Uptime() < warmup

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RuleStatus, 0, len(e.rules))
	for _, rule := range e.rules {
		value := metricValue(snap, rule.MetricKey)
		st := RuleStatus{Rule: *rule, Current: value, Status: "ok"}

		hit := rule.Enabled && breached(rule.Operator, value, rule.Threshold)
		switch {
		case hit && warmupRules[rule.RuleID]:
			if !young {
				st.Status = "warning"
				st.Message = fmt.Sprintf("%s %s %g (observed %g)", rule.MetricKey, rule.Operator, rule.Threshold, value)
			}
		case hit:
			st.Status = "alert"
			st.Message = fmt.Sprintf("%s %s %g (observed %g)", rule.MetricKey, rule.Operator, rule.Threshold, value)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule.RuleID < out[j].Rule.RuleID })
	return out
}

// Evaluate checks every enabled rule against the current snapshot and
// returns the fired events.
func (e *Engine) Evaluate() []domain.AlertEvent {
	snap := e.collector.Snapshot()
	young := e.collector.Uptime() < warmup

	e.mu.Lock()
	defer e.mu.Unlock()

	var fired []domain.AlertEvent
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if young && warmupRules[rule.RuleID] {
			continue
		}
		value := metricValue(snap, rule.MetricKey)
		if !breached(rule.Operator, value, rule.Threshold) {
			continue
		}
		fired = append(fired, domain.AlertEvent{
			EventID: uuid.NewString(),
			RuleID:  rule.RuleID,
			Ts:      snap.Ts,
			Value:   value,
			Message: fmt.Sprintf("%s: %s %s %g (observed %g)", rule.RuleID, rule.MetricKey, rule.Operator, rule.Threshold, value),
		})
	}
	return fired
}

// EvaluateAndBroadcast evaluates the rules and pushes fired events into the
// alerts room. Returns the number of events fired.
func (e *Engine) EvaluateAndBroadcast() int {
	fired := e.Evaluate()
	for _, ev := range fired {
		body, err := protocol.EncodeBody(ev)
		if err != nil {
			logger.Printf("encode event %s: %v", ev.RuleID, err)
			continue
		}
		e.rooms.Broadcast(Room, MethodEvent, body)
		logger.Printf("fired %s value=%g", ev.RuleID, ev.Value)
	}
	return len(fired)
}

func breached(op string, value, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	}
	return false
}

func metricValue(m domain.Metrics, key string) float64 {
	switch key {
	case KeyLatencyMs:
		return m.LatencyMs
	case KeyThroughput:
		return m.Throughput
	case KeyErrorRate:
		return m.ErrorRate
	case KeyConnCount:
		return float64(m.ConnCount)
	default:
		return 0
	}
}
