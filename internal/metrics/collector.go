// Package metrics keeps the gateway's process-wide counters and derives the
// snapshot served by metrics.get. Counters are plain atomics; a Prometheus
// mirror is exported for scraping.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bulltrade/gateway/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// baselineLatencyMs is reported before any request latency has been observed.
const baselineLatencyMs = 0.5

// Collector tracks orders, errors and connections for the whole process.
type Collector struct {
	ordersPlaced    atomic.Int64
	ordersCancelled atomic.Int64
	errors          atomic.Int64
	connections     atomic.Int32

	startTime time.Time

	// EWMA over observed request latencies, alpha 0.2.
	latMu     sync.Mutex
	latencyMs float64
	latSeen   bool

	promOrders   *prometheus.CounterVec
	promErrors   prometheus.Counter
	promConns    prometheus.Gauge
	promLatency  prometheus.Histogram
	promRegistry *prometheus.Registry
}

// NewCollector creates a collector with its own Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		startTime:    time.Now(),
		promRegistry: prometheus.NewRegistry(),
	}
	c.promOrders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_orders_total",
		Help: "Orders processed, by outcome.",
	}, []string{"op"})
	c.promErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Handler errors.",
	})
	c.promConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_connections",
		Help: "Currently bound transport connections.",
	})
	c.promLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Request latency from ingress to handler completion.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	c.promRegistry.MustRegister(c.promOrders, c.promErrors, c.promConns, c.promLatency)
	return c
}

// Registry exposes the Prometheus registry for the /metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry { return c.promRegistry }

// RecordOrderPlaced increments the placed-orders counter.
func (c *Collector) RecordOrderPlaced() {
	c.ordersPlaced.Add(1)
	c.promOrders.WithLabelValues("place").Inc()
}

// RecordOrderCancelled increments the cancelled-orders counter.
func (c *Collector) RecordOrderCancelled() {
	c.ordersCancelled.Add(1)
	c.promOrders.WithLabelValues("cancel").Inc()
}

// RecordError increments the error counter.
func (c *Collector) RecordError() {
	c.errors.Add(1)
	c.promErrors.Inc()
}

// RecordConnection tracks a transport bind.
func (c *Collector) RecordConnection() {
	c.connections.Add(1)
	c.promConns.Inc()
}

// RecordDisconnection tracks a transport unbind.
func (c *Collector) RecordDisconnection() {
	c.connections.Add(-1)
	c.promConns.Dec()
}

// RecordLatency folds one request latency into the EWMA.
func (c *Collector) RecordLatency(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	c.promLatency.Observe(d.Seconds())

	c.latMu.Lock()
	defer c.latMu.Unlock()
	if !c.latSeen {
		c.latencyMs = ms
		c.latSeen = true
		return
	}
	c.latencyMs = 0.8*c.latencyMs + 0.2*ms
}

// Counters returns the raw counter values.
func (c *Collector) Counters() (placed, cancelled, errs int64, conns int32) {
	return c.ordersPlaced.Load(), c.ordersCancelled.Load(), c.errors.Load(), c.connections.Load()
}

// Uptime returns time since collector construction.
func (c *Collector) Uptime() time.Duration { return time.Since(c.startTime) }

// Snapshot derives the metric values the alert engine and metrics.get consume.
// Throughput is orders per uptime second; error rate is errors over total
// order operations; latency falls back to a baseline until observed.
func (c *Collector) Snapshot() domain.Metrics {
	placed, cancelled, errs, conns := c.Counters()

	uptime := c.Uptime().Seconds()
	throughput := 0.0
	if uptime > 0 {
		throughput = float64(placed) / uptime
	}

	errorRate := 0.0
	if ops := placed + cancelled; ops > 0 {
		errorRate = float64(errs) / float64(ops)
	}

	c.latMu.Lock()
	latency := c.latencyMs
	seen := c.latSeen
	c.latMu.Unlock()
	if !seen || latency < baselineLatencyMs {
		latency = baselineLatencyMs
	}

	return domain.Metrics{
		Ts:         time.Now().UnixMilli(),
		LatencyMs:  latency,
		Throughput: throughput,
		ErrorRate:  errorRate,
		ConnCount:  conns,
	}
}
