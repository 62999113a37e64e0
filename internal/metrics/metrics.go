// Package metrics exposes Prometheus collectors for presence and delivery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Push outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Collector groups the service collectors. All methods are safe on a nil
// receiver so components can run without metrics.
type Collector struct {
	registry    *prometheus.Registry
	onlineUsers prometheus.Gauge
	connections prometheus.Gauge
	pushes      *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	throttled   *prometheus.CounterVec
}

// New creates a Collector with its own registry, including the Go runtime
// and process collectors.
func New(labels prometheus.Labels) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "echoes_online_users",
			Help:        "Number of users with a registered connection.",
			ConstLabels: labels,
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "echoes_connections",
			Help:        "Number of tracked websocket connections, anonymous included.",
			ConstLabels: labels,
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "echoes_pushes_total",
			Help:        "Events pushed to connections, by event and outcome.",
			ConstLabels: labels,
		}, []string{"event", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "echoes_deliveries_total",
			Help:        "Message deliveries, by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "echoes_throttled_frames_total",
			Help:        "Inbound websocket frames discarded by the rate limiter, by event.",
			ConstLabels: labels,
		}, []string{"event"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.onlineUsers,
		c.connections,
		c.pushes,
		c.deliveries,
		c.throttled,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// SetOnline sets the number of users present in the table.
func (c *Collector) SetOnline(n int) {
	if c == nil {
		return
	}
	c.onlineUsers.Set(float64(n))
}

// SetConnections sets the number of tracked connections.
func (c *Collector) SetConnections(n int) {
	if c == nil {
		return
	}
	c.connections.Set(float64(n))
}

// Push records the outcome of one push.
func (c *Collector) Push(event string, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	c.pushes.WithLabelValues(event, outcome).Inc()
}

// Delivery counts one routed message by outcome.
func (c *Collector) Delivery(outcome string) {
	if c == nil {
		return
	}
	c.deliveries.WithLabelValues(outcome).Inc()
}

// Throttled counts one inbound frame dropped by the rate limiter. Callers
// pass a bounded set of event names.
func (c *Collector) Throttled(event string) {
	if c == nil {
		return
	}
	c.throttled.WithLabelValues(event).Inc()
}
