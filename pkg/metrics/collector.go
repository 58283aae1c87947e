// Package metrics exposes Prometheus collectors for sessions, connections and the
// context pool. All methods are safe on a nil *Collector so components can run
// without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Close reasons recorded on sessions_closed_total.
const (
	ReasonExplicit = "explicit"
	ReasonExpired  = "expired"
	ReasonSweep    = "sweep"
	ReasonShutdown = "shutdown"
)

// Collector holds the browsermux metrics.
type Collector struct {
	sessionsActive    prometheus.Gauge
	sessionsCreated   prometheus.Counter
	sessionsClosed    *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	connectsTotal     *prometheus.CounterVec
	poolContexts      *prometheus.GaugeVec
}

// NewCollector registers the collectors on reg under namespace.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live automation sessions",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of sessions torn down, by reason",
		}, []string{"reason"}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of attached remote debugging connections",
		}),
		connectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connect attempts, by result",
		}, []string{"result"}),
		poolContexts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_contexts",
			Help:      "Pooled browser contexts, by state",
		}, []string{"state"}),
	}
}

// SessionCreated counts a new session and updates the active gauge.
func (c *Collector) SessionCreated(active int) {
	if c == nil {
		return
	}
	c.sessionsCreated.Inc()
	c.sessionsActive.Set(float64(active))
}

// SessionClosed counts a torn down session and updates the active gauge.
func (c *Collector) SessionClosed(reason string, active int) {
	if c == nil {
		return
	}
	c.sessionsClosed.WithLabelValues(reason).Inc()
	c.sessionsActive.Set(float64(active))
}

// ConnectAttempt records the outcome of a connect call.
func (c *Collector) ConnectAttempt(ok bool) {
	if c == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	c.connectsTotal.WithLabelValues(result).Inc()
}

// SetActiveConnections updates the connection gauge.
func (c *Collector) SetActiveConnections(n int) {
	if c == nil {
		return
	}
	c.connectionsActive.Set(float64(n))
}

// SetPoolContexts updates the idle and in-use pool gauges.
func (c *Collector) SetPoolContexts(idle, inUse int) {
	if c == nil {
		return
	}
	c.poolContexts.WithLabelValues("idle").Set(float64(idle))
	c.poolContexts.WithLabelValues("in_use").Set(float64(inUse))
}
