// Package metrics exposes portal and watchdog observations to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/st-keller/portal-client/types"
)

// Metrics implements portal.Metrics and watchdog.Metrics.
//
// All methods are safe to call on a nil receiver, which is how metrics are
// disabled.
type Metrics struct {
	registry *prometheus.Registry

	portalCalls    *prometheus.CounterVec
	portalDuration *prometheus.HistogramVec
	relogins       *prometheus.CounterVec
	failures       prometheus.Gauge
}

// New creates and registers all campusnet metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		portalCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusnet_portal_calls_total",
				Help: "Portal calls by action and outcome kind",
			},
			[]string{"action", "kind"},
		),

		portalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campusnet_portal_call_duration_seconds",
				Help:    "Portal call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),

		relogins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusnet_watchdog_relogins_total",
				Help: "Relogins requested by the watchdog, by trigger",
			},
			[]string{"trigger"},
		),

		failures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campusnet_watchdog_consecutive_failures",
				Help: "Consecutive failed logins; automatic relogin pauses at 3",
			},
		),
	}

	m.registry.MustRegister(
		m.portalCalls,
		m.portalDuration,
		m.relogins,
		m.failures,
	)
	return m
}

// ObservePortalCall records one login or logout call.
func (m *Metrics) ObservePortalCall(action string, kind types.Kind, latency time.Duration) {
	if m == nil {
		return
	}
	m.portalCalls.WithLabelValues(action, kind.String()).Inc()
	m.portalDuration.WithLabelValues(action).Observe(latency.Seconds())
}

// ObserveRelogin counts a relogin request.
func (m *Metrics) ObserveRelogin(trigger types.Trigger) {
	if m == nil {
		return
	}
	m.relogins.WithLabelValues(string(trigger)).Inc()
}

// SetConsecutiveFailures publishes the breaker counter.
func (m *Metrics) SetConsecutiveFailures(n int) {
	if m == nil {
		return
	}
	m.failures.Set(float64(n))
}

// Gatherer returns the registry backing m.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}
