// Package metrics provides Prometheus metrics for the builder client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for builderd.
type Metrics struct {
	ActionsTotal     *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	PollsTotal       *prometheus.CounterVec
	PhaseTransitions *prometheus.CounterVec
	ActivePollers    prometheus.Gauge
	StreamReconnects prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_actions_total",
				Help: "Total store actions by action and status.",
			},
			[]string{"action", "status"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "builder_action_duration_seconds",
				Help:    "Store action duration by action.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_polls_total",
				Help: "Total status polls by outcome.",
			},
			[]string{"outcome"},
		),
		PhaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_phase_transitions_total",
				Help: "Observed build phase transitions by target phase.",
			},
			[]string{"phase"},
		),
		ActivePollers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "builder_active_pollers",
				Help: "Number of builds currently being polled.",
			},
		),
		StreamReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "builder_stream_reconnects_total",
				Help: "WebSocket status stream reconnect attempts.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.ActionsTotal)
	reg.MustRegister(m.ActionDuration)
	reg.MustRegister(m.PollsTotal)
	reg.MustRegister(m.PhaseTransitions)
	reg.MustRegister(m.ActivePollers)
	reg.MustRegister(m.StreamReconnects)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAction increments the action counter.
func (m *Metrics) RecordAction(action, status string) {
	m.ActionsTotal.WithLabelValues(action, status).Inc()
}

// ObserveAction records action duration.
func (m *Metrics) ObserveAction(action string, seconds float64) {
	m.ActionDuration.WithLabelValues(action).Observe(seconds)
}

// RecordPoll increments the poll counter ("ok", "error", or "stale").
func (m *Metrics) RecordPoll(outcome string) {
	m.PollsTotal.WithLabelValues(outcome).Inc()
}

// RecordPhase increments the phase transition counter.
func (m *Metrics) RecordPhase(phase string) {
	m.PhaseTransitions.WithLabelValues(phase).Inc()
}
