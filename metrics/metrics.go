// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's collectors on a private registry so tests
// can create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	HeartbeatTicks  *prometheus.CounterVec
	PipelineRuns    *prometheus.CounterVec
	WebhookRequests *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	BudgetRemaining prometheus.Gauge
}

// New creates and registers the daemon's collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HeartbeatTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overseer_heartbeat_ticks_total",
			Help: "Heartbeat ticks by resulting action.",
		}, []string{"action"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overseer_pipeline_runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overseer_webhook_requests_total",
			Help: "Webhook HTTP requests by response status.",
		}, []string{"status"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overseer_queue_depth",
			Help: "Current work queue depth.",
		}),
		BudgetRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overseer_budget_remaining",
			Help: "Prompts remaining in the current budget window.",
		}),
	}
	m.registry.MustRegister(
		m.HeartbeatTicks,
		m.PipelineRuns,
		m.WebhookRequests,
		m.QueueDepth,
		m.BudgetRemaining,
	)
	return m
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
