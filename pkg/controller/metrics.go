package controller

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the Prometheus collectors exposed on /metrics, registered on
// a dedicated registry rather than the global one.
type metrics struct {
	registry *prometheus.Registry

	webhooksReceived     *prometheus.CounterVec
	deployments          *prometheus.CounterVec
	deploymentDuration   *prometheus.HistogramVec
	notificationFailures prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		webhooksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fisherman_webhooks_received_total",
				Help: "Number of inbound webhook requests by event type and disposition",
			},
			[]string{"event_type", "status"},
		),
		deployments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fisherman_deployments_total",
				Help: "Number of terminal deployment outcomes by repository",
			},
			[]string{"repository", "outcome"},
		),
		deploymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fisherman_deployment_duration_seconds",
				Help:    "Wall-clock duration of the sync+build+restart pipeline",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
			[]string{"repository"},
		),
		notificationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fisherman_notification_failures_total",
				Help: "Number of outcome notifications that could not be delivered",
			},
		),
	}

	m.registry.MustRegister(
		m.webhooksReceived,
		m.deployments,
		m.deploymentDuration,
		m.notificationFailures,
	)

	return m
}
