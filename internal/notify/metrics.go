// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import "github.com/prometheus/client_golang/prometheus"

// Deliveries counts reset link deliveries by provider and outcome.
var Deliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_notify_deliveries_total",
		Help: "Total number of password reset link deliveries by provider and outcome",
	},
	[]string{"provider", "outcome"},
)

// QueueDepth reports jobs waiting in AsyncNotifier queues.
var QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "gatekeeper_notify_queue_depth",
	Help: "Number of reset link deliveries waiting to be sent",
})

// RegisterMetrics registers notify metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Deliveries)
	reg.MustRegister(QueueDepth)
}

func recordDelivery(provider string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Deliveries.WithLabelValues(provider, outcome).Inc()
}
