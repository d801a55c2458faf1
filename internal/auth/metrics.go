// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names used as metric labels and span names.
const (
	OpRegister              = "register"
	OpLogin                 = "login"
	OpRequestPasswordReset  = "request_password_reset"
	OpCompletePasswordReset = "complete_password_reset"
)

// OutcomeOK is the outcome label for successful operations. Failures use
// the ErrorKind name.
const OutcomeOK = "ok"

// CredentialOperations counts credential operations by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var CredentialOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_credential_operations_total",
		Help: "Total number of credential operations by operation and outcome",
	},
	[]string{"operation", "outcome"},
)

// CredentialOperationDuration is the histogram for credential operation duration.
var CredentialOperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gatekeeper_credential_operation_duration_seconds",
		Help:    "Credential operation duration in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	},
	[]string{"operation"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CredentialOperations)
	reg.MustRegister(CredentialOperationDuration)
}

func recordOperation(operation string, err error, duration time.Duration) {
	outcome := OutcomeOK
	if err != nil {
		outcome = KindOf(err).String()
	}
	CredentialOperations.WithLabelValues(operation, outcome).Inc()
	CredentialOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
