// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package status

import "github.com/prometheus/client_golang/prometheus"

// UpdatesFolded counts status updates folded into the table.
// Use RegisterMetrics to register this with a Prometheus registry.
var UpdatesFolded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plughost_status_updates_total",
		Help: "Total number of plugin status updates folded by source",
	},
	[]string{"plugin", "source"},
)

// SinkFailures counts records a sink failed to accept.
var SinkFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "plughost_status_sink_failures_total",
		Help: "Total number of status records a sink failed to store",
	},
)

// RegisterMetrics registers status package metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(UpdatesFolded)
	reg.MustRegister(SinkFailures)
}
