// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package host

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/plughost/pkg/errutil"
)

// OutcomeSuccess labels triggers that returned a result.
const OutcomeSuccess = "success"

// TriggersTotal counts triggers by plugin, entry and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var TriggersTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plughost_triggers_total",
		Help: "Total number of plugin entry triggers by outcome",
	},
	[]string{"plugin", "entry", "outcome"},
)

// TriggerDuration observes how long triggers take end to end.
var TriggerDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "plughost_trigger_duration_seconds",
		Help:    "Plugin entry trigger duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"plugin", "entry"},
)

// ProcessesRunning is the number of loaded plugin processes.
var ProcessesRunning = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "plughost_processes_running",
		Help: "Number of plugin processes currently loaded",
	},
)

// SpawnFailures counts plugins that could not be started.
var SpawnFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plughost_spawn_failures_total",
		Help: "Total number of plugin spawn failures",
	},
	[]string{"plugin"},
)

// ProcessRSS is the resident memory of each plugin process.
var ProcessRSS = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "plughost_process_resident_memory_bytes",
		Help: "Resident memory of plugin processes in bytes",
	},
	[]string{"plugin"},
)

// ProcessCPU is the CPU usage of each plugin process.
var ProcessCPU = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "plughost_process_cpu_percent",
		Help: "CPU usage of plugin processes in percent",
	},
	[]string{"plugin"},
)

// RegisterMetrics registers host package metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(TriggersTotal)
	reg.MustRegister(TriggerDuration)
	reg.MustRegister(ProcessesRunning)
	reg.MustRegister(SpawnFailures)
	reg.MustRegister(ProcessRSS)
	reg.MustRegister(ProcessCPU)
}

func recordTrigger(pluginID, entryID string, err error, elapsed time.Duration) {
	TriggersTotal.WithLabelValues(pluginID, entryID, outcome(err)).Inc()
	TriggerDuration.WithLabelValues(pluginID, entryID).Observe(elapsed.Seconds())
}

// outcome turns an error into a metric label: its code in lower case, or
// "error" when it has none.
func outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if code := errutil.CodeOf(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}

func forgetProcess(pluginID string) {
	ProcessRSS.DeleteLabelValues(pluginID)
	ProcessCPU.DeleteLabelValues(pluginID)
}
