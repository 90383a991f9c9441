// Package metrics exposes the Node's Prometheus surface: slot
// utilization, sandbox lifecycle counters, and exec duration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SlotsUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandchest_slots_used",
		Help: "Network slots currently allocated out of 256",
	})

	SandboxesRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandchest_sandboxes_running",
			Help: "Number of sandboxes currently Running, by profile",
		},
		[]string{"profile"},
	)

	SandboxLifecycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandchest_sandbox_lifecycle_total",
			Help: "Sandbox lifecycle transitions, by operation and outcome",
		},
		[]string{"operation", "outcome"}, // operation: create|create_from_snapshot|fork|destroy
	)

	BootDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandchest_boot_duration_seconds",
			Help:    "Time from create request to Running, by operation",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"operation"},
	)

	ForkParentDowntime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandchest_fork_parent_downtime_seconds",
		Help:    "Parent sandbox downtime during a live fork (pause to resume)",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1},
	})

	ExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandchest_exec_duration_seconds",
			Help:    "Guest exec duration, by exit reason",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		},
		[]string{"outcome"}, // outcome: exited|timeout|signaled
	)

	EventChannelReplayDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandchest_eventchannel_replay_depth",
		Help: "Current number of events held in the outbound replay buffer",
	})
)

func init() {
	prometheus.MustRegister(
		SlotsUsed,
		SandboxesRunning,
		SandboxLifecycleTotal,
		BootDuration,
		ForkParentDowntime,
		ExecDuration,
		EventChannelReplayDepth,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
