package mcp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "mcp",
		Name:      "tool_invocations_total",
		Help:      "MCP tool calls by tool and outcome.",
	}, []string{"tool", "status"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recalld",
		Subsystem: "mcp",
		Name:      "tool_duration_seconds",
		Help:      "MCP tool call latency.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"tool"})

	toolActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "recalld",
		Subsystem: "mcp",
		Name:      "tool_active",
		Help:      "In-flight MCP tool calls.",
	}, []string{"tool"})
)

// observeTool marks a tool call in flight and returns the completion
// callback.
func observeTool(tool string) func(error) {
	start := time.Now()
	toolActive.WithLabelValues(tool).Inc()
	return func(err error) {
		toolActive.WithLabelValues(tool).Dec()
		toolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		toolInvocations.WithLabelValues(tool, status).Inc()
	}
}
