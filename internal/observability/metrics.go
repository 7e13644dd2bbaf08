package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for kazi.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Tool dispatch metrics.
	ToolDispatchesTotal  *prometheus.CounterVec
	ToolDispatchDuration *prometheus.HistogramVec

	// Executor metrics.
	ExecutorRunsTotal   *prometheus.CounterVec
	ExecutorRunDuration prometheus.Histogram

	// Agent loop metrics.
	AgentRunsTotal  *prometheus.CounterVec
	AgentIterations prometheus.Histogram
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "model", "direction"}),

		ToolDispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "tool",
			Name:      "dispatches_total",
			Help:      "Total tool dispatches by outcome kind.",
		}, []string{"tool", "kind"}),

		ToolDispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "tool",
			Name:      "dispatch_duration_seconds",
			Help:      "Tool dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		ExecutorRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "executor",
			Name:      "runs_total",
			Help:      "Total child process runs.",
		}, []string{"status"}),

		ExecutorRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "executor",
			Name:      "run_duration_seconds",
			Help:      "Child process run duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		AgentRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Total agent runs by terminal state.",
		}, []string{"state"}),

		AgentIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "agent",
			Name:      "iterations",
			Help:      "Oracle consultations per agent run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 20, 50},
		}),
	}

	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ToolDispatchesTotal,
		m.ToolDispatchDuration,
		m.ExecutorRunsTotal,
		m.ExecutorRunDuration,
		m.AgentRunsTotal,
		m.AgentIterations,
	)

	return m
}

// RecordAgentRun records a finished agent run. Nil-safe.
func (m *MetricsCollector) RecordAgentRun(state string, iterations int) {
	if m == nil {
		return
	}
	m.AgentRunsTotal.WithLabelValues(state).Inc()
	m.AgentIterations.Observe(float64(iterations))
}

// WriteTextfile writes every gathered metric to path in the Prometheus text
// format, for the node exporter textfile collector.
func (m *MetricsCollector) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
