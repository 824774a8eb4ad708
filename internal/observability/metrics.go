package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the prometheus collectors the gateway emits. All
// collectors register with the default registry and surface on /metrics.
type Metrics struct {
	// TurnCounter counts completed turns.
	// Labels: terminated_reason (stop|budget|error|timeout)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures turn wall-clock in seconds.
	TurnDuration prometheus.Histogram

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (ok|no_result|error|degraded|partial)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// LLMRequestDuration measures model stream duration in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokens counts tokens by direction.
	// Labels: provider, model, direction (input|output)
	LLMTokens *prometheus.CounterVec

	// ActiveStreams gauges currently open SSE streams.
	ActiveStreams prometheus.Gauge

	// RateLimited counts requests rejected by the per-teacher limiter.
	RateLimited prometheus.Counter
}

// NewMetrics creates and registers all collectors. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classpilot_turns_total",
				Help: "Completed conversation turns by termination reason",
			},
			[]string{"terminated_reason"},
		),
		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "classpilot_turn_duration_seconds",
				Help:    "Wall-clock duration of conversation turns",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classpilot_tool_executions_total",
				Help: "Tool invocations by name and result status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "classpilot_tool_execution_duration_seconds",
				Help:    "Tool handler execution time",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "classpilot_llm_request_duration_seconds",
				Help:    "Model provider stream duration",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classpilot_llm_tokens_total",
				Help: "Token consumption by provider, model and direction",
			},
			[]string{"provider", "model", "direction"},
		),
		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "classpilot_active_streams",
				Help: "Currently open SSE streams",
			},
		),
		RateLimited: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "classpilot_rate_limited_total",
				Help: "Requests rejected by the per-teacher rate limiter",
			},
		),
	}
}
