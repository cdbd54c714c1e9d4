package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized Prometheus interface scoped to the Agent
// Turn Engine (spec §4's C1-C10 components) rather than the teacher's
// full channel/webhook/HTTP-API surface — this repo has no webhook
// receiver or message queue to emit those against.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordTurn(severity, iterations, time.Since(start))
//	defer metrics.ToolExecutionDuration.WithLabelValues(name).Observe(elapsed)
type Metrics struct {
	// TurnDuration measures wall-clock time for one Engine.RunTurn call.
	// Labels: finish_reason (stop|tool_calls|circuit_breaker)
	TurnDuration *prometheus.HistogramVec

	// TurnIterations tracks how many provider round-trips a turn took
	// before it ended, the loop bound C3's Loop Detector enforces.
	TurnIterations *prometheus.HistogramVec

	// LoopSeverityTotal counts C3 Loop Detector severity classifications
	// per turn. Labels: severity (none|warning|critical|circuit_breaker)
	LoopSeverityTotal *prometheus.CounterVec

	// ToolExecutionTotal counts C2 Tool Executor dispatches.
	// Labels: tool_name, kind (read|mutate|interactive), status (success|error)
	ToolExecutionTotal *prometheus.CounterVec

	// ToolExecutionDuration measures C2 Tool Executor dispatch latency.
	// Labels: tool_name, kind
	ToolExecutionDuration *prometheus.HistogramVec

	// LLMRequestDuration measures provider completion latency.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestTotal counts provider completion calls.
	// Labels: provider, model, status (success|error)
	LLMRequestTotal *prometheus.CounterVec

	// KnowledgeInjectionTokens tracks how many tokens C4/C6 spent on
	// knowledge-pack and memory injection per turn, against the budget
	// spec §4.4/§4.6 describes.
	KnowledgeInjectionTokens *prometheus.HistogramVec

	// FeedbackRequestsPending is a gauge on outstanding C10 Feedback
	// Arbiter rendezvous points (interactive tool calls awaiting a
	// caller's answer).
	FeedbackRequestsPending prometheus.Gauge

	// ActiveSessions tracks concurrently open sessions.
	ActiveSessions prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus collectors against
// the default registry. Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates and registers all Prometheus
// collectors against reg, letting tests use an isolated registry
// instead of polluting the global one.
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_turn_duration_seconds",
				Help:    "Duration of a single Engine.RunTurn call",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"finish_reason"},
		),
		TurnIterations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_turn_iterations",
				Help:    "Number of provider round-trips per turn",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 12, 16, 24, 32},
			},
			[]string{"finish_reason"},
		),
		LoopSeverityTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_loop_severity_total",
				Help: "Loop Detector severity classifications by severity level",
			},
			[]string{"severity"},
		),
		ToolExecutionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_tool_executions_total",
				Help: "Tool Executor dispatches by tool, kind, and status",
			},
			[]string{"tool_name", "kind", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_tool_execution_duration_seconds",
				Help:    "Tool Executor dispatch latency by tool and kind",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name", "kind"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_llm_request_duration_seconds",
				Help:    "LLMProvider.Complete latency by provider and model",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_llm_requests_total",
				Help: "LLMProvider.Complete calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		KnowledgeInjectionTokens: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_knowledge_injection_tokens",
				Help:    "Tokens spent on knowledge/memory injection per turn",
				Buckets: []float64{100, 500, 1000, 2000, 4000, 8000, 16000},
			},
			[]string{"source"},
		),
		FeedbackRequestsPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_feedback_requests_pending",
				Help: "Outstanding Feedback Arbiter rendezvous points",
			},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_active_sessions",
				Help: "Currently open sessions",
			},
		),
	}
}

// RecordTurn records a completed Engine.RunTurn call.
func (m *Metrics) RecordTurn(finishReason string, iterations int, elapsed time.Duration) {
	m.TurnDuration.WithLabelValues(finishReason).Observe(elapsed.Seconds())
	m.TurnIterations.WithLabelValues(finishReason).Observe(float64(iterations))
}

// RecordLoopSeverity records one Loop Detector classification.
func (m *Metrics) RecordLoopSeverity(severity string) {
	m.LoopSeverityTotal.WithLabelValues(severity).Inc()
}

// RecordToolExecution records one Tool Executor dispatch.
func (m *Metrics) RecordToolExecution(toolName, kind, status string, elapsed time.Duration) {
	m.ToolExecutionTotal.WithLabelValues(toolName, kind, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName, kind).Observe(elapsed.Seconds())
}

// RecordLLMRequest records one provider completion call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, elapsed time.Duration) {
	m.LLMRequestTotal.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
}

// RecordKnowledgeInjection records the token cost of one C4/C6 injection.
func (m *Metrics) RecordKnowledgeInjection(source string, tokens int) {
	m.KnowledgeInjectionTokens.WithLabelValues(source).Observe(float64(tokens))
}
