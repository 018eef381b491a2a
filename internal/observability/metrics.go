package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the FlowPilot Prometheus metric set. One instance is
// created at startup and threaded into the agent loop, the executor,
// and the HTTP server.
type Metrics struct {
	// LLMRequestCounter counts model calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|denied|pending)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// PolicyDecisionCounter counts policy evaluations.
	// Labels: tool, decision (allow|deny|confirm)
	PolicyDecisionCounter *prometheus.CounterVec

	// SessionCounter counts finished agent sessions.
	// Labels: status (completed|failed|cancelled)
	SessionCounter *prometheus.CounterVec

	// SessionIterations measures loop iterations per session.
	SessionIterations prometheus.Histogram

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// SSHCommandCounter counts remote command executions.
	// Labels: host, status (success|error)
	SSHCommandCounter *prometheus.CounterVec

	// ActiveSSESessions gauges currently open SSE streams.
	ActiveSSESessions prometheus.Gauge
}

// NewMetrics creates and registers the metric set with the default
// Prometheus registry. Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsFor(prometheus.DefaultRegisterer)
}

// NewMetricsFor registers the metric set with an explicit registerer.
// Tests use this with an isolated registry.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowpilot_llm_requests_total",
				Help: "Total model calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowpilot_llm_request_duration_seconds",
				Help:    "Model call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowpilot_llm_tokens_total",
				Help: "Token consumption by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowpilot_tool_executions_total",
				Help: "Tool invocations by tool name and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowpilot_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		PolicyDecisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowpilot_policy_decisions_total",
				Help: "Policy evaluations by tool and decision",
			},
			[]string{"tool", "decision"},
		),

		SessionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowpilot_sessions_total",
				Help: "Finished agent sessions by status",
			},
			[]string{"status"},
		),

		SessionIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowpilot_session_iterations",
				Help:    "Agent loop iterations per session",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
			},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowpilot_http_requests_total",
				Help: "HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowpilot_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		SSHCommandCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowpilot_ssh_commands_total",
				Help: "Remote command executions by host and status",
			},
			[]string{"host", "status"},
		),

		ActiveSSESessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowpilot_active_sse_sessions",
				Help: "Currently open SSE streams",
			},
		),
	}
}

// RecordLLMRequest records one model call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordPolicyDecision records one policy evaluation.
func (m *Metrics) RecordPolicyDecision(tool, decision string) {
	m.PolicyDecisionCounter.WithLabelValues(tool, decision).Inc()
}

// RecordSession records a finished session and its iteration count.
func (m *Metrics) RecordSession(status string, iterations int) {
	m.SessionCounter.WithLabelValues(status).Inc()
	m.SessionIterations.Observe(float64(iterations))
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordSSHCommand records one remote command execution.
func (m *Metrics) RecordSSHCommand(host, status string) {
	m.SSHCommandCounter.WithLabelValues(host, status).Inc()
}

// SSEOpened increments the open-stream gauge.
func (m *Metrics) SSEOpened() {
	m.ActiveSSESessions.Inc()
}

// SSEClosed decrements the open-stream gauge.
func (m *Metrics) SSEClosed() {
	m.ActiveSSESessions.Dec()
}
