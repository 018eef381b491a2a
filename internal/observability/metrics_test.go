package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordLLMRequest(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.RecordLLMRequest("zhipu", "glm-4-plus", "success", 1.2, 100, 50)
	m.RecordLLMRequest("zhipu", "glm-4-plus", "success", 0.8, 40, 10)
	m.RecordLLMRequest("claude", "claude-sonnet-4-20250514", "error", 0.1, 0, 0)

	expected := `
		# HELP flowpilot_llm_requests_total Total model calls by provider, model, and status
		# TYPE flowpilot_llm_requests_total counter
		flowpilot_llm_requests_total{model="claude-sonnet-4-20250514",provider="claude",status="error"} 1
		flowpilot_llm_requests_total{model="glm-4-plus",provider="zhipu",status="success"} 2
	`
	if err := testutil.CollectAndCompare(m.LLMRequestCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected llm request counts: %v", err)
	}

	tokens := `
		# HELP flowpilot_llm_tokens_total Token consumption by provider, model, and type
		# TYPE flowpilot_llm_tokens_total counter
		flowpilot_llm_tokens_total{model="glm-4-plus",provider="zhipu",type="completion"} 60
		flowpilot_llm_tokens_total{model="glm-4-plus",provider="zhipu",type="prompt"} 140
	`
	if err := testutil.CollectAndCompare(m.LLMTokensUsed, strings.NewReader(tokens)); err != nil {
		t.Errorf("unexpected token counts: %v", err)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.RecordToolExecution("ssh_exec", "success", 0.4)
	m.RecordToolExecution("ssh_exec", "error", 1.1)
	m.RecordToolExecution("log_tail", "success", 0.2)

	if count := testutil.CollectAndCount(m.ToolExecutionCounter); count != 3 {
		t.Errorf("expected 3 label combinations, got %d", count)
	}
}

func TestRecordPolicyDecision(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.RecordPolicyDecision("service_control", "confirm")
	m.RecordPolicyDecision("service_control", "confirm")
	m.RecordPolicyDecision("ssh_exec", "deny")

	expected := `
		# HELP flowpilot_policy_decisions_total Policy evaluations by tool and decision
		# TYPE flowpilot_policy_decisions_total counter
		flowpilot_policy_decisions_total{decision="confirm",tool="service_control"} 2
		flowpilot_policy_decisions_total{decision="deny",tool="ssh_exec"} 1
	`
	if err := testutil.CollectAndCompare(m.PolicyDecisionCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected policy decision counts: %v", err)
	}
}

func TestSSESessionGauge(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.SSEOpened()
	m.SSEOpened()
	m.SSEClosed()

	if v := testutil.ToFloat64(m.ActiveSSESessions); v != 1 {
		t.Errorf("active sessions = %v, want 1", v)
	}
}
