package providers

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/mrtian2016/flowpilot/pkg/models"
)

func TestConvertAnthropicMessages(t *testing.T) {
	log := []models.Message{
		models.NewUserMessage("what is the uptime of web-1?"),
		models.NewAssistantMessage("checking", []models.ToolCall{
			{ID: "toolu_1", Name: "ssh_exec", Arguments: map[string]any{"host": "web-1", "command": "uptime"}},
		}),
		models.NewToolResultMessage([]models.ToolResultBlock{
			{ToolUseID: "toolu_1", Content: "up 3 days"},
		}),
	}

	converted, err := convertAnthropicMessages(log)
	if err != nil {
		t.Fatalf("convertAnthropicMessages: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("message count = %d, want 3", len(converted))
	}

	if converted[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("turn 0 role = %q", converted[0].Role)
	}

	assistant := converted[1]
	if assistant.Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("turn 1 role = %q", assistant.Role)
	}
	if len(assistant.Content) != 2 {
		t.Fatalf("assistant blocks = %d, want text + tool_use", len(assistant.Content))
	}
	toolUse := assistant.Content[1].OfToolUse
	if toolUse == nil || toolUse.ID != "toolu_1" || toolUse.Name != "ssh_exec" {
		t.Errorf("tool_use block = %+v", toolUse)
	}

	result := converted[2]
	if result.Role != anthropic.MessageParamRoleUser {
		t.Errorf("turn 2 role = %q (tool results ride under user)", result.Role)
	}
	toolResult := result.Content[0].OfToolResult
	if toolResult == nil || toolResult.ToolUseID != "toolu_1" {
		t.Errorf("tool_result block = %+v", toolResult)
	}
}

func TestAnthropicParseMessage(t *testing.T) {
	p := &AnthropicProvider{model: "claude-sonnet-4-20250514"}

	msg := &anthropic.Message{
		Model:      "claude-sonnet-4-20250514",
		StopReason: anthropic.StopReasonToolUse,
		Usage:      anthropic.Usage{InputTokens: 42, OutputTokens: 11},
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "let me check "},
			{Type: "text", Text: "that host"},
			{
				Type:  "tool_use",
				ID:    "toolu_9",
				Name:  "ssh_exec",
				Input: json.RawMessage(`{"host":"web-1","command":"uptime"}`),
			},
		},
	}

	resp := p.parseMessage(msg)
	if resp.Content != "let me check that host" {
		t.Errorf("content = %q (text fragments must concatenate in order)", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_9" || tc.Name != "ssh_exec" {
		t.Errorf("tool call = %+v", tc)
	}
	want := map[string]any{"host": "web-1", "command": "uptime"}
	if !reflect.DeepEqual(tc.Arguments, want) {
		t.Errorf("arguments = %#v, want %#v", tc.Arguments, want)
	}
	if resp.StopReason != models.StopReasonToolUse {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if resp.Usage.TotalTokens != 53 {
		t.Errorf("total tokens = %d, want 53", resp.Usage.TotalTokens)
	}
}

func TestAnthropicStopReasonMapping(t *testing.T) {
	p := &AnthropicProvider{model: "m"}
	cases := []struct {
		vendor string
		want   models.StopReason
	}{
		{"end_turn", models.StopReasonStop},
		{"stop_sequence", models.StopReasonStop},
		{"max_tokens", models.StopReasonMaxTokens},
		{"refusal", models.StopReasonSafety},
		{"something_new", models.StopReasonStop},
	}
	for _, tc := range cases {
		t.Run(tc.vendor, func(t *testing.T) {
			resp := p.parseMessage(&anthropic.Message{StopReason: anthropic.StopReason(tc.vendor)})
			if resp.StopReason != tc.want {
				t.Errorf("stop reason = %q, want %q", resp.StopReason, tc.want)
			}
		})
	}
}

// A generic vendor stop with tool calls present must still normalize
// to tool_use.
func TestAnthropicToolCallsForceToolUse(t *testing.T) {
	p := &AnthropicProvider{model: "m"}
	resp := p.parseMessage(&anthropic.Message{
		StopReason: anthropic.StopReasonEndTurn,
		Content: []anthropic.ContentBlockUnion{
			{Type: "tool_use", ID: "toolu_1", Name: "git_status", Input: json.RawMessage(`{}`)},
		},
	})
	if resp.StopReason != models.StopReasonToolUse {
		t.Errorf("stop reason = %q, want tool_use", resp.StopReason)
	}
}

func TestAnthropicMalformedToolInput(t *testing.T) {
	p := &AnthropicProvider{model: "m"}
	resp := p.parseMessage(&anthropic.Message{
		StopReason: anthropic.StopReasonToolUse,
		Content: []anthropic.ContentBlockUnion{
			{Type: "tool_use", ID: "toolu_1", Name: "ssh_exec", Input: json.RawMessage(`not json`)},
		},
	})
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if raw, ok := resp.ToolCalls[0].Arguments["raw"].(string); !ok || raw != "not json" {
		t.Errorf("arguments = %#v, want raw fallback", resp.ToolCalls[0].Arguments)
	}
}

func TestNewAnthropicProviderValidation(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Error("missing API key should fail construction")
	}
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	if p.Name() != "anthropic" || !p.SupportsToolUse() {
		t.Errorf("provider = %s supportsTools=%v", p.Name(), p.SupportsToolUse())
	}
	if p.Model() != defaultAnthropicModel {
		t.Errorf("model = %q, want default", p.Model())
	}
}
