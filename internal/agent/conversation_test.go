package agent

import (
	"strings"
	"testing"

	"github.com/mrtian2016/flowpilot/pkg/models"
)

func TestConversationSystemAlwaysFirst(t *testing.T) {
	conv := NewConversation("you are an ops assistant")
	conv.AddUser("hello")
	conv.AddAssistant("hi", nil)

	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem || msgs[0].Content != "you are an ops assistant" {
		t.Errorf("position 0 = %+v, want the system instruction", msgs[0])
	}
	if conv.Len() != 2 {
		t.Errorf("Len = %d, want 2 (system excluded)", conv.Len())
	}
}

func TestConversationDefaultPrompt(t *testing.T) {
	conv := NewConversation("")
	msgs := conv.Messages()
	if msgs[0].Content != DefaultSystemPrompt {
		t.Error("empty prompt should select the built-in one")
	}
	if !strings.Contains(DefaultSystemPrompt, "ssh_exec") {
		t.Error("operations prompt should mention the shell tool")
	}
}

func TestConversationToolResultBatch(t *testing.T) {
	conv := NewConversation("sys")
	conv.AddUser("restart nginx everywhere")
	conv.AddAssistant("", []models.ToolCall{
		{ID: "tc_1", Name: "ssh_exec"},
		{ID: "tc_2", Name: "ssh_exec"},
	})
	conv.AddToolResults([]models.ToolResultBlock{
		{ToolUseID: "tc_1", Content: "ok"},
		{ToolUseID: "tc_2", Content: "failed", IsError: true},
	})

	msgs := conv.Messages()
	batch := msgs[len(msgs)-1]
	if batch.Role != models.RoleUser {
		t.Errorf("batch role = %q, want user (the neutral tool-result wrapper)", batch.Role)
	}
	results := batch.ToolResults()
	if len(results) != 2 {
		t.Fatalf("blocks = %d, want 2 in one message", len(results))
	}
	if results[0].ToolUseID != "tc_1" || results[1].ToolUseID != "tc_2" {
		t.Errorf("block order = %+v, want input order", results)
	}
	if !results[1].IsError {
		t.Error("error flag lost")
	}
}

func TestConversationSnapshotIsolation(t *testing.T) {
	conv := NewConversation("sys")
	conv.AddUser("one")

	snapshot := conv.Messages()
	snapshot[1].Content = "mutated"

	if conv.Messages()[1].Content != "one" {
		t.Error("mutating the snapshot must not affect the conversation")
	}
}

func TestConversationSetSystemAndClear(t *testing.T) {
	conv := NewConversation("original")
	conv.SetSystem("replacement")
	conv.SetSystem("")
	if conv.Messages()[0].Content != "replacement" {
		t.Errorf("system = %q", conv.Messages()[0].Content)
	}

	conv.AddUser("x")
	conv.Clear()
	if conv.Len() != 0 {
		t.Errorf("Len after Clear = %d", conv.Len())
	}
	if conv.Messages()[0].Content != "replacement" {
		t.Error("Clear must keep the system prompt")
	}
}
