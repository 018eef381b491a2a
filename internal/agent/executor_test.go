package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mrtian2016/flowpilot/pkg/models"
)

func TestExecutorToolNotFound(t *testing.T) {
	store := newTestStore(t)
	registry := NewRegistry()
	executor := NewExecutor(registry, store, 0, nil)

	store.CreateSession(context.Background(), "sess_x", "input", "cli")
	results := executor.ExecuteCalls(context.Background(), "sess_x", []models.ToolCall{
		{ID: "tc_1", Name: "no_such_tool", Arguments: map[string]any{}},
	})

	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Content != "Tool `no_such_tool` not found" {
		t.Errorf("content = %q", results[0].Content)
	}
	if results[0].Result.Status != models.ToolError {
		t.Errorf("status = %q", results[0].Result.Status)
	}

	// The miss is still audited.
	detail, err := store.SessionDetail(context.Background(), "sess_x")
	if err != nil || detail == nil || len(detail.ToolCalls) != 1 {
		t.Fatalf("detail = %+v, err = %v", detail, err)
	}
	if detail.ToolCalls[0].Status != models.CallError {
		t.Errorf("audited status = %q", detail.ToolCalls[0].Status)
	}
}

func TestExecutorSchemaValidation(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&fakeTool{
		name: "strict_tool",
		schema: `{
			"type": "object",
			"properties": {"host": {"type": "string"}},
			"required": ["host"]
		}`,
		execute: func(context.Context, map[string]any) (*models.ToolResult, error) {
			t.Fatal("execute must not run when arguments fail validation")
			return nil, nil
		},
	})
	executor := NewExecutor(registry, nil, 0, nil)

	results := executor.ExecuteCalls(context.Background(), "sess_x", []models.ToolCall{
		{ID: "tc_1", Name: "strict_tool", Arguments: map[string]any{"count": float64(3)}},
	})
	if results[0].Result.Status != models.ToolError {
		t.Errorf("status = %q, want error", results[0].Result.Status)
	}
	if !strings.Contains(results[0].Content, "strict_tool") {
		t.Errorf("content = %q, want schema violation naming the tool", results[0].Content)
	}
}

func TestExecutorTimeout(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&fakeTool{name: "slow_tool", execute: func(ctx context.Context, _ map[string]any) (*models.ToolResult, error) {
		select {
		case <-time.After(5 * time.Second):
			return models.SuccessResult("too late"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}})
	executor := NewExecutor(registry, nil, 50*time.Millisecond, nil)

	start := time.Now()
	results := executor.ExecuteCalls(context.Background(), "sess_x", []models.ToolCall{
		{ID: "tc_1", Name: "slow_tool", Arguments: map[string]any{}},
	})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("executor blocked for %v", elapsed)
	}
	if results[0].Result.Status != models.ToolError {
		t.Errorf("status = %q, want error", results[0].Result.Status)
	}
	if !strings.Contains(results[0].Content, "timed out") {
		t.Errorf("content = %q, want timeout message", results[0].Content)
	}
}

func TestExecutorCancellation(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&fakeTool{name: "hang_tool", execute: func(ctx context.Context, _ map[string]any) (*models.ToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	executor := NewExecutor(registry, nil, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	results := executor.ExecuteCalls(ctx, "sess_x", []models.ToolCall{
		{ID: "tc_1", Name: "hang_tool", Arguments: map[string]any{}},
	})
	if results[0].Result.Error != "cancelled" {
		t.Errorf("error = %q, want cancelled", results[0].Result.Error)
	}
}

func TestExecutorRedactsConfirmTokenFromAudit(t *testing.T) {
	store := newTestStore(t)
	registry := NewRegistry()
	registry.MustRegister(&fakeTool{name: "guarded_tool", execute: func(_ context.Context, args map[string]any) (*models.ToolResult, error) {
		if args[ConfirmTokenArg] != "conf_deadbeef" {
			t.Errorf("tool should still see the token, got %v", args[ConfirmTokenArg])
		}
		return models.SuccessResult("done"), nil
	}})
	executor := NewExecutor(registry, store, 0, nil)

	store.CreateSession(context.Background(), "sess_x", "input", "cli")
	executor.ExecuteCalls(context.Background(), "sess_x", []models.ToolCall{
		{ID: "tc_1", Name: "guarded_tool", Arguments: map[string]any{
			"command":       "systemctl restart nginx",
			ConfirmTokenArg: "conf_deadbeef",
		}},
	})

	detail, err := store.SessionDetail(context.Background(), "sess_x")
	if err != nil || detail == nil || len(detail.ToolCalls) != 1 {
		t.Fatalf("detail = %+v, err = %v", detail, err)
	}
	args := detail.ToolCalls[0].ToolArgs
	if strings.Contains(args, "conf_deadbeef") {
		t.Errorf("confirm token leaked into audit args: %s", args)
	}
	if !strings.Contains(args, "systemctl restart nginx") {
		t.Errorf("real args lost: %s", args)
	}
}

func TestExecutorPreservesCallOrder(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&fakeTool{name: "echo_tool", execute: func(_ context.Context, args map[string]any) (*models.ToolResult, error) {
		return models.SuccessResult(args["n"].(string)), nil
	}})
	executor := NewExecutor(registry, nil, 0, nil)

	calls := []models.ToolCall{
		{ID: "a", Name: "echo_tool", Arguments: map[string]any{"n": "first"}},
		{ID: "b", Name: "echo_tool", Arguments: map[string]any{"n": "second"}},
		{ID: "c", Name: "echo_tool", Arguments: map[string]any{"n": "third"}},
	}
	results := executor.ExecuteCalls(context.Background(), "sess_x", calls)
	for i, want := range []string{"first", "second", "third"} {
		if results[i].Content != want || results[i].ToolUseID != calls[i].ID {
			t.Errorf("result %d = %+v, want %q for %q", i, results[i], want, calls[i].ID)
		}
	}
}

func TestFormatResult(t *testing.T) {
	exitCode := 1
	cases := []struct {
		name string
		res  *models.ToolResult
		want []string
	}{
		{
			"success",
			models.SuccessResult("up 3 days"),
			[]string{"up 3 days"},
		},
		{
			"success with stderr note",
			&models.ToolResult{Status: models.ToolSuccess, Output: "done", Error: "warning: slow link"},
			[]string{"done", "stderr:", "warning: slow link"},
		},
		{
			"error prefers the error field",
			&models.ToolResult{Status: models.ToolError, Error: "connection refused", Output: "partial"},
			[]string{"connection refused"},
		},
		{
			"error falls back to output",
			&models.ToolResult{Status: models.ToolError, Output: "partial output", ExitCode: &exitCode},
			[]string{"partial output"},
		},
		{
			"error placeholder",
			&models.ToolResult{Status: models.ToolError},
			[]string{"(no output)"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FormatResult(tc.res)
			for _, want := range tc.want {
				if !strings.Contains(got, want) {
					t.Errorf("FormatResult = %q, missing %q", got, want)
				}
			}
		})
	}
}

func TestFormatPendingConfirm(t *testing.T) {
	res := &models.ToolResult{
		Status:       models.ToolPendingConfirm,
		ConfirmToken: "conf_0123456789abcdef",
		Preview: map[string]any{
			"command":    "systemctl restart nginx",
			"env":        "prod",
			"risk_level": "high",
			"host_info":  "web-1 (10.0.0.5)",
			"extra_key":  "extra_value",
		},
	}
	got := FormatResult(res)

	for _, want := range []string{
		"Confirmation required",
		"conf_0123456789abcdef",
		"systemctl restart nginx",
		ConfirmTokenArg,
		"extra_value",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("pending block missing %q:\n%s", want, got)
		}
	}
	// Well-known keys come in presentation order: host_info before env.
	if strings.Index(got, "host_info") > strings.Index(got, "env:") {
		t.Errorf("preview key order wrong:\n%s", got)
	}
}
