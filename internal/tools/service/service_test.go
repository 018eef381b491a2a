package service

import (
	"context"
	"strings"
	"testing"

	"github.com/mrtian2016/flowpilot/internal/config"
	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

func testResolver() *inventory.Resolver {
	cfg := &config.Config{
		Hosts: map[string]config.HostConfig{
			"web-1": {Env: "prod", User: "deploy", Addr: "10.0.1.10", Description: "Web frontend"},
			"api-1": {Env: "prod", User: "deploy", Addr: "10.0.2.20"},
		},
		Services: map[string]config.ServiceConfig{
			"nginx": {
				Kind:        "systemd",
				Unit:        "nginx",
				Description: "Reverse proxy",
				Hosts:       map[string][]string{"prod": {"web-1"}},
			},
			"api": {
				Kind:  "docker",
				Unit:  "api-server",
				Hosts: map[string][]string{"prod": {"api-1"}},
			},
			"worker": {
				Kind:  "pm2",
				Unit:  "worker",
				Hosts: map[string][]string{"prod": {"api-1"}},
			},
		},
	}
	return inventory.NewResolver(cfg, nil)
}

type fakeExec struct {
	result *models.ToolResult
	calls  []map[string]any
}

func (f *fakeExec) Execute(_ context.Context, args map[string]any) (*models.ToolResult, error) {
	f.calls = append(f.calls, args)
	if f.result != nil {
		return f.result, nil
	}
	return models.SuccessResult("done"), nil
}

func (f *fakeExec) lastCommand(t *testing.T) string {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatal("no command was executed")
	}
	cmd, _ := f.calls[len(f.calls)-1]["command"].(string)
	return cmd
}

func TestListToolAll(t *testing.T) {
	tool := NewListTool(testResolver())
	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.ToolSuccess {
		t.Fatalf("status = %s: %s", res.Status, res.Error)
	}
	if count := res.Metadata["count"]; count != 3 {
		t.Errorf("count = %v, want 3", count)
	}
	for _, want := range []string{
		"### Web frontend (`web-1`)",
		"### `api-1`",
		"- **nginx**: `nginx` (systemd)",
		"  - Reverse proxy",
		"- **api**: `api-server` (docker)",
		"- **worker**: `worker` (pm2)",
	} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("output missing %q:\n%s", want, res.Output)
		}
	}
	// grouped by host, api-1 sorts before web-1
	if strings.Index(res.Output, "api-server") > strings.Index(res.Output, "nginx`") {
		t.Errorf("services not grouped by sorted host:\n%s", res.Output)
	}
}

func TestListToolFilters(t *testing.T) {
	tests := []struct {
		name      string
		args      map[string]any
		wantCount int
		wantIn    string
		notIn     string
	}{
		{
			name:      "host keyword matches description",
			args:      map[string]any{"host": "frontend"},
			wantCount: 1,
			wantIn:    "nginx",
			notIn:     "api-server",
		},
		{
			name:      "service keyword matches unit",
			args:      map[string]any{"service": "api-server"},
			wantCount: 1,
			wantIn:    "api-server",
			notIn:     "nginx",
		},
		{
			name:      "host name substring",
			args:      map[string]any{"host": "api"},
			wantCount: 2,
			wantIn:    "worker",
			notIn:     "nginx",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewListTool(testResolver())
			res, err := tool.Execute(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if count := res.Metadata["count"]; count != tt.wantCount {
				t.Errorf("count = %v, want %d", count, tt.wantCount)
			}
			if !strings.Contains(res.Output, tt.wantIn) {
				t.Errorf("output missing %q:\n%s", tt.wantIn, res.Output)
			}
			if strings.Contains(res.Output, tt.notIn) {
				t.Errorf("output should not contain %q:\n%s", tt.notIn, res.Output)
			}
		})
	}
}

func TestListToolNoMatches(t *testing.T) {
	tool := NewListTool(testResolver())
	res, err := tool.Execute(context.Background(), map[string]any{"service": "kafka"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.ToolSuccess || !strings.Contains(res.Output, "No services matched") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestControlToolCommands(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    string
		wantOut string
	}{
		{
			name:    "systemd restart",
			args:    map[string]any{"host": "web-1", "service": "nginx", "action": "restart"},
			want:    "sudo systemctl restart nginx",
			wantOut: "✅ restart nginx on web-1",
		},
		{
			name: "docker status",
			args: map[string]any{"host": "api-1", "service": "api", "action": "status"},
			want: "docker ps -f name=api-server",
		},
		{
			name: "docker stop",
			args: map[string]any{"host": "api-1", "service": "api", "action": "stop"},
			want: "docker stop api-server",
		},
		{
			name: "pm2 status",
			args: map[string]any{"host": "api-1", "service": "worker", "action": "status"},
			want: "pm2 show worker",
		},
		{
			name: "pm2 restart",
			args: map[string]any{"host": "api-1", "service": "worker", "action": "restart"},
			want: "pm2 restart worker",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExec{}
			tool := NewControlTool(testResolver(), exec)
			res, err := tool.Execute(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Status != models.ToolSuccess {
				t.Fatalf("status = %s: %s", res.Status, res.Error)
			}
			if got := exec.lastCommand(t); got != tt.want {
				t.Errorf("command = %q, want %q", got, tt.want)
			}
			if tt.wantOut != "" && !strings.Contains(res.Output, tt.wantOut) {
				t.Errorf("output missing %q:\n%s", tt.wantOut, res.Output)
			}
		})
	}
}

func TestControlToolMetadata(t *testing.T) {
	exec := &fakeExec{}
	tool := NewControlTool(testResolver(), exec)
	res, err := tool.Execute(context.Background(),
		map[string]any{"host": "web", "service": "reverse proxy", "action": "status"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Metadata["service"] != "nginx" || res.Metadata["action"] != "status" {
		t.Errorf("metadata = %v", res.Metadata)
	}
	if host := exec.calls[0]["host"]; host != "web-1" {
		t.Errorf("resolved host = %v, want web-1", host)
	}
}

func TestControlToolNoMatch(t *testing.T) {
	tool := NewControlTool(testResolver(), &fakeExec{})
	res, err := tool.Execute(context.Background(),
		map[string]any{"host": "web-1", "service": "postgres", "action": "restart"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.ToolError || !strings.Contains(res.Error, "service_list") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestControlToolAmbiguous(t *testing.T) {
	tool := NewControlTool(testResolver(), &fakeExec{})
	// "r" appears in worker and api-server units and in nginx's description
	res, err := tool.Execute(context.Background(),
		map[string]any{"host": "api", "service": "r", "action": "restart"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.ToolError {
		t.Fatalf("status = %s, want error", res.Status)
	}
	if !strings.Contains(res.Error, "2 services match") {
		t.Errorf("error = %q, want candidate count", res.Error)
	}
	if !strings.Contains(res.Error, "worker") || !strings.Contains(res.Error, "api") {
		t.Errorf("error should list candidates: %q", res.Error)
	}
}

func TestControlToolBadAction(t *testing.T) {
	tool := NewControlTool(testResolver(), &fakeExec{})
	res, err := tool.Execute(context.Background(),
		map[string]any{"host": "web-1", "service": "nginx", "action": "reboot"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.ToolError || !strings.Contains(res.Error, "unknown action") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestControlToolPassesThroughPending(t *testing.T) {
	pending := models.PendingResult("tok-123", map[string]any{"command": "sudo systemctl restart nginx"})
	exec := &fakeExec{result: pending}
	tool := NewControlTool(testResolver(), exec)
	res, err := tool.Execute(context.Background(),
		map[string]any{"host": "web-1", "service": "nginx", "action": "restart"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.ToolPendingConfirm || res.ConfirmToken != "tok-123" {
		t.Errorf("pending result not passed through: %+v", res)
	}
	if strings.Contains(res.Output, "✅") {
		t.Errorf("pending output must not be wrapped: %q", res.Output)
	}
}

func TestControlToolForwardsConfirmToken(t *testing.T) {
	exec := &fakeExec{}
	tool := NewControlTool(testResolver(), exec)
	if _, err := tool.Execute(context.Background(), map[string]any{
		"host": "web-1", "service": "nginx", "action": "restart",
		models.ConfirmTokenArg: "tok-456",
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tok := exec.calls[0][models.ConfirmTokenArg]; tok != "tok-456" {
		t.Errorf("confirm token = %v, want tok-456", tok)
	}
}
