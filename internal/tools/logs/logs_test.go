package logs

import (
	"context"
	"errors"
	"testing"

	"github.com/mrtian2016/flowpilot/pkg/models"
)

// fakeExec records the composed commands and plays back a canned
// result.
type fakeExec struct {
	result *models.ToolResult
	err    error
	calls  []map[string]any
}

func (f *fakeExec) Execute(_ context.Context, args map[string]any) (*models.ToolResult, error) {
	f.calls = append(f.calls, args)
	if f.result == nil && f.err == nil {
		return models.SuccessResult(""), nil
	}
	return f.result, f.err
}

func (f *fakeExec) lastCommand(t *testing.T) string {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatal("no command was executed")
	}
	cmd, _ := f.calls[len(f.calls)-1]["command"].(string)
	return cmd
}

func TestTailToolCommand(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "defaults",
			args: map[string]any{"host": "web-1", "path": "/var/log/app.log"},
			want: "tail -n 50 /var/log/app.log",
		},
		{
			name: "explicit lines",
			args: map[string]any{"host": "web-1", "path": "/var/log/app.log", "lines": float64(200)},
			want: "tail -n 200 /var/log/app.log",
		},
		{
			name: "grep filter over-reads",
			args: map[string]any{"host": "web-1", "path": "/var/log/app.log", "lines": float64(100), "grep": "timeout"},
			want: "tail -n 200 /var/log/app.log | grep -i 'timeout' | tail -n 100",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &fakeExec{result: models.SuccessResult("line1\nline2\n")}
			tool := NewTailTool(exec)
			res, err := tool.Execute(context.Background(), tc.args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got := exec.lastCommand(t); got != tc.want {
				t.Errorf("command = %q, want %q", got, tc.want)
			}
			if res.Metadata["line_count"] != 2 {
				t.Errorf("line_count = %v", res.Metadata["line_count"])
			}
			if res.Metadata["path"] != "/var/log/app.log" {
				t.Errorf("path = %v", res.Metadata["path"])
			}
		})
	}
}

func TestTailToolPassesErrorsThrough(t *testing.T) {
	exec := &fakeExec{result: models.ErrorResult("⚠️ SSH timeout: web-1 did not respond.")}
	tool := NewTailTool(exec)
	res, err := tool.Execute(context.Background(), map[string]any{"host": "web-1", "path": "/var/log/app.log"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.ToolError {
		t.Fatalf("status = %s", res.Status)
	}
	if _, ok := res.Metadata["line_count"]; ok {
		t.Error("error results must not grow metadata")
	}
}

func TestTailToolRequiredArgs(t *testing.T) {
	tool := NewTailTool(&fakeExec{})
	res, err := tool.Execute(context.Background(), map[string]any{"host": "web-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.ToolError {
		t.Errorf("status = %s, want error", res.Status)
	}
}

func TestSearchToolCommand(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "plain pattern",
			args: map[string]any{"host": "web-1", "path": "/var/log/app.log", "pattern": "conn reset"},
			want: "grep -i 'conn reset' /var/log/app.log | tail -n 50",
		},
		{
			name: "level and context",
			args: map[string]any{
				"host": "web-1", "path": "/var/log/app.log", "pattern": "timeout",
				"level": "ERROR", "context": float64(2),
			},
			want: "grep -i -C 2 -E '(ERROR|error).*timeout|timeout.*(ERROR|error)' /var/log/app.log | tail -n 50",
		},
		{
			name: "since window tails first",
			args: map[string]any{
				"host": "web-1", "path": "/var/log/app.log", "pattern": "oom",
				"since": "10m", "max_results": float64(20),
			},
			want: "tail -n 1000 /var/log/app.log | grep -i 'oom' | tail -n 20",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &fakeExec{result: models.SuccessResult("a\n\nb\n")}
			tool := NewSearchTool(exec)
			res, err := tool.Execute(context.Background(), tc.args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got := exec.lastCommand(t); got != tc.want {
				t.Errorf("command = %q, want %q", got, tc.want)
			}
			if res.Metadata["match_count"] != 2 {
				t.Errorf("match_count = %v (blank lines must not count)", res.Metadata["match_count"])
			}
		})
	}
}

func TestEstimateLines(t *testing.T) {
	cases := []struct {
		since string
		want  int
	}{
		{"10m", 1000},
		{"2h", 12000},
		{"1d", 144000},
		{"30s", 50},
		{"yesterday", 5000},
		{"", 5000},
	}
	for _, tc := range cases {
		if got := estimateLines(tc.since); got != tc.want {
			t.Errorf("estimateLines(%q) = %d, want %d", tc.since, got, tc.want)
		}
	}
}

func TestDockerLogsCommand(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "defaults",
			args: map[string]any{"host": "web-1", "container": "api"},
			want: "docker logs --tail 100 'api' 2>&1",
		},
		{
			name: "since and grep",
			args: map[string]any{
				"host": "web-1", "container": "api",
				"tail": float64(200), "since": "1h", "grep": "error",
			},
			want: "docker logs --tail 200 --since '1h' 'api' 2>&1 | grep -i 'error'",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &fakeExec{result: models.SuccessResult("log line\n")}
			tool := NewDockerLogsTool(exec)
			res, err := tool.Execute(context.Background(), tc.args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got := exec.lastCommand(t); got != tc.want {
				t.Errorf("command = %q, want %q", got, tc.want)
			}
			if res.Metadata["container"] != "api" {
				t.Errorf("metadata = %v", res.Metadata)
			}
		})
	}
}

func TestSearchToolQuotesPattern(t *testing.T) {
	exec := &fakeExec{result: models.SuccessResult("")}
	tool := NewSearchTool(exec)
	_, err := tool.Execute(context.Background(), map[string]any{
		"host": "web-1", "path": "/var/log/app.log", "pattern": "it's broken",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := `grep -i 'it'\''s broken' /var/log/app.log | tail -n 50`
	if got := exec.lastCommand(t); got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestToolsPropagateExecErrors(t *testing.T) {
	exec := &fakeExec{err: errors.New("transport exploded")}
	tool := NewDockerLogsTool(exec)
	_, err := tool.Execute(context.Background(), map[string]any{"host": "h", "container": "c"})
	if err == nil || err.Error() != "transport exploded" {
		t.Errorf("err = %v", err)
	}
}
