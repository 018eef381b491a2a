// Package git implements the repository inspection tools: git_status,
// git_log, and git_diff. Each works on a local checkout or, when a
// host is given, on a remote one through the ssh_exec tool.
package git

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mrtian2016/flowpilot/internal/tools"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// CommandRunner is the policy-checked remote executor the git tools
// use when a host argument is present.
type CommandRunner interface {
	Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error)
}

// localRunner executes a command on the operator machine.
type localRunner func(ctx context.Context, command string) (*models.ToolResult, error)

func runRepo(ctx context.Context, remote CommandRunner, local localRunner, host, command string) (*models.ToolResult, error) {
	if host != "" {
		if remote == nil {
			return models.ErrorResult("no SSH executor is configured for remote repositories"), nil
		}
		return remote.Execute(ctx, map[string]any{"host": host, "command": command})
	}
	return local(ctx, command)
}

// StatusTool shows working-tree state and branches.
type StatusTool struct {
	remote CommandRunner
	local  localRunner
}

func NewStatusTool(remote CommandRunner) *StatusTool {
	return &StatusTool{remote: remote, local: RunLocal}
}

func (t *StatusTool) Name() string { return "git_status" }

func (t *StatusTool) Description() string {
	return "Show the status of a git repository, local or on a remote host."
}

func (t *StatusTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Repository path",
			},
			"host": map[string]interface{}{
				"type":        "string",
				"description": "Remote host alias; omit for a local repository",
			},
		},
		"required": []string{"path"},
	})
}

func (t *StatusTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
		Host string `json:"host"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if input.Path == "" {
		return models.ErrorResult("path is required"), nil
	}

	command := fmt.Sprintf("cd %s && git status --short && echo '---' && git branch -v",
		tools.ShellQuote(input.Path))
	return runRepo(ctx, t.remote, t.local, input.Host, command)
}

// LogTool shows recent commits.
type LogTool struct {
	remote CommandRunner
	local  localRunner
}

func NewLogTool(remote CommandRunner) *LogTool {
	return &LogTool{remote: remote, local: RunLocal}
}

func (t *LogTool) Name() string { return "git_log" }

func (t *LogTool) Description() string {
	return "Show recent commits of a git repository, local or on a remote host."
}

func (t *LogTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Repository path",
			},
			"count": map[string]interface{}{
				"type":        "integer",
				"default":     10,
				"description": "Number of commits to show (default 10)",
			},
			"branch": map[string]interface{}{
				"type":        "string",
				"description": "Branch name; defaults to the checked-out branch",
			},
			"oneline": map[string]interface{}{
				"type":        "boolean",
				"default":     true,
				"description": "One line per commit",
			},
			"host": map[string]interface{}{
				"type":        "string",
				"description": "Remote host alias; omit for a local repository",
			},
		},
		"required": []string{"path"},
	})
}

func (t *LogTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Count   int    `json:"count"`
		Branch  string `json:"branch"`
		Oneline *bool  `json:"oneline"`
		Host    string `json:"host"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if input.Path == "" {
		return models.ErrorResult("path is required"), nil
	}
	if input.Count <= 0 {
		input.Count = 10
	}

	format := "--oneline"
	if input.Oneline != nil && !*input.Oneline {
		format = "--pretty=format:'%h %s (%an, %ar)'"
	}
	command := fmt.Sprintf("cd %s && git log -%d %s", tools.ShellQuote(input.Path), input.Count, format)
	if input.Branch != "" {
		command += " " + tools.ShellQuote(input.Branch)
	}
	return runRepo(ctx, t.remote, t.local, input.Host, command)
}

// DiffTool shows working-tree or staged changes.
type DiffTool struct {
	remote CommandRunner
	local  localRunner
}

func NewDiffTool(remote CommandRunner) *DiffTool {
	return &DiffTool{remote: remote, local: RunLocal}
}

func (t *DiffTool) Name() string { return "git_diff" }

func (t *DiffTool) Description() string {
	return "Show uncommitted changes in a git repository, local or on a remote host. Output is capped at 100 lines."
}

func (t *DiffTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Repository path",
			},
			"file": map[string]interface{}{
				"type":        "string",
				"description": "Limit the diff to one file",
			},
			"staged": map[string]interface{}{
				"type":        "boolean",
				"default":     false,
				"description": "Show staged changes instead of the working tree",
			},
			"host": map[string]interface{}{
				"type":        "string",
				"description": "Remote host alias; omit for a local repository",
			},
		},
		"required": []string{"path"},
	})
}

func (t *DiffTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Path   string `json:"path"`
		File   string `json:"file"`
		Staged bool   `json:"staged"`
		Host   string `json:"host"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if input.Path == "" {
		return models.ErrorResult("path is required"), nil
	}

	parts := []string{"git diff"}
	if input.Staged {
		parts = append(parts, "--staged")
	}
	if input.File != "" {
		parts = append(parts, tools.ShellQuote(input.File))
	}
	command := fmt.Sprintf("cd %s && %s | head -100",
		tools.ShellQuote(input.Path), strings.Join(parts, " "))

	res, err := runRepo(ctx, t.remote, t.local, input.Host, command)
	if err != nil || res == nil {
		return res, err
	}
	if res.Status == models.ToolSuccess && strings.TrimSpace(res.Output) == "" {
		res.Output = "(no changes)"
	}
	return res, nil
}

func marshalSchema(schema map[string]interface{}) json.RawMessage {
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
