// Package logs implements the log-reading tools: log_tail, log_search,
// and docker_logs. All three compose shell pipelines and hand them to
// the ssh_exec tool, so the policy engine sees every command they run.
package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mrtian2016/flowpilot/internal/timewin"
	"github.com/mrtian2016/flowpilot/internal/tools"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// CommandRunner is the slice of ssh_exec the log tools compose over:
// policy-checked remote execution keyed by host alias.
type CommandRunner interface {
	Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error)
}

// TailTool reads the last lines of a remote log file.
type TailTool struct {
	exec CommandRunner
}

func NewTailTool(exec CommandRunner) *TailTool {
	return &TailTool{exec: exec}
}

func (t *TailTool) Name() string { return "log_tail" }

func (t *TailTool) Description() string {
	return "Read the last N lines of a log file on a remote host, optionally filtered by a keyword."
}

func (t *TailTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"host": map[string]interface{}{
				"type":        "string",
				"description": "Host alias from the inventory",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Log file path, e.g. /var/log/nginx/error.log",
			},
			"lines": map[string]interface{}{
				"type":        "integer",
				"default":     50,
				"description": "Number of trailing lines (default 50)",
			},
			"grep": map[string]interface{}{
				"type":        "string",
				"description": "Optional keyword filter, case-insensitive",
			},
		},
		"required": []string{"host", "path"},
	})
}

func (t *TailTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Host  string `json:"host"`
		Path  string `json:"path"`
		Lines int    `json:"lines"`
		Grep  string `json:"grep"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if input.Host == "" || input.Path == "" {
		return models.ErrorResult("host and path are required"), nil
	}
	if input.Lines <= 0 {
		input.Lines = 50
	}

	var command string
	if input.Grep != "" {
		// over-read so the filter still yields the requested count
		command = fmt.Sprintf("tail -n %d %s | grep -i %s | tail -n %d",
			input.Lines*2, input.Path, tools.ShellQuote(input.Grep), input.Lines)
	} else {
		command = fmt.Sprintf("tail -n %d %s", input.Lines, input.Path)
	}

	res, err := t.exec.Execute(ctx, map[string]any{"host": input.Host, "command": command})
	if err != nil || res == nil {
		return res, err
	}
	if res.Status == models.ToolSuccess {
		ensureMetadata(res)
		res.Metadata["line_count"] = countLines(res.Output)
		res.Metadata["path"] = input.Path
		if input.Grep != "" {
			res.Metadata["grep"] = input.Grep
		}
	}
	return res, nil
}

// SearchTool greps a remote log file with optional level and time
// filters.
type SearchTool struct {
	exec CommandRunner
}

func NewSearchTool(exec CommandRunner) *SearchTool {
	return &SearchTool{exec: exec}
}

func (t *SearchTool) Name() string { return "log_search" }

func (t *SearchTool) Description() string {
	return "Search a remote log file by pattern (regular expressions supported), with optional log-level filter, time window, and context lines."
}

func (t *SearchTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"host": map[string]interface{}{
				"type":        "string",
				"description": "Host alias from the inventory",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Log file path or glob, e.g. /var/log/*.log",
			},
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Search pattern, regular expressions supported",
			},
			"level": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"ERROR", "WARN", "INFO", "DEBUG"},
				"description": "Optional log-level filter",
			},
			"since": map[string]interface{}{
				"type":        "string",
				"description": "Time window such as 10m, 1h, or 1d",
			},
			"context": map[string]interface{}{
				"type":        "integer",
				"default":     0,
				"description": "Context lines around each match",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"default":     50,
				"description": "Maximum matches to return",
			},
		},
		"required": []string{"host", "path", "pattern"},
	})
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Host       string `json:"host"`
		Path       string `json:"path"`
		Pattern    string `json:"pattern"`
		Level      string `json:"level"`
		Since      string `json:"since"`
		Context    int    `json:"context"`
		MaxResults int    `json:"max_results"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if input.Host == "" || input.Path == "" || input.Pattern == "" {
		return models.ErrorResult("host, path, and pattern are required"), nil
	}
	if input.MaxResults <= 0 {
		input.MaxResults = 50
	}

	grepOpts := []string{"-i"}
	if input.Context > 0 {
		grepOpts = append(grepOpts, fmt.Sprintf("-C %d", input.Context))
	}
	searchPattern := input.Pattern
	if input.Level != "" {
		upper, lower := input.Level, strings.ToLower(input.Level)
		searchPattern = fmt.Sprintf("(%s|%s).*%s|%s.*(%s|%s)",
			upper, lower, input.Pattern, input.Pattern, upper, lower)
		grepOpts = append(grepOpts, "-E")
	}
	grepCmd := fmt.Sprintf("grep %s %s", strings.Join(grepOpts, " "), tools.ShellQuote(searchPattern))

	var command string
	if input.Since != "" {
		command = fmt.Sprintf("tail -n %d %s | %s | tail -n %d",
			estimateLines(input.Since), input.Path, grepCmd, input.MaxResults)
	} else {
		command = fmt.Sprintf("%s %s | tail -n %d", grepCmd, input.Path, input.MaxResults)
	}

	res, err := t.exec.Execute(ctx, map[string]any{"host": input.Host, "command": command})
	if err != nil || res == nil {
		return res, err
	}
	if res.Status == models.ToolSuccess {
		ensureMetadata(res)
		res.Metadata["match_count"] = countNonBlankLines(res.Output)
		res.Metadata["pattern"] = input.Pattern
		if input.Level != "" {
			res.Metadata["level"] = input.Level
		}
		if input.Since != "" {
			res.Metadata["since"] = input.Since
		}
	}
	return res, nil
}

// estimateLines sizes a tail window for a time range, assuming about
// 100 log lines per minute. Unparsable ranges fall back to 5000.
func estimateLines(since string) int {
	d, err := timewin.ParseWindow(since)
	if err != nil {
		return 5000
	}
	lines := int(d.Minutes() * 100)
	if lines <= 0 {
		return 5000
	}
	return lines
}

// DockerLogsTool reads container logs on a remote host.
type DockerLogsTool struct {
	exec CommandRunner
}

func NewDockerLogsTool(exec CommandRunner) *DockerLogsTool {
	return &DockerLogsTool{exec: exec}
}

func (t *DockerLogsTool) Name() string { return "docker_logs" }

func (t *DockerLogsTool) Description() string {
	return "Read the logs of a Docker container on a remote host."
}

func (t *DockerLogsTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"host": map[string]interface{}{
				"type":        "string",
				"description": "Host alias from the inventory",
			},
			"container": map[string]interface{}{
				"type":        "string",
				"description": "Container name or ID",
			},
			"tail": map[string]interface{}{
				"type":        "integer",
				"default":     100,
				"description": "Number of trailing lines (default 100)",
			},
			"since": map[string]interface{}{
				"type":        "string",
				"description": "Time range such as 10m, 1h, or a timestamp",
			},
			"grep": map[string]interface{}{
				"type":        "string",
				"description": "Optional keyword filter, case-insensitive",
			},
		},
		"required": []string{"host", "container"},
	})
}

func (t *DockerLogsTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Host      string `json:"host"`
		Container string `json:"container"`
		Tail      int    `json:"tail"`
		Since     string `json:"since"`
		Grep      string `json:"grep"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if input.Host == "" || input.Container == "" {
		return models.ErrorResult("host and container are required"), nil
	}
	if input.Tail <= 0 {
		input.Tail = 100
	}

	opts := []string{fmt.Sprintf("--tail %d", input.Tail)}
	if input.Since != "" {
		opts = append(opts, "--since "+tools.ShellQuote(input.Since))
	}
	command := fmt.Sprintf("docker logs %s %s 2>&1",
		strings.Join(opts, " "), tools.ShellQuote(input.Container))
	if input.Grep != "" {
		command += " | grep -i " + tools.ShellQuote(input.Grep)
	}

	res, err := t.exec.Execute(ctx, map[string]any{"host": input.Host, "command": command})
	if err != nil || res == nil {
		return res, err
	}
	if res.Status == models.ToolSuccess {
		ensureMetadata(res)
		res.Metadata["container"] = input.Container
		res.Metadata["tail"] = input.Tail
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

func ensureMetadata(res *models.ToolResult) {
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
}

func countLines(output string) int {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, "\n") + 1
}

func countNonBlankLines(output string) int {
	count := 0
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}
