package ssh

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/internal/policy"
	"github.com/mrtian2016/flowpilot/internal/tools"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// ExecTool runs one shell command on one inventory host.
type ExecTool struct {
	gate     *tools.Gatekeeper
	resolver *inventory.Resolver
	runner   *Runner
}

func NewExecTool(gate *tools.Gatekeeper, resolver *inventory.Resolver, runner *Runner) *ExecTool {
	return &ExecTool{gate: gate, resolver: resolver, runner: runner}
}

func (t *ExecTool) Name() string { return "ssh_exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command on a remote host over SSH. The host is an inventory alias; a configured jump host is used automatically. Write and destructive commands may require user confirmation first."
}

func (t *ExecTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"host": map[string]interface{}{
				"type":        "string",
				"description": "Host alias from the inventory, e.g. web-1 or prod-api-3",
			},
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to run",
			},
			"env": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"dev", "staging", "prod"},
				"description": "Environment override; defaults to the host's configured env",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Command timeout in seconds (default 30)",
			},
			models.ConfirmTokenArg: map[string]interface{}{
				"type":        "string",
				"description": "Confirmation token from a previous pending_confirm result",
			},
		},
		"required": []string{"host", "command"},
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Host         string `json:"host"`
		Command      string `json:"command"`
		Env          string `json:"env"`
		Timeout      int    `json:"timeout"`
		ConfirmToken string `json:"_confirm_token"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if strings.TrimSpace(input.Host) == "" || strings.TrimSpace(input.Command) == "" {
		return models.ErrorResult("host and command are required"), nil
	}

	host, err := t.resolver.ResolveHost(ctx, input.Host)
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("Host %q is not in the inventory. Check the configured hosts before retrying.", input.Host)), nil
	}

	env := input.Env
	if env == "" {
		env = host.Env
	}
	action := policy.Classify(input.Command)
	decision := t.gate.Check(t.Name(), map[string]any{
		"host":    input.Host,
		"command": input.Command,
		"env":     env,
	}, env, action)

	outcome := t.gate.Gate(decision, input.ConfirmToken, func() map[string]any {
		return map[string]any{
			"host_info":   fmt.Sprintf("%s (%s)", host.Name, host.Addr),
			"command":     input.Command,
			"action_type": string(action),
			"env":         env,
			"risk_level":  string(decision.RiskLevel),
			"message":     decision.Message,
		}
	})
	if outcome.Blocked != nil {
		return outcome.Blocked, nil
	}

	start := time.Now()
	res, err := t.runner.Run(ctx, host, input.Command, time.Duration(input.Timeout)*time.Second)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		out := models.ErrorResult(err.Error())
		out.DurationSec = elapsed
		out.Metadata = tools.PolicyMeta(decision, outcome.Confirmed)
		return out, nil
	}

	meta := tools.PolicyMeta(decision, outcome.Confirmed)
	meta["host"] = host.Name
	meta["resolved_addr"] = host.Addr
	meta["user"] = host.User
	if host.Jump != "" {
		meta["jump_used"] = host.Jump
	}

	out := &models.ToolResult{
		Output:      res.Stdout,
		Error:       res.Stderr,
		ExitCode:    &res.ExitCode,
		DurationSec: elapsed,
		Metadata:    meta,
	}
	if res.ExitCode == 0 {
		out.Status = models.ToolSuccess
	} else {
		out.Status = models.ToolError
		if strings.TrimSpace(out.Error) == "" {
			out.Error = fmt.Sprintf("command failed with exit code %d", res.ExitCode)
		}
	}
	return out, nil
}
