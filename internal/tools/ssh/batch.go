package ssh

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/internal/policy"
	"github.com/mrtian2016/flowpilot/internal/tools"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// batchFanout caps concurrent SSH connections during a batch run.
const batchFanout = 8

// BatchTool runs one command across several hosts. The policy gate
// fires once for the whole batch; per-host runs then go straight to
// the transport so a consumed token is never re-checked.
type BatchTool struct {
	gate     *tools.Gatekeeper
	resolver *inventory.Resolver
	runner   *Runner
}

func NewBatchTool(gate *tools.Gatekeeper, resolver *inventory.Resolver, runner *Runner) *BatchTool {
	return &BatchTool{gate: gate, resolver: resolver, runner: runner}
}

func (t *BatchTool) Name() string { return "ssh_exec_batch" }

func (t *BatchTool) Description() string {
	return "Execute the same shell command on multiple hosts. Results preserve the order of the input host list. Use for fleet-wide checks such as disk usage or service status."
}

func (t *BatchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"hosts": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Host aliases from the inventory",
			},
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to run on every host",
			},
			"parallel": map[string]interface{}{
				"type":        "boolean",
				"description": "Run hosts concurrently (default true)",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Per-host command timeout in seconds (default 30)",
			},
			models.ConfirmTokenArg: map[string]interface{}{
				"type":        "string",
				"description": "Confirmation token from a previous pending_confirm result",
			},
		},
		"required": []string{"hosts", "command"},
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

// hostOutcome is one host's contribution to the aggregated output.
type hostOutcome struct {
	host string
	line string
	ok   bool
	exit *int
}

func (t *BatchTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Hosts        []string `json:"hosts"`
		Command      string   `json:"command"`
		Parallel     *bool    `json:"parallel"`
		Timeout      int      `json:"timeout"`
		ConfirmToken string   `json:"_confirm_token"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if len(input.Hosts) == 0 || strings.TrimSpace(input.Command) == "" {
		return models.ErrorResult("hosts and command are required"), nil
	}

	action := policy.Classify(input.Command)
	decision := t.gate.Check(t.Name(), map[string]any{
		"hosts":   input.Hosts,
		"command": input.Command,
	}, "", action)

	outcome := t.gate.Gate(decision, input.ConfirmToken, func() map[string]any {
		return map[string]any{
			"host_count": len(input.Hosts),
			"hosts":      strings.Join(input.Hosts, ", "),
			"command":    input.Command,
			"message":    decision.Message,
		}
	})
	if outcome.Blocked != nil {
		return outcome.Blocked, nil
	}

	timeout := time.Duration(input.Timeout) * time.Second
	parallel := input.Parallel == nil || *input.Parallel

	start := time.Now()
	results := make([]hostOutcome, len(input.Hosts))
	if parallel && len(input.Hosts) > 1 {
		sem := make(chan struct{}, batchFanout)
		var wg sync.WaitGroup
		for i, alias := range input.Hosts {
			wg.Add(1)
			go func(i int, alias string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[i] = t.runOne(ctx, alias, input.Command, timeout)
			}(i, alias)
		}
		wg.Wait()
	} else {
		for i, alias := range input.Hosts {
			results[i] = t.runOne(ctx, alias, input.Command, timeout)
		}
	}

	lines := make([]string, 0, len(results))
	perHost := make([]map[string]any, 0, len(results))
	succeeded := 0
	for _, r := range results {
		lines = append(lines, r.line)
		entry := map[string]any{"host": r.host, "status": "error"}
		if r.ok {
			entry["status"] = "success"
			succeeded++
		}
		if r.exit != nil {
			entry["exit_code"] = *r.exit
		}
		perHost = append(perHost, entry)
	}

	meta := tools.PolicyMeta(decision, outcome.Confirmed)
	meta["total"] = len(results)
	meta["success"] = succeeded
	meta["error"] = len(results) - succeeded
	meta["results"] = perHost

	out := &models.ToolResult{
		Output:      strings.Join(lines, "\n"),
		DurationSec: time.Since(start).Seconds(),
		Metadata:    meta,
	}
	if succeeded == len(results) {
		out.Status = models.ToolSuccess
	} else {
		out.Status = models.ToolError
		out.Error = fmt.Sprintf("%d of %d hosts failed", len(results)-succeeded, len(results))
	}
	return out, nil
}

func (t *BatchTool) runOne(ctx context.Context, alias, command string, timeout time.Duration) hostOutcome {
	host, err := t.resolver.ResolveHost(ctx, alias)
	if err != nil {
		return hostOutcome{host: alias, line: fmt.Sprintf("❌ %s: host not found in inventory", alias)}
	}
	res, err := t.runner.Run(ctx, host, command, timeout)
	if err != nil {
		return hostOutcome{host: alias, line: fmt.Sprintf("❌ %s: %v", alias, err)}
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		return hostOutcome{host: alias, line: fmt.Sprintf("❌ %s: %s", alias, msg), exit: &res.ExitCode}
	}
	output := strings.TrimRight(res.Stdout, "\n")
	line := fmt.Sprintf("✅ %s: %s", alias, output)
	if output == "" {
		line = fmt.Sprintf("✅ %s: (no output)", alias)
	} else if strings.Contains(output, "\n") {
		line = fmt.Sprintf("✅ %s:\n%s", alias, output)
	}
	return hostOutcome{host: alias, line: line, ok: true, exit: &res.ExitCode}
}
