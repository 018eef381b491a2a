package agent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mrtian2016/flowpilot/internal/audit"
	"github.com/mrtian2016/flowpilot/internal/tools"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// ConfirmTokenArg is the reserved argument key a re-invocation uses to
// carry a confirmation token. It is stripped from arguments before
// they are audit-logged so tokens never land in storage.
const ConfirmTokenArg = models.ConfirmTokenArg

// DefaultToolTimeout bounds a single tool execution unless the
// executor is configured otherwise.
const DefaultToolTimeout = 60 * time.Second

var errCancelled = errors.New("cancelled")

// Executor runs model-emitted tool calls against the registry and
// records every attempt in the audit store. Audit failures are logged
// and swallowed; they never fail a tool call.
type Executor struct {
	registry  *Registry
	store     *audit.Store
	timeout   time.Duration
	logger    *slog.Logger
	validator *tools.SchemaValidator
}

// NewExecutor wires an executor. store may be nil, which disables
// auditing (useful in tests); timeout zero selects the default.
func NewExecutor(registry *Registry, store *audit.Store, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:  registry,
		store:     store,
		timeout:   timeout,
		logger:    logger,
		validator: tools.NewSchemaValidator(),
	}
}

// ToolExecResult pairs one tool call with its structured result and
// the plain-string form that goes back into the conversation.
type ToolExecResult struct {
	ToolUseID string
	CallID    string
	ToolName  string
	Result    *models.ToolResult
	Content   string
}

// ExecuteCalls runs the calls sequentially in the order given and
// returns one result per call, same order. A missing tool or a failed
// execution becomes an error result; it never aborts the batch.
func (e *Executor) ExecuteCalls(ctx context.Context, sessionID string, calls []models.ToolCall) []ToolExecResult {
	results := make([]ToolExecResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.executeOne(ctx, sessionID, call))
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, sessionID string, call models.ToolCall) ToolExecResult {
	toolUseID := call.ID
	if toolUseID == "" {
		toolUseID = randomHex(8)
	}
	callID := "call_" + randomHex(8)

	e.auditAdd(ctx, callID, sessionID, call.Name, auditableArgs(call.Arguments))

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		msg := fmt.Sprintf("Tool `%s` not found", call.Name)
		res := models.ErrorResult(msg)
		e.auditUpdate(ctx, callID, e.buildPatch(res, time.Now(), 0))
		return ToolExecResult{ToolUseID: toolUseID, CallID: callID, ToolName: call.Name, Result: res, Content: msg}
	}

	if err := e.validator.Validate(call.Name, tool.Schema(), call.Arguments); err != nil {
		res := models.ErrorResult(err.Error())
		e.auditUpdate(ctx, callID, e.buildPatch(res, time.Now(), 0))
		return ToolExecResult{ToolUseID: toolUseID, CallID: callID, ToolName: call.Name, Result: res, Content: res.Error}
	}

	start := time.Now()
	res, err := e.executeWithTimeout(ctx, tool, call.Arguments)
	elapsed := time.Since(start)

	switch {
	case err != nil && errors.Is(err, errCancelled):
		res = models.ErrorResult("cancelled")
	case err != nil:
		res = models.ErrorResult(err.Error())
	case res == nil:
		res = models.ErrorResult("Tool execution failed: tool returned no result")
	}
	if res.DurationSec == 0 {
		res.DurationSec = elapsed.Seconds()
	}

	e.auditUpdate(ctx, callID, e.buildPatch(res, start, elapsed))

	return ToolExecResult{
		ToolUseID: toolUseID,
		CallID:    callID,
		ToolName:  call.Name,
		Result:    res,
		Content:   FormatResult(res),
	}
}

// executeWithTimeout runs one tool under the per-call deadline. The
// goroutine uses a non-blocking send so a slow tool cannot leak after
// its result has been abandoned.
func (e *Executor) executeWithTimeout(ctx context.Context, tool Tool, args map[string]any) (*models.ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type execResult struct {
		result *models.ToolResult
		err    error
	}
	resultChan := make(chan execResult, 1)

	go func() {
		result, err := tool.Execute(execCtx, args)
		select {
		case resultChan <- execResult{result: result, err: err}:
		default:
			e.logger.Warn("tool execution completed after timeout, result discarded",
				"tool", tool.Name())
		}
	}()

	select {
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("tool execution timed out after %v", e.timeout)
		}
		return nil, errCancelled
	case res := <-resultChan:
		if res.err != nil {
			return nil, fmt.Errorf("Tool execution failed: %w", res.err)
		}
		return res.result, nil
	}
}

// buildPatch maps a tool result onto the audit columns, lifting the
// reserved policy metadata keys out of the blob.
func (e *Executor) buildPatch(res *models.ToolResult, start time.Time, elapsed time.Duration) audit.CallPatch {
	end := start.Add(elapsed)
	duration := res.DurationSec

	patch := audit.CallPatch{
		Status:         callStatusFor(res.Status),
		ExitCode:       res.ExitCode,
		ExecutionStart: &start,
		ExecutionEnd:   &end,
		DurationSec:    &duration,
	}
	if res.Output != "" {
		out := res.Output
		patch.StdoutSummary = &out
	}
	if res.Error != "" {
		stderr := res.Error
		patch.Stderr = &stderr
	}

	if len(res.Metadata) > 0 {
		meta := make(map[string]any, len(res.Metadata))
		for k, v := range res.Metadata {
			meta[k] = v
		}
		if rule, ok := meta[models.MetaPolicyTriggered].(string); ok {
			patch.PolicyTriggered = &rule
			delete(meta, models.MetaPolicyTriggered)
		}
		if effect, ok := meta[models.MetaPolicyEffect].(string); ok {
			patch.PolicyEffect = &effect
			delete(meta, models.MetaPolicyEffect)
		}
		if confirmed, ok := meta[models.MetaUserConfirmed].(bool); ok {
			delete(meta, models.MetaUserConfirmed)
			if confirmed {
				now := time.Now().UTC()
				patch.UserConfirmed = &confirmed
				patch.ConfirmTime = &now
			}
		}
		if len(meta) > 0 {
			patch.Metadata = meta
		}
	}
	return patch
}

func callStatusFor(s models.ToolStatus) *models.CallStatus {
	var status models.CallStatus
	switch s {
	case models.ToolSuccess:
		status = models.CallSuccess
	case models.ToolPendingConfirm:
		status = models.CallPendingConfirm
	default:
		status = models.CallError
	}
	return &status
}

// FormatResult renders a tool result into the plain string the model
// reads on the next turn.
func FormatResult(res *models.ToolResult) string {
	switch res.Status {
	case models.ToolSuccess:
		out := res.Output
		if strings.TrimSpace(res.Error) != "" {
			out += "\n\nstderr:\n" + res.Error
		}
		return out
	case models.ToolPendingConfirm:
		return formatPending(res)
	default:
		if res.Error != "" {
			return res.Error
		}
		if res.Output != "" {
			return res.Output
		}
		return "(no output)"
	}
}

// previewKeyOrder is the presentation order for well-known preview
// keys; anything else follows alphabetically.
var previewKeyOrder = []string{
	"host_info", "hosts", "host_count", "command",
	"action_type", "env", "risk_level", "message",
}

func formatPending(res *models.ToolResult) string {
	var b strings.Builder
	b.WriteString("⚠️  Confirmation required:\n")

	seen := make(map[string]bool, len(res.Preview))
	for _, key := range previewKeyOrder {
		if v, ok := res.Preview[key]; ok {
			fmt.Fprintf(&b, "  %s: %v\n", key, v)
			seen[key] = true
		}
	}
	rest := make([]string, 0, len(res.Preview))
	for key := range res.Preview {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		fmt.Fprintf(&b, "  %s: %v\n", key, res.Preview[key])
	}

	fmt.Fprintf(&b, "\nConfirm token: %s\n", res.ConfirmToken)
	fmt.Fprintf(&b, "Re-invoke the tool with %s set to this token once the user approves.", ConfirmTokenArg)
	return b.String()
}

// auditableArgs clones the call arguments without the reserved
// confirm-token key.
func auditableArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == ConfirmTokenArg {
			continue
		}
		out[k] = v
	}
	return out
}

// Audit writes run on a detached context: a cancelled session must
// still leave its "cancelled" row behind.
func (e *Executor) auditAdd(ctx context.Context, callID, sessionID, toolName string, args map[string]any) {
	if e.store == nil {
		return
	}
	if err := e.store.AddToolCall(context.WithoutCancel(ctx), callID, sessionID, toolName, args); err != nil {
		e.logger.Warn("audit write failed", "call_id", callID, "error", err)
	}
}

func (e *Executor) auditUpdate(ctx context.Context, callID string, patch audit.CallPatch) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateToolCall(context.WithoutCancel(ctx), callID, patch); err != nil {
		e.logger.Warn("audit write failed", "call_id", callID, "error", err)
	}
}

func randomHex(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("agent: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
