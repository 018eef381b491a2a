package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrtian2016/flowpilot/internal/audit"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// Iteration bounds for the agent loop. Callers may tune below the
// hard cap; anything above it is clamped.
const (
	DefaultMaxIterations = 10
	HardMaxIterations    = 20
)

// capNoticeFmt is appended to the final content when the loop exits
// by iteration cap instead of a model turn without tool calls.
const capNoticeFmt = "\n\n⚠️  Reached the iteration cap (%d) before the task settled."

// Provider is the chat surface the loop drives. Implementations live
// in the providers package, one per vendor.
type Provider interface {
	// Name returns the routing name of the provider.
	Name() string

	// Chat sends the conversation and tool catalog, returning a
	// normalized response. When the returned ToolCalls is non-empty
	// StopReason must be tool_use.
	Chat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (*models.ProviderResponse, error)
}

// LoopEvents lets a caller observe the loop as it runs. All fields
// are optional.
type LoopEvents struct {
	OnIteration  func(iteration int)
	OnAssistant  func(resp *models.ProviderResponse)
	OnToolResult func(result ToolExecResult)
}

// LoopOptions wires one agent loop instance.
type LoopOptions struct {
	Provider Provider
	Registry *Registry
	Executor *Executor
	Store    *audit.Store
	Logger   *slog.Logger

	// MaxIterations bounds model turns per Run. Zero selects the
	// default; values above the hard cap are clamped.
	MaxIterations int

	// SystemPrompt overrides the built-in operations prompt.
	SystemPrompt string

	// InputMode is recorded on the audit session ("cli", "api", ...).
	InputMode string

	Events LoopEvents
}

// Loop is the model-call / tool-execution cycle. Within one Run it is
// strictly sequential; distinct Runs are independent and may proceed
// concurrently on separate Loop values.
type Loop struct {
	provider      Provider
	registry      *Registry
	executor      *Executor
	store         *audit.Store
	logger        *slog.Logger
	maxIterations int
	systemPrompt  string
	inputMode     string
	events        LoopEvents
}

// NewLoop validates and assembles a loop.
func NewLoop(opts LoopOptions) (*Loop, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("loop requires a provider")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("loop requires a tool registry")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("loop requires an executor")
	}
	max := opts.MaxIterations
	if max <= 0 {
		max = DefaultMaxIterations
	}
	if max > HardMaxIterations {
		max = HardMaxIterations
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inputMode := opts.InputMode
	if inputMode == "" {
		inputMode = "cli"
	}
	return &Loop{
		provider:      opts.Provider,
		registry:      opts.Registry,
		executor:      opts.Executor,
		store:         opts.Store,
		logger:        logger,
		maxIterations: max,
		systemPrompt:  opts.SystemPrompt,
		inputMode:     inputMode,
		events:        opts.Events,
	}, nil
}

// LoopResult is the single object a Run surfaces. Tool errors, policy
// decisions, and vendor failures are all folded into the Response or
// the summary flags; Run itself only errors on misuse.
type LoopResult struct {
	Response   *models.ProviderResponse
	SessionID  string
	Iterations int
	Usage      models.Usage

	// Capped mirrors Response.Capped for callers that drop the response.
	Capped bool

	// Cancelled is set when the enclosing context ended the run.
	Cancelled bool

	// PolicyDenied records that at least one tool call was denied.
	PolicyDenied bool

	// ToolFailures counts tool results that ended in error for reasons
	// other than a policy deny.
	ToolFailures int
}

// ExitCode maps the outcome onto the CLI contract: 130 cancelled,
// 1 provider failure, 4 iteration cap, 2 policy deny, 3 tool failure,
// 0 success. Earlier conditions win.
func (r *LoopResult) ExitCode() int {
	switch {
	case r.Cancelled:
		return 130
	case r.Response != nil && r.Response.StopReason == models.StopReasonError:
		return 1
	case r.Capped:
		return 4
	case r.PolicyDenied:
		return 2
	case r.ToolFailures > 0:
		return 3
	default:
		return 0
	}
}

// NewSessionID mints the session identifier used when the caller does
// not supply one.
func NewSessionID() string {
	return fmt.Sprintf("sess_%d_%s", time.Now().Unix(), randomHex(4))
}

// Run drives the loop for one user prompt until the model stops
// requesting tools, the iteration cap is reached, or the context is
// cancelled. An empty sessionID mints a fresh one.
func (l *Loop) Run(ctx context.Context, sessionID, prompt string) (*LoopResult, error) {
	conv := NewConversation(l.systemPrompt)
	conv.AddUser(prompt)
	return l.run(ctx, sessionID, prompt, conv)
}

// RunSeeded drives the loop over a caller-supplied history instead of
// a single prompt. A system turn in the history replaces the loop's
// prompt; the last plain user turn is what the audit session records
// as input.
func (l *Loop) RunSeeded(ctx context.Context, sessionID string, history []models.Message) (*LoopResult, error) {
	conv := NewConversation(l.systemPrompt)
	var input string
	for _, m := range history {
		if m.Role == models.RoleSystem {
			conv.SetSystem(m.Content)
			continue
		}
		if m.Role == models.RoleUser && m.Content != "" && len(m.Blocks) == 0 {
			input = m.Content
		}
		conv.AddMessage(m)
	}
	return l.run(ctx, sessionID, input, conv)
}

func (l *Loop) run(ctx context.Context, sessionID, input string, conv *Conversation) (*LoopResult, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	l.auditCreate(ctx, sessionID, input)

	result := &LoopResult{SessionID: sessionID}
	start := time.Now()

	var last *models.ProviderResponse
	for i := 1; i <= l.maxIterations; i++ {
		result.Iterations = i
		if l.events.OnIteration != nil {
			l.events.OnIteration(i)
		}

		resp, err := l.provider.Chat(ctx, conv.Messages(), l.registry.Definitions())
		if err != nil {
			if ctx.Err() != nil {
				return l.finishCancelled(ctx, result, start), nil
			}
			return l.finishFailed(ctx, result, start, err), nil
		}
		last = resp
		result.Usage.Add(resp.Usage)
		if l.events.OnAssistant != nil {
			l.events.OnAssistant(resp)
		}

		if len(resp.ToolCalls) == 0 {
			resp.Usage = result.Usage
			result.Response = resp
			l.finishCompleted(ctx, result, start, resp.Content)
			return result, nil
		}

		conv.AddAssistant(resp.Content, resp.ToolCalls)

		execResults := l.executor.ExecuteCalls(ctx, sessionID, resp.ToolCalls)
		blocks := make([]models.ToolResultBlock, 0, len(execResults))
		for _, er := range execResults {
			if l.events.OnToolResult != nil {
				l.events.OnToolResult(er)
			}
			l.tally(result, er)
			blocks = append(blocks, models.ToolResultBlock{
				ToolUseID: er.ToolUseID,
				Content:   er.Content,
				IsError:   er.Result.IsError(),
			})
		}
		conv.AddToolResults(blocks)

		if ctx.Err() != nil {
			return l.finishCancelled(ctx, result, start), nil
		}
	}

	// Iteration cap: hand back the last response with a notice, the
	// unexecuted tool calls still visible, and cumulative usage.
	last.Content += fmt.Sprintf(capNoticeFmt, l.maxIterations)
	last.Usage = result.Usage
	last.Capped = true
	result.Response = last
	result.Capped = true
	l.finishCompleted(ctx, result, start, last.Content)
	return result, nil
}

func (l *Loop) tally(result *LoopResult, er ToolExecResult) {
	if er.Result == nil {
		return
	}
	if effect, ok := er.Result.Metadata[models.MetaPolicyEffect].(string); ok && effect == "deny" {
		result.PolicyDenied = true
		return
	}
	if er.Result.IsError() {
		result.ToolFailures++
	}
}

func (l *Loop) finishCompleted(ctx context.Context, result *LoopResult, start time.Time, finalOutput string) {
	l.auditFinish(ctx, result, start, models.SessionCompleted, finalOutput)
}

func (l *Loop) finishFailed(ctx context.Context, result *LoopResult, start time.Time, cause error) *LoopResult {
	msg := fmt.Sprintf("provider %s failed: %v", l.provider.Name(), cause)
	result.Response = &models.ProviderResponse{
		Content:    msg,
		Usage:      result.Usage,
		StopReason: models.StopReasonError,
	}
	l.logger.Error("agent loop aborted by provider failure", "session_id", result.SessionID, "error", cause)
	l.auditFinish(ctx, result, start, models.SessionFailed, msg)
	return result
}

func (l *Loop) finishCancelled(ctx context.Context, result *LoopResult, start time.Time) *LoopResult {
	result.Cancelled = true
	result.Response = &models.ProviderResponse{
		Content:    "cancelled",
		Usage:      result.Usage,
		StopReason: models.StopReasonError,
	}
	l.auditFinish(ctx, result, start, models.SessionCancelled, "cancelled")
	return result
}

func (l *Loop) auditCreate(ctx context.Context, sessionID, prompt string) {
	if l.store == nil {
		return
	}
	if err := l.store.CreateSession(context.WithoutCancel(ctx), sessionID, prompt, l.inputMode); err != nil {
		l.logger.Warn("audit write failed", "session_id", sessionID, "error", err)
	}
}

func (l *Loop) auditFinish(ctx context.Context, result *LoopResult, start time.Time, status models.SessionStatus, finalOutput string) {
	if l.store == nil {
		return
	}
	provider := l.provider.Name()
	duration := time.Since(start).Seconds()
	patch := audit.SessionPatch{
		Status:       &status,
		FinalOutput:  &finalOutput,
		Provider:     &provider,
		InputTokens:  &result.Usage.InputTokens,
		OutputTokens: &result.Usage.OutputTokens,
		TotalTokens:  &result.Usage.TotalTokens,
		DurationSec:  &duration,
	}
	if err := l.store.UpdateSession(context.WithoutCancel(ctx), result.SessionID, patch); err != nil {
		l.logger.Warn("audit write failed", "session_id", result.SessionID, "error", err)
	}
}
