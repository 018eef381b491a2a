package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mrtian2016/flowpilot/internal/agent"
	"github.com/mrtian2016/flowpilot/internal/agent/providers"
	"github.com/mrtian2016/flowpilot/internal/audit"
	"github.com/mrtian2016/flowpilot/internal/config"
	"github.com/mrtian2016/flowpilot/internal/observability"
	"github.com/mrtian2016/flowpilot/pkg/models"
	"github.com/spf13/cobra"
)

type chatOptions struct {
	configPath    string
	provider      string
	scenario      string
	catalog       string
	maxIterations int
	stream        bool
}

func buildChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Run one natural-language request through the agent loop",
		Long: `Send a request to the configured LLM and let it drive the tool catalog
until the task settles. Tool calls that match a require_confirm policy
pause with a confirmation token; denied calls are reported as such.

The process exit status reflects the outcome: 0 success, 1 provider
failure, 2 policy deny, 3 tool failure, 4 iteration cap, 130 cancelled.`,
		Example: `  # Plain request against the default provider
  flowpilot chat "check disk usage on web-1"

  # Pin a provider and a routing scenario
  flowpilot chat "why is payment slow" --provider gemini --scenario log_analysis

  # Stream a tool-less answer
  flowpilot chat "explain this nginx error: upstream timed out" --stream`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to the config file (default ./config.yaml, then ~/.flowpilot/config.yaml)")
	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "Provider to use (default from config)")
	cmd.Flags().StringVar(&opts.scenario, "scenario", "", "Routing scenario, e.g. log_analysis")
	cmd.Flags().StringVar(&opts.catalog, "catalog", "", "Tool catalog: ops or proxy (default ops)")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "Agent loop iteration cap (default from config)")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Stream a tool-less answer instead of running the loop")

	return cmd
}

func runChat(cmd *cobra.Command, prompt string, opts chatOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	deps, err := buildRuntimeDeps(cfg, opts.catalog, nil)
	if err != nil {
		return err
	}
	defer deps.Close()

	router := agent.NewRouter(cfg.LLM)
	provider, err := router.Resolve(opts.provider, opts.scenario)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	if opts.stream {
		return streamAnswer(ctx, out, deps, provider, prompt)
	}

	maxIterations := cfg.Agent.MaxIterations
	if opts.maxIterations > 0 {
		maxIterations = opts.maxIterations
	}

	executor := agent.NewExecutor(deps.catalog.Registry, deps.audit, cfg.Agent.ToolTimeout, logger)
	loop, err := agent.NewLoop(agent.LoopOptions{
		Provider:      provider,
		Registry:      deps.catalog.Registry,
		Executor:      executor,
		Store:         deps.audit,
		Logger:        logger,
		MaxIterations: maxIterations,
		SystemPrompt:  deps.catalog.SystemPrompt,
		InputMode:     "cli",
		Events:        chatEvents(out),
	})
	if err != nil {
		return err
	}

	sessionID := agent.NewSessionID()
	fmt.Fprintf(out, "🤖 FlowPilot (%s)\n", provider.Name())
	fmt.Fprintf(out, "Session: %s\n\n", sessionID)

	start := time.Now()
	result, err := loop.Run(ctx, sessionID, prompt)
	if err != nil {
		return err
	}

	if resp := result.Response; resp != nil && resp.Content != "" {
		if resp.StopReason == models.StopReasonError {
			fmt.Fprintf(out, "❌ %s\n", resp.Content)
		} else {
			fmt.Fprintf(out, "%s\n", resp.Content)
		}
	}
	fmt.Fprintf(out, "\nSession: %s | Tokens: %d | %.1fs\n",
		result.SessionID, result.Usage.TotalTokens, time.Since(start).Seconds())

	exitCode = result.ExitCode()
	return nil
}

// chatEvents renders loop progress in the interactive transcript style:
// interim assistant narration, then one line per tool call and result.
// Final content is printed by runChat after the loop settles, so turns
// without tool calls are skipped here.
func chatEvents(out io.Writer) agent.LoopEvents {
	return agent.LoopEvents{
		OnAssistant: func(resp *models.ProviderResponse) {
			if len(resp.ToolCalls) == 0 {
				return
			}
			if resp.Content != "" {
				fmt.Fprintf(out, "%s\n", resp.Content)
			}
			fmt.Fprintf(out, "🔧 executing %d tool call(s)\n", len(resp.ToolCalls))
			for _, call := range resp.ToolCalls {
				fmt.Fprintf(out, "  → %s\n", call.Name)
			}
		},
		OnToolResult: func(res agent.ToolExecResult) {
			icon := "✅"
			if res.Result != nil && res.Result.IsError() {
				icon = "❌"
			}
			fmt.Fprintf(out, "  %s %s: %s\n", icon, res.ToolName, firstLine(res.Content, 200))
		},
	}
}

// firstLine returns the first line of s, truncated to max runes.
func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return s
}

// streamAnswer prints a tool-less streaming reply. The session still
// lands in the audit trail with the assembled content.
func streamAnswer(ctx context.Context, out io.Writer, deps *runtimeDeps, provider providers.LLMProvider, prompt string) error {
	sessionID := agent.NewSessionID()
	start := time.Now()
	if err := deps.audit.CreateSession(ctx, sessionID, prompt, "cli"); err != nil {
		return err
	}

	messages := []models.Message{
		models.NewSystemMessage(deps.catalog.SystemPrompt),
		models.NewUserMessage(prompt),
	}
	ch, err := provider.StreamChat(ctx, messages, nil)
	if err != nil {
		finishStreamSession(deps.audit, sessionID, provider.Name(), models.SessionFailed, err.Error(), start)
		return err
	}

	var assembled strings.Builder
	for chunk := range ch {
		switch chunk.Type {
		case models.ChunkContent:
			assembled.WriteString(chunk.Content)
			fmt.Fprint(out, chunk.Content)
		case models.ChunkEnd:
			fmt.Fprintln(out)
			if chunk.Err != nil {
				if ctx.Err() != nil {
					finishStreamSession(deps.audit, sessionID, provider.Name(), models.SessionCancelled, "cancelled", start)
					exitCode = 130
					return nil
				}
				finishStreamSession(deps.audit, sessionID, provider.Name(), models.SessionFailed, chunk.Err.Error(), start)
				return chunk.Err
			}
		}
	}

	finishStreamSession(deps.audit, sessionID, provider.Name(), models.SessionCompleted, assembled.String(), start)
	return nil
}

func finishStreamSession(store *audit.Store, sessionID, provider string, status models.SessionStatus, output string, start time.Time) {
	duration := time.Since(start).Seconds()
	patch := audit.SessionPatch{
		Status:      &status,
		FinalOutput: &output,
		Provider:    &provider,
		DurationSec: &duration,
	}
	if err := store.UpdateSession(context.Background(), sessionID, patch); err != nil {
		slog.Warn("audit write failed", "session_id", sessionID, "error", err)
	}
}
