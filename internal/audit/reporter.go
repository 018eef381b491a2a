package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/mrtian2016/flowpilot/internal/redact"
)

// Reporter renders audit records as Markdown for the report and
// history commands. Args and outputs are masked before rendering.
type Reporter struct {
	store *Store
}

// NewReporter wraps a store.
func NewReporter(store *Store) *Reporter {
	return &Reporter{store: store}
}

// SessionReport renders one session, with per-call details, as a
// Markdown document.
func (r *Reporter) SessionReport(ctx context.Context, sessionID string) (string, error) {
	detail, err := r.store.SessionDetail(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if detail == nil {
		return fmt.Sprintf("# Session Not Found\n\nSession ID: `%s`", sessionID), nil
	}

	var b strings.Builder
	b.WriteString("# FlowPilot Execution Report\n\n")
	fmt.Fprintf(&b, "**Session ID:** `%s`\n\n", detail.SessionID)
	fmt.Fprintf(&b, "**Time:** %s\n", detail.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "**User:** %s\n", detail.User)
	fmt.Fprintf(&b, "**Host:** %s\n", detail.Hostname)
	fmt.Fprintf(&b, "**Status:** %s\n", detail.Status)
	if detail.Provider != "" {
		fmt.Fprintf(&b, "**Provider:** %s\n", detail.Provider)
	}
	if detail.TotalTokens > 0 {
		fmt.Fprintf(&b, "**Tokens:** %d in / %d out / %d total\n",
			detail.InputTokens, detail.OutputTokens, detail.TotalTokens)
	}
	if detail.DurationSec > 0 {
		fmt.Fprintf(&b, "**Total duration:** %.2fs\n", detail.DurationSec)
	}

	b.WriteString("\n## User Input\n\n")
	fmt.Fprintf(&b, "```\n%s\n```\n", detail.Input)

	if len(detail.ToolCalls) > 0 {
		b.WriteString("\n## Execution Details\n")
		for i, tc := range detail.ToolCalls {
			fmt.Fprintf(&b, "\n### %d. %s\n\n", i+1, tc.ToolName)
			fmt.Fprintf(&b, "**Status:** %s\n", tc.Status)
			if tc.PolicyEffect != "" {
				fmt.Fprintf(&b, "**Policy:** %s", tc.PolicyEffect)
				if tc.PolicyTriggered != "" {
					fmt.Fprintf(&b, " (%s)", tc.PolicyTriggered)
				}
				b.WriteString("\n")
			}
			if tc.ExitCode != nil {
				fmt.Fprintf(&b, "**Exit code:** %d\n", *tc.ExitCode)
			}
			if tc.DurationSec > 0 {
				fmt.Fprintf(&b, "**Duration:** %.2fs\n", tc.DurationSec)
			}
			b.WriteString("\n**Arguments:**\n")
			fmt.Fprintf(&b, "```json\n%s\n```\n", redact.Mask(tc.ToolArgs))
			if tc.StdoutSummary != "" {
				b.WriteString("\n**Output:**\n")
				fmt.Fprintf(&b, "```\n%s\n```\n", tc.StdoutSummary)
			}
		}
	}

	if detail.FinalOutput != "" {
		b.WriteString("\n## Final Output\n\n")
		fmt.Fprintf(&b, "```\n%s\n```\n", redact.Mask(detail.FinalOutput))
	}

	b.WriteString("\n---\n*Generated by FlowPilot*")
	return b.String(), nil
}

// HistorySummary renders recent sessions as a Markdown table.
func (r *Reporter) HistorySummary(ctx context.Context, limit int) (string, error) {
	sessions, err := r.store.RecentSessions(ctx, limit, "")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# FlowPilot Execution History\n\n")
	b.WriteString("| Time | User | Input | Status | Duration |\n")
	b.WriteString("|------|------|-------|--------|----------|\n")

	for _, sess := range sessions {
		input := strings.ReplaceAll(sess.Input, "\n", " ")
		if len(input) > 50 {
			input = input[:50] + "..."
		}
		duration := "n/a"
		if sess.DurationSec > 0 {
			duration = fmt.Sprintf("%.1fs", sess.DurationSec)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			sess.Timestamp.Format("2006-01-02 15:04:05"), sess.User, input, sess.Status, duration)
	}
	return b.String(), nil
}
