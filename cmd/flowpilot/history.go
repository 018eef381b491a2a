package main

import (
	"fmt"

	"github.com/mrtian2016/flowpilot/internal/audit"
	"github.com/mrtian2016/flowpilot/internal/config"
	"github.com/mrtian2016/flowpilot/pkg/models"
	"github.com/spf13/cobra"
)

func buildHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		status     string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent agent sessions",
		Example: `  # The last ten sessions
  flowpilot history

  # Only failures, more of them
  flowpilot history -n 50 --status failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := audit.Open(cfg.Audit.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.RecentSessions(cmd.Context(), limit, models.SessionStatus(status))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s %s  %-26s %-10s %6.1fs  %s\n",
					statusIcon(s.Status),
					s.Timestamp.Format("2006-01-02 15:04"),
					s.SessionID,
					s.Status,
					s.DurationSec,
					firstLine(s.Input, 60),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default ./config.yaml, then ~/.flowpilot/config.yaml)")
	cmd.Flags().IntVarP(&limit, "last", "n", 10, "Number of sessions to show")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: running, completed, failed, cancelled")

	return cmd
}

func statusIcon(status models.SessionStatus) string {
	switch status {
	case models.SessionCompleted:
		return "✅"
	case models.SessionFailed:
		return "❌"
	case models.SessionCancelled:
		return "🚫"
	default:
		return "⏳"
	}
}

func buildReportCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Print the Markdown audit report for one session",
		Long: `Render the full audit record of a session as Markdown: the request,
every tool call with its policy outcome and exit code, token usage and
the final output. Sensitive values are masked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := audit.Open(cfg.Audit.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := audit.NewReporter(store).SessionReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default ./config.yaml, then ~/.flowpilot/config.yaml)")

	return cmd
}
