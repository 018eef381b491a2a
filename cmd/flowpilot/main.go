// Package main provides the CLI entry point for the FlowPilot operations agent.
//
// FlowPilot turns natural-language requests into audited server operations:
// an LLM plans tool calls (SSH, log inspection, git, service control), a
// policy engine gates every call, and each session lands in a local audit
// trail.
//
// # Basic Usage
//
// Run a one-shot request through the agent loop:
//
//	flowpilot chat "check disk usage on web-1"
//
// Start the HTTP server (MCP, OpenAI-compatible and REST endpoints):
//
//	flowpilot serve --config ~/.flowpilot/config.yaml
//
// Inspect past sessions:
//
//	flowpilot history -n 20
//	flowpilot report sess_1712070000_ab12cd34
//
// # Environment Variables
//
// API keys are never stored in the config file; each provider names the
// environment variable that holds its key:
//
//   - ANTHROPIC_API_KEY: API key for the claude provider
//   - GOOGLE_API_KEY: API key for the gemini provider
//   - ZHIPU_API_KEY: API key for the zhipu provider
//   - FLOWPILOT_API_KEY: bearer token required by the HTTP server, if set
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mrtian2016/flowpilot/internal/audit"
	"github.com/mrtian2016/flowpilot/internal/catalog"
	"github.com/mrtian2016/flowpilot/internal/config"
	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/internal/observability"
	"github.com/mrtian2016/flowpilot/internal/policy"
	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// exitCode is the process status for runs whose command succeeded but
// whose agent outcome was not a clean success. chat maps loop results
// onto it: 2 policy deny, 3 tool failure, 4 iteration cap, 130 cancel.
var exitCode int

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowpilot",
		Short: "FlowPilot - LLM-driven server operations agent",
		Long: `FlowPilot executes natural-language operations requests through an LLM
agent loop with policy-gated tools and a local audit trail.

Providers: Anthropic (Claude), Google (Gemini), Zhipu (GLM), AWS Bedrock
Tool catalogs: ops (SSH, logs, git, services), proxy (routing rules)`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildServeCmd(),
		buildHistoryCmd(),
		buildReportCmd(),
		buildConfigCmd(),
		buildImportHostsCmd(),
		buildInitCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flowpilot %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// runtimeDeps bundles the stores and tool catalog shared by the chat
// and serve commands. Close releases them in reverse dependency order.
type runtimeDeps struct {
	engine   *policy.Engine
	fleet    *inventory.Store
	resolver *inventory.Resolver
	audit    *audit.Store
	catalog  *catalog.Catalog
}

func (d *runtimeDeps) Close() {
	if d.catalog != nil {
		_ = d.catalog.Close()
	}
	if d.audit != nil {
		_ = d.audit.Close()
	}
	if d.fleet != nil {
		_ = d.fleet.Close()
	}
}

// inventoryDBPath locates the fleet store. Config-declared hosts live
// in the YAML file; the store holds entries created through the API.
func inventoryDBPath() string {
	return filepath.Join(config.DefaultDir(), "inventory.db")
}

func buildRuntimeDeps(cfg *config.Config, catalogName string, metrics *observability.Metrics) (*runtimeDeps, error) {
	engine, err := policy.NewEngine(cfg.Policies)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}

	fleet, err := inventory.Open(inventoryDBPath())
	if err != nil {
		return nil, err
	}
	resolver := inventory.NewResolver(cfg, fleet)

	auditStore, err := audit.Open(cfg.Audit.DBPath)
	if err != nil {
		_ = fleet.Close()
		return nil, err
	}

	cat, err := catalog.Build(catalogName, catalog.Deps{
		Engine:   engine,
		Resolver: resolver,
		Metrics:  metrics,
	})
	if err != nil {
		_ = auditStore.Close()
		_ = fleet.Close()
		return nil, err
	}

	return &runtimeDeps{
		engine:   engine,
		fleet:    fleet,
		resolver: resolver,
		audit:    auditStore,
		catalog:  cat,
	}, nil
}
