package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mrtian2016/flowpilot/internal/agent"
	"github.com/mrtian2016/flowpilot/internal/config"
	"github.com/mrtian2016/flowpilot/internal/observability"
	"github.com/mrtian2016/flowpilot/internal/server"
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath  string
		catalogName string
		host        string
		port        int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the FlowPilot HTTP server",
		Long: `Start the HTTP server exposing the MCP endpoint, the OpenAI-compatible
API and the management REST API on a single listener.

The server will:
1. Load and validate the configuration file
2. Open the audit and inventory stores
3. Assemble the selected tool catalog behind the policy engine
4. Serve HTTP on the configured host and port

Config file changes are picked up without a restart. Graceful shutdown
is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  flowpilot serve

  # Different catalog and port
  flowpilot serve --catalog proxy --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, catalogName, host, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default ./config.yaml, then ~/.flowpilot/config.yaml)")
	cmd.Flags().StringVar(&catalogName, "catalog", "", "Tool catalog to serve: ops or proxy (default ops)")
	cmd.Flags().StringVar(&host, "host", "", "Bind address override")
	cmd.Flags().IntVar(&port, "port", 0, "Port override")

	return cmd
}

// runServe implements the serve command logic. It handles configuration
// loading, component assembly, and graceful shutdown.
func runServe(ctx context.Context, configPath, catalogName, host string, port int) error {
	// Resolve the path up front so the reload watcher and the log line
	// name the actual file.
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	slog.Info("starting FlowPilot server",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	metrics := observability.NewMetrics()
	deps, err := buildRuntimeDeps(cfg, catalogName, metrics)
	if err != nil {
		return err
	}
	defer deps.Close()

	executor := agent.NewExecutor(deps.catalog.Registry, deps.audit, cfg.Agent.ToolTimeout, logger)
	router := agent.NewRouter(cfg.LLM)

	srv, err := server.New(server.Options{
		Config:       cfg,
		ConfigPath:   configPath,
		Engine:       deps.engine,
		Resolver:     deps.resolver,
		Inventory:    deps.fleet,
		Audit:        deps.audit,
		Registry:     deps.catalog.Registry,
		Executor:     executor,
		SystemPrompt: deps.catalog.SystemPrompt,
		Providers:    router,
		Metrics:      metrics,
		Logger:       logger,
		Version:      version,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("FlowPilot server started",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"catalog", deps.catalog.Name,
		"default_provider", cfg.LLM.DefaultProvider,
	)

	return srv.ListenAndServe(ctx)
}
