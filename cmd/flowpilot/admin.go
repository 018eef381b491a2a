package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mrtian2016/flowpilot/internal/config"
	"github.com/spf13/cobra"
)

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the configuration file",
	}
	cmd.AddCommand(buildConfigShowCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
			// The path rides along as a YAML comment so redirecting the
			// output still yields a loadable file.
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n\n%s", path, data)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default ./config.yaml, then ~/.flowpilot/config.yaml)")
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✅ Configuration OK")
			fmt.Fprintf(out, "   providers: %d (default %s)\n", len(cfg.LLM.Providers), cfg.LLM.DefaultProvider)
			fmt.Fprintf(out, "   hosts:     %d\n", len(cfg.Hosts))
			fmt.Fprintf(out, "   services:  %d\n", len(cfg.Services))
			fmt.Fprintf(out, "   policies:  %d\n", len(cfg.Policies))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default ./config.yaml, then ~/.flowpilot/config.yaml)")
	return cmd
}

func buildImportHostsCmd() *cobra.Command {
	var (
		configPath  string
		sshPath     string
		env         string
		output      string
		appendHosts bool
	)

	cmd := &cobra.Command{
		Use:   "import-hosts",
		Short: "Import hosts from an OpenSSH client config",
		Long: `Parse an OpenSSH client config (~/.ssh/config by default) and convert
its Host entries into FlowPilot host definitions. Wildcard patterns and
github hosts are skipped.

By default the converted YAML is printed for review. --append merges
new hosts into the config file, preserving comments and skipping names
that already exist; --output writes the fragment to a separate file.`,
		Example: `  # Preview what would be imported
  flowpilot import-hosts

  # Import as staging hosts directly into the config file
  flowpilot import-hosts --env staging --append`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportHosts(cmd, configPath, sshPath, env, output, appendHosts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default ./config.yaml, then ~/.flowpilot/config.yaml)")
	cmd.Flags().StringVarP(&sshPath, "ssh-config", "s", "", "SSH config to read (default ~/.ssh/config)")
	cmd.Flags().StringVarP(&env, "env", "e", "dev", "Environment assigned to imported hosts")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the converted YAML to this file")
	cmd.Flags().BoolVarP(&appendHosts, "append", "a", false, "Merge new hosts into the config file")

	return cmd
}

func runImportHosts(cmd *cobra.Command, configPath, sshPath, env, output string, appendHosts bool) error {
	out := cmd.OutOrStdout()

	parsed, err := config.ParseSSHConfig(sshPath)
	if err != nil {
		return err
	}
	if len(parsed) == 0 {
		fmt.Fprintln(out, "No importable hosts found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d host(s):\n", len(parsed))
	for _, h := range parsed {
		target := h.Hostname
		if h.Port != 0 && h.Port != 22 {
			target = fmt.Sprintf("%s:%d", h.Hostname, h.Port)
		}
		fmt.Fprintf(out, "  - %s → %s\n", h.Alias, target)
	}

	hosts := config.ToHostConfigs(parsed, env)

	switch {
	case appendHosts:
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		added, err := config.MergeHostsIntoFile(path, hosts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n✅ Merged %d new host(s) into %s\n", added, path)

	case output != "":
		rendered, err := config.RenderHostsYAML(hosts)
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, []byte(rendered), 0o600); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n✅ Saved to %s\n", output)

	default:
		rendered, err := config.RenderHostsYAML(hosts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nConverted hosts (preview):\n\n%s\n", rendered)
		fmt.Fprintln(out, "Use --output or --append to save.")
	}
	return nil
}

func buildInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create ~/.flowpilot with an example configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	out := cmd.OutOrStdout()

	dir := config.DefaultDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, config.DefaultFileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(out, "✅ Created %s\n", path)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Set the API keys for the providers you use:")
	fmt.Fprintln(out, "  export ANTHROPIC_API_KEY=sk-ant-...")
	fmt.Fprintln(out, "  export GOOGLE_API_KEY=AIza...")
	fmt.Fprintln(out, "  export ZHIPU_API_KEY=...")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Then edit the file and run: flowpilot config validate")
	return nil
}

// exampleConfig is written by flowpilot init. Every section is present
// so a new install only needs API keys and real host addresses.
const exampleConfig = `# FlowPilot configuration. API keys are read from the environment
# variables named below; they are never stored in this file.

llm:
  default_provider: claude
  providers:
    claude:
      model: claude-sonnet-4-20250514
      api_key_env: ANTHROPIC_API_KEY
      max_tokens: 4096
      temperature: 0.7
    gemini:
      model: gemini-2.0-flash
      api_key_env: GOOGLE_API_KEY
    zhipu:
      model: glm-4-plus
      api_key_env: ZHIPU_API_KEY
      base_url: https://open.bigmodel.cn/api/paas/v4
    # bedrock:
    #   model: anthropic.claude-sonnet-4-20250514-v1:0
    #   region: us-east-1
  routing:
    - scenario: log_analysis
      provider: gemini

hosts:
  web-1:
    env: prod
    user: deploy
    addr: 10.0.0.11
    group: web
    tags: [nginx, frontend]
    description: primary web server
  db-1:
    env: prod
    user: deploy
    addr: 10.0.0.21
    jump: bastion
    group: db
  staging-1:
    env: staging
    user: deploy
    addr: 10.1.0.11

jumps:
  bastion:
    addr: bastion.example.com
    user: jump

services:
  nginx:
    kind: systemd
    unit: nginx
    hosts:
      prod: [web-1]
    logs:
      path: /var/log/nginx/error.log

policies:
  - name: prod-write-confirm
    condition:
      env: prod
      action_type: write
    effect: require_confirm
    message: Write operations on production hosts require confirmation.
  - name: no-destructive-prod
    condition:
      env: prod
      action_type: destructive
    effect: deny
    message: Destructive commands are not allowed on production hosts.
  - name: batch-limit
    condition:
      target_count: "> 10"
    effect: deny
    message: Refusing to target more than 10 hosts in one call.

audit:
  db_path: $HOME/.flowpilot/audit.db

server:
  host: 127.0.0.1
  port: 8080

agent:
  max_iterations: 10
  tool_timeout: 60s

logging:
  level: info
  format: text
`
