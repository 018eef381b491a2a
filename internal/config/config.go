// Package config loads, merges, and validates FlowPilot configuration.
//
// Configuration lives in a YAML (or JSON5) file resolved in order: an
// explicit path, ./config.yaml, then ~/.flowpilot/config.yaml. A file
// may pull in fragments with $include directives resolved relative to
// the including file. Environment variables are expanded before parse,
// and .env files are sourced first so api_key_env indirection works
// out of the box.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/mrtian2016/flowpilot/internal/policy"
)

// DefaultDirName is the per-user configuration directory under $HOME.
const DefaultDirName = ".flowpilot"

// DefaultFileName is the config file looked up in the working directory
// and in DefaultDirName.
const DefaultFileName = "config.yaml"

// Config is the root FlowPilot configuration.
type Config struct {
	LLM      LLMConfig                `yaml:"llm"`
	Hosts    map[string]HostConfig    `yaml:"hosts"`
	Jumps    map[string]JumpConfig    `yaml:"jumps"`
	Services map[string]ServiceConfig `yaml:"services"`
	Policies []policy.Rule            `yaml:"policies"`
	Audit    AuditConfig              `yaml:"audit"`
	Server   ServerConfig             `yaml:"server"`
	Agent    AgentConfig              `yaml:"agent"`
	Logging  LoggingConfig            `yaml:"logging"`
}

// DefaultDir returns ~/.flowpilot, or a relative .flowpilot when the
// home directory cannot be determined.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(home, DefaultDirName)
}

// DefaultPath returns the effective config file path: ./config.yaml
// when present, otherwise ~/.flowpilot/config.yaml.
func DefaultPath() string {
	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName
	}
	return filepath.Join(DefaultDir(), DefaultFileName)
}

// Load reads, merges, defaults, and validates the configuration at
// path. An empty path selects DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	loadEnvFiles()

	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles sources ~/.flowpilot/.env first, then ./.env which wins
// on conflicts. Both are optional.
func loadEnvFiles() {
	_ = godotenv.Load(filepath.Join(DefaultDir(), ".env"))
	_ = godotenv.Overload(".env")
}

func (c *Config) applyDefaults() {
	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = "claude"
	}
	for name, p := range c.LLM.Providers {
		if p.MaxTokens == 0 {
			p.MaxTokens = 4096
		}
		if p.Temperature == nil {
			t := 0.7
			p.Temperature = &t
		}
		c.LLM.Providers[name] = p
	}
	for name, h := range c.Hosts {
		if h.Port == 0 {
			h.Port = 22
		}
		if h.Group == "" {
			h.Group = "default"
		}
		c.Hosts[name] = h
	}
	for name, j := range c.Jumps {
		if j.Port == 0 {
			j.Port = 22
		}
		c.Jumps[name] = j
	}
	for name, s := range c.Services {
		if s.Kind == "" {
			s.Kind = "systemd"
		}
		if s.Unit == "" {
			s.Unit = name
		}
		c.Services[name] = s
	}
	if c.Audit.DBPath == "" {
		c.Audit.DBPath = filepath.Join(DefaultDir(), "audit.db")
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.HeartbeatInterval == 0 {
		c.Server.HeartbeatInterval = 30 * time.Second
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.ToolTimeout == 0 {
		c.Agent.ToolTimeout = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations that would otherwise fail later in
// surprising places. Policy rules are compiled here so a malformed
// comparator stops startup instead of surfacing mid-evaluation.
func (c *Config) Validate() error {
	if len(c.LLM.Providers) > 0 {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("llm.default_provider %q is not defined under llm.providers", c.LLM.DefaultProvider)
		}
	}
	for name, p := range c.LLM.Providers {
		if VendorKind(name) == "" {
			return fmt.Errorf("llm.providers.%s: unknown provider kind", name)
		}
		if p.Model == "" {
			return fmt.Errorf("llm.providers.%s: model is required", name)
		}
		// Bedrock authenticates through the AWS credential chain.
		if p.APIKeyEnv == "" && VendorKind(name) != VendorBedrock {
			return fmt.Errorf("llm.providers.%s: api_key_env is required", name)
		}
		if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
			return fmt.Errorf("llm.providers.%s: temperature %.2f out of range [0, 2]", name, *p.Temperature)
		}
	}
	for _, r := range c.LLM.Routing {
		if r.Scenario == "" {
			return fmt.Errorf("llm.routing: scenario is required")
		}
		if _, ok := c.LLM.Providers[r.Provider]; !ok {
			return fmt.Errorf("llm.routing.%s: provider %q is not defined under llm.providers", r.Scenario, r.Provider)
		}
	}
	for name, h := range c.Hosts {
		if h.Addr == "" {
			return fmt.Errorf("hosts.%s: addr is required", name)
		}
		if h.User == "" {
			return fmt.Errorf("hosts.%s: user is required", name)
		}
		if h.Env == "" {
			return fmt.Errorf("hosts.%s: env is required", name)
		}
		if h.Jump != "" {
			if _, ok := c.Jumps[h.Jump]; !ok {
				return fmt.Errorf("hosts.%s: jump %q is not defined under jumps", name, h.Jump)
			}
		}
	}
	for name, s := range c.Services {
		if s.Kind != "systemd" && s.Kind != "docker" {
			return fmt.Errorf("services.%s: kind must be systemd or docker, got %q", name, s.Kind)
		}
		for env, hosts := range s.Hosts {
			for _, h := range hosts {
				if _, ok := c.Hosts[h]; !ok {
					return fmt.Errorf("services.%s: host %q (env %s) is not defined under hosts", name, h, env)
				}
			}
		}
	}
	if _, err := policy.NewEngine(c.Policies); err != nil {
		return fmt.Errorf("policies: %w", err)
	}
	return nil
}
