package config

import "time"

// ServerConfig configures serve mode. The single HTTP listener carries
// the MCP endpoints, the OpenAI-compatible surface, the REST API, and
// /metrics.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// AuditConfig locates the audit trail database.
type AuditConfig struct {
	DBPath string `yaml:"db_path"`
}

// AgentConfig bounds the agent loop and tool execution.
type AgentConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
