package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const fullConfig = `
llm:
  default_provider: claude
  providers:
    claude:
      model: claude-sonnet-4-5
      api_key_env: ANTHROPIC_API_KEY
    gemini:
      model: gemini-2.5-flash
      api_key_env: GEMINI_API_KEY
      max_tokens: 8192
      temperature: 0.2
  routing:
    - scenario: log_analysis
      provider: gemini
hosts:
  web-1:
    env: prod
    user: deploy
    addr: 10.0.1.10
    jump: bastion
    tags: [web, frontend]
  db-1:
    env: prod
    user: postgres
    addr: 10.0.1.20
    port: 2222
jumps:
  bastion:
    addr: bastion.example.com
    user: ops
services:
  nginx:
    kind: systemd
    hosts:
      prod: [web-1]
    logs:
      path: /var/log/nginx/error.log
policies:
  - name: prod_write_protection
    condition:
      env: prod
      action_type: write
    effect: require_confirm
    message: writes to prod require confirmation
audit:
  db_path: /tmp/flowpilot-test-audit.db
server:
  port: 9090
  heartbeat_interval: 45s
agent:
  max_iterations: 5
  tool_timeout: 90s
`

func TestLoadFullConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, fullConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LLM.DefaultProvider != "claude" {
		t.Errorf("default_provider = %q", cfg.LLM.DefaultProvider)
	}
	claude := cfg.LLM.Providers["claude"]
	if claude.MaxTokens != 4096 {
		t.Errorf("claude max_tokens = %d, want default 4096", claude.MaxTokens)
	}
	if claude.Temperature == nil || *claude.Temperature != 0.7 {
		t.Errorf("claude temperature = %v, want default 0.7", claude.Temperature)
	}
	gemini := cfg.LLM.Providers["gemini"]
	if gemini.MaxTokens != 8192 {
		t.Errorf("gemini max_tokens = %d", gemini.MaxTokens)
	}
	if gemini.Temperature == nil || *gemini.Temperature != 0.2 {
		t.Errorf("gemini temperature = %v", gemini.Temperature)
	}

	web := cfg.Hosts["web-1"]
	if web.Port != 22 {
		t.Errorf("web-1 port = %d, want default 22", web.Port)
	}
	if web.Group != "default" {
		t.Errorf("web-1 group = %q, want default", web.Group)
	}
	if cfg.Hosts["db-1"].Port != 2222 {
		t.Errorf("db-1 port = %d", cfg.Hosts["db-1"].Port)
	}
	if cfg.Jumps["bastion"].Port != 22 {
		t.Errorf("bastion port = %d, want default 22", cfg.Jumps["bastion"].Port)
	}

	nginx := cfg.Services["nginx"]
	if nginx.Unit != "nginx" {
		t.Errorf("nginx unit = %q, want service key default", nginx.Unit)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server port = %d", cfg.Server.Port)
	}
	if cfg.Server.HeartbeatInterval != 45*time.Second {
		t.Errorf("heartbeat = %v", cfg.Server.HeartbeatInterval)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server host = %q, want default", cfg.Server.Host)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("max_iterations = %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.ToolTimeout != 90*time.Second {
		t.Errorf("tool_timeout = %v", cfg.Agent.ToolTimeout)
	}
	if len(cfg.Policies) != 1 || cfg.Policies[0].Name != "prod_write_protection" {
		t.Errorf("policies = %+v", cfg.Policies)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("FLOWPILOT_TEST_ADDR", "10.9.9.9")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
hosts:
  web-1:
    env: dev
    user: root
    addr: ${FLOWPILOT_TEST_ADDR}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hosts["web-1"].Addr != "10.9.9.9" {
		t.Errorf("addr = %q", cfg.Hosts["web-1"].Addr)
	}
}

func TestIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hosts.yaml"), `
hosts:
  web-1:
    env: dev
    user: root
    addr: 10.0.0.1
  web-2:
    env: dev
    user: root
    addr: 10.0.0.2
`)
	main := filepath.Join(dir, "config.yaml")
	writeFile(t, main, `
$include: hosts.yaml
hosts:
  web-2:
    env: prod
    user: deploy
    addr: 10.0.0.2
`)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Hosts) != 2 {
		t.Fatalf("hosts = %d, want 2", len(cfg.Hosts))
	}
	if cfg.Hosts["web-1"].Addr != "10.0.0.1" {
		t.Errorf("included host lost: %+v", cfg.Hosts["web-1"])
	}
	// the including file wins on conflicts
	if cfg.Hosts["web-2"].Env != "prod" {
		t.Errorf("web-2 env = %q, want prod", cfg.Hosts["web-2"].Env)
	}
}

func TestIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "$include: b.yaml\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "$include: a.yaml\n")

	_, err := LoadRaw(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("err = %v, want include cycle", err)
	}
}

func TestStrictDecodeRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
hosts:
  web-1:
    env: dev
    user: root
    adress: 10.0.0.1
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestMalformedComparatorFailsLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
policies:
  - name: bad_rule
    condition:
      target_count: "> five"
    effect: deny
    message: nope
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed comparator")
	}
}

func TestValidateReferences(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown jump",
			yaml: `
hosts:
  web-1:
    env: dev
    user: root
    addr: 10.0.0.1
    jump: nope
`,
			want: "jump",
		},
		{
			name: "default provider missing",
			yaml: `
llm:
  default_provider: claude
  providers:
    zhipu:
      model: glm-4-plus
      api_key_env: ZHIPU_API_KEY
`,
			want: "default_provider",
		},
		{
			name: "routing provider missing",
			yaml: `
llm:
  default_provider: claude
  providers:
    claude:
      model: claude-sonnet-4-5
      api_key_env: ANTHROPIC_API_KEY
  routing:
    - scenario: log_analysis
      provider: gemini
`,
			want: "routing",
		},
		{
			name: "service host missing",
			yaml: `
services:
  nginx:
    kind: systemd
    hosts:
      prod: [web-9]
`,
			want: "web-9",
		},
		{
			name: "service kind invalid",
			yaml: `
services:
  nginx:
    kind: pm2
`,
			want: "kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			writeFile(t, path, tt.yaml)

			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{
  // comments are allowed here
  hosts: {
    "web-1": {
      env: "dev",
      user: "root",
      addr: "10.0.0.1",
    },
  },
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hosts["web-1"].Addr != "10.0.0.1" {
		t.Errorf("addr = %q", cfg.Hosts["web-1"].Addr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
