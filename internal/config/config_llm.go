package config

import "strings"

// Vendor kinds resolved from provider keys. Each kind corresponds to
// one client implementation under internal/agent/providers.
const (
	VendorAnthropic = "anthropic"
	VendorGemini    = "gemini"
	VendorZhipu     = "zhipu"
	VendorBedrock   = "bedrock"
)

// VendorKind maps a provider key from the config file to the vendor
// client that serves it. Family aliases are accepted so "claude" and
// "anthropic" select the same client. Unknown keys return "".
func VendorKind(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "claude", "anthropic":
		return VendorAnthropic
	case "gemini", "google":
		return VendorGemini
	case "zhipu", "glm":
		return VendorZhipu
	case "bedrock", "aws":
		return VendorBedrock
	default:
		return ""
	}
}

// LLMConfig selects the default provider and holds per-provider
// settings plus scenario routing rules.
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
	Routing         []RoutingRule             `yaml:"routing"`
}

// ProviderConfig configures one upstream model vendor. API keys are
// never stored in the file; APIKeyEnv names the environment variable
// that holds the key.
type ProviderConfig struct {
	Model       string   `yaml:"model"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`

	// BaseURL overrides the vendor endpoint for OpenAI-compatible
	// vendors such as zhipu.
	BaseURL string `yaml:"base_url"`

	// Region selects the AWS region for the bedrock provider.
	Region string `yaml:"region"`
}

// RoutingRule maps a named scenario to a provider, optionally pinning
// a model different from the provider default.
type RoutingRule struct {
	Scenario string `yaml:"scenario"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}
