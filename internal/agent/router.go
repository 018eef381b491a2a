package agent

import (
	"fmt"
	"os"
	"sync"

	"github.com/mrtian2016/flowpilot/internal/agent/providers"
	"github.com/mrtian2016/flowpilot/internal/config"
)

// Router resolves which provider serves a turn. Resolution order is
// explicit name, then scenario routing rule, then the configured
// default. Built clients are memoized per name and model so repeated
// turns reuse connections.
type Router struct {
	cfg config.LLMConfig

	mu    sync.Mutex
	cache map[string]providers.LLMProvider
}

// NewRouter creates a router over the given LLM configuration.
func NewRouter(cfg config.LLMConfig) *Router {
	return &Router{
		cfg:   cfg,
		cache: make(map[string]providers.LLMProvider),
	}
}

// Resolve picks the provider for a turn. An explicit name wins over
// the scenario; a scenario rule may pin a model different from the
// provider's configured default. A scenario with no matching rule
// falls through to the default provider.
func (r *Router) Resolve(name, scenario string) (providers.LLMProvider, error) {
	if name != "" {
		return r.provider(name, "")
	}
	if scenario != "" {
		for _, rule := range r.cfg.Routing {
			if rule.Scenario == scenario {
				return r.provider(rule.Provider, rule.Model)
			}
		}
	}
	if r.cfg.DefaultProvider == "" {
		return nil, fmt.Errorf("no llm providers configured")
	}
	return r.provider(r.cfg.DefaultProvider, "")
}

// Default resolves the configured default provider.
func (r *Router) Default() (providers.LLMProvider, error) {
	return r.Resolve("", "")
}

func (r *Router) provider(name, modelPin string) (providers.LLMProvider, error) {
	pcfg, ok := r.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not defined under llm.providers", name)
	}

	model := pcfg.Model
	if modelPin != "" {
		model = modelPin
	}

	// Scenario rules can pin a different model on the same provider,
	// so the cache key carries both.
	key := name + "\x00" + model

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[key]; ok {
		return p, nil
	}

	p, err := buildProvider(name, model, pcfg)
	if err != nil {
		return nil, err
	}
	r.cache[key] = p
	return p, nil
}

func buildProvider(name, model string, pcfg config.ProviderConfig) (providers.LLMProvider, error) {
	kind := config.VendorKind(name)

	var apiKey string
	if pcfg.APIKeyEnv != "" {
		apiKey = os.Getenv(pcfg.APIKeyEnv)
		if apiKey == "" && kind != config.VendorBedrock {
			return nil, fmt.Errorf("provider %q: environment variable %s is not set", name, pcfg.APIKeyEnv)
		}
	}

	switch kind {
	case config.VendorAnthropic:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:      apiKey,
			BaseURL:     pcfg.BaseURL,
			Model:       model,
			MaxTokens:   pcfg.MaxTokens,
			Temperature: pcfg.Temperature,
		})
	case config.VendorGemini:
		return providers.NewGeminiProvider(providers.GeminiConfig{
			APIKey:      apiKey,
			Model:       model,
			MaxTokens:   pcfg.MaxTokens,
			Temperature: pcfg.Temperature,
		})
	case config.VendorZhipu:
		return providers.NewZhipuProvider(providers.ZhipuConfig{
			APIKey:      apiKey,
			BaseURL:     pcfg.BaseURL,
			Model:       model,
			MaxTokens:   pcfg.MaxTokens,
			Temperature: pcfg.Temperature,
		})
	case config.VendorBedrock:
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:      pcfg.Region,
			Model:       model,
			MaxTokens:   pcfg.MaxTokens,
			Temperature: pcfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("provider %q: unsupported vendor kind", name)
	}
}
