package provider

import (
	"fmt"
	"strings"

	"github.com/agentpilot/agentpilot/internal/config"
)

// KeySource supplies API keys that are not present in config, such as the
// OS keyring. It returns "" when it has nothing for the provider.
type KeySource interface {
	ProviderKey(provider string) string
}

// providerAliases maps common aliases to canonical provider IDs.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"or":     "openrouter",
}

// NormalizeProviderID resolves aliases and normalizes the provider ID.
func NormalizeProviderID(id string) string {
	lower := strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := providerAliases[lower]; ok {
		return canonical
	}
	return lower
}

// Resolve builds the provider selected by ai.primary. keys may be nil.
func Resolve(ai config.AIConfig, keys KeySource) (LLMProvider, error) {
	id := NormalizeProviderID(ai.Primary)
	key := APIKeyFor(ai, id)
	if key == "" && keys != nil {
		key = keys.ProviderKey(id)
	}

	switch id {
	case "anthropic":
		if key == "" {
			return nil, missingKey(id, "ANTHROPIC_API_KEY")
		}
		return NewAnthropicProvider(key, ai.APIBase, ai.Model), nil
	case "gemini":
		if key == "" {
			return nil, missingKey(id, "GEMINI_API_KEY")
		}
		return NewGeminiProvider(key, ai.APIBase, ai.Model), nil
	case "openrouter":
		if key == "" {
			return nil, missingKey(id, "OPENROUTER_API_KEY")
		}
		return NewOpenRouterProvider(key, ai.APIBase, ai.Model), nil
	case "openai":
		if key == "" {
			return nil, missingKey(id, "OPENAI_API_KEY")
		}
		return NewOpenAIProvider(key, ai.APIBase, ai.Model), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q (supported: anthropic, gemini, openrouter, openai)", ai.Primary)
	}
}

// APIKeyFor returns the configured key for a provider id.
func APIKeyFor(ai config.AIConfig, id string) string {
	switch NormalizeProviderID(id) {
	case "anthropic":
		return ai.AnthropicAPIKey
	case "gemini":
		return ai.GeminiAPIKey
	case "openrouter":
		return ai.OpenRouterAPIKey
	case "openai":
		return ai.OpenAIAPIKey
	}
	return ""
}

func missingKey(id, env string) error {
	return fmt.Errorf("no API key for %s: set %s or run \"agentpilot auth set %s <key>\"", id, env, id)
}
