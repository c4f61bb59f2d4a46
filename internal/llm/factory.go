package llm

import "fmt"

// ProviderConfig holds what's needed to construct an LLM client.
type ProviderConfig struct {
	Provider string // "anthropic"
	Model    string
	APIKey   string
	BaseURL  string // optional: override API base URL
}

// NewFromConfig creates the Client for the named provider.
func NewFromConfig(cfg ProviderConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic", "claude":
		return NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil

	case "":
		return nil, fmt.Errorf("no LLM provider configured (set provider in the settings file)")

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: anthropic)", cfg.Provider)
	}
}
