// Package llm wraps the chat model providers used for script and scene code
// generation behind one Client.
package llm

import (
	"fmt"
	"maps"
)

// ModelTier names the job a model is picked for.
type ModelTier string

const (
	// TierScript drafts the storytelling script as structured JSON.
	TierScript ModelTier = "script"
	// TierCode writes one animation program per scene.
	TierCode ModelTier = "code"
)

// Provider represents an LLM provider
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// DefaultTemperature keeps script structure and generated code stable
// across retries.
const DefaultTemperature = 0.1

var providerModels = map[Provider]map[ModelTier]string{
	ProviderGemini: {
		TierScript: "gemini-2.5-flash",
		TierCode:   "gemini-2.5-pro",
	},
	ProviderOpenAI: {
		TierScript: "gpt-4o-mini",
		TierCode:   "gpt-4o",
	},
}

// Config selects a provider and the model used for each tier.
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Temperature float32
}

// DefaultConfig returns the Gemini model set.
func DefaultConfig() *Config {
	cfg, _ := ConfigFor(string(ProviderGemini))
	return cfg
}

// ConfigFor returns the default model set for a provider name. An empty
// name selects Gemini.
func ConfigFor(provider string) (*Config, error) {
	p := Provider(provider)
	if p == "" {
		p = ProviderGemini
	}
	models, ok := providerModels[p]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
	return &Config{
		Provider:    p,
		Models:      maps.Clone(models),
		Temperature: DefaultTemperature,
	}, nil
}

// Model returns the model for tier, falling back to the script model when
// the tier has none.
func (c *Config) Model(tier ModelTier) string {
	if model := c.Models[tier]; model != "" {
		return model
	}
	return c.Models[TierScript]
}

// WithModel returns a copy of c that uses model for tier.
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	out := *c
	out.Models = maps.Clone(c.Models)
	if out.Models == nil {
		out.Models = make(map[ModelTier]string)
	}
	out.Models[tier] = model
	return &out
}
