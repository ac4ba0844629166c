// Package ai talks to LLM backends and builds spoiler-bounded prompts.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TextGenerator produces a completion for a system and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ProviderConfig selects and configures a generator.
type ProviderConfig struct {
	Provider string // "openai" or "ollama"
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewGenerator builds the generator named by cfg.Provider.
func NewGenerator(cfg ProviderConfig) (TextGenerator, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("generation model required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "openai-compat", "openai_compat":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("openai-compat base url required")
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "ollama", "":
		return NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// APIError is a non-2xx reply from a provider.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.Status, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}
