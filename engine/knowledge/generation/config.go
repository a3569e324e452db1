package generation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/notebook/engine/core"
	appconfig "github.com/compozy/notebook/pkg/config"
)

// Provider names a remote chat-completion backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGoogle Provider = "google"
)

// Config describes how to reach the chat model.
type Config struct {
	Provider    Provider
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Retry       core.RetryPolicy
}

var (
	errMissingProvider = errors.New("llm provider is required")
	errMissingModel    = errors.New("llm model is required")
)

// ConfigFromApp maps the application configuration onto the generation client.
func ConfigFromApp(cfg *appconfig.Config) *Config {
	return &Config{
		Provider:    Provider(cfg.LLM.Provider),
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey.Value(),
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Retry: core.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Jitter:         cfg.Retry.Jitter,
			Timeout:        cfg.LLM.Timeout,
		},
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(string(c.Provider)) == "" {
		return errMissingProvider
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("llm %q: %w", c.Provider, errMissingModel)
	}
	return nil
}
