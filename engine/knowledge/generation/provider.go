package generation

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

func buildModel(ctx context.Context, cfg *Config) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return buildOpenAIModel(cfg)
	case ProviderGoogle:
		return buildGoogleModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: provider %q is not supported", cfg.Provider)
	}
}

// buildOpenAIModel also serves the Gemini OpenAI-compatible endpoint when
// BaseURL points at it.
func buildOpenAIModel(cfg *Config) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to initialize openai client: %w", err)
	}
	return model, nil
}

func buildGoogleModel(ctx context.Context, cfg *Config) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithDefaultModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, googleai.WithAPIKey(cfg.APIKey))
	}
	model, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to initialize google client: %w", err)
	}
	return model, nil
}
