package embedder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/notebook/engine/core"
	appconfig "github.com/compozy/notebook/pkg/config"
)

// Provider names a remote embedding backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGoogle Provider = "google"
)

const (
	defaultBatchSize = 16
	defaultWorkers   = 4
)

// Config describes how to reach the embedding model.
type Config struct {
	Provider      Provider
	Model         string
	APIKey        string
	BaseURL       string
	Dimension     int
	BatchSize     int
	Workers       int
	StripNewLines bool
	Retry         core.RetryPolicy
}

var (
	errMissingProvider  = errors.New("embedder provider is required")
	errMissingModel     = errors.New("embedder model is required")
	errInvalidDimension = errors.New("embedder dimension cannot be negative")
)

// ConfigFromApp maps the application configuration onto the embedder.
func ConfigFromApp(cfg *appconfig.Config) *Config {
	retry := core.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Jitter:         cfg.Retry.Jitter,
		Timeout:        cfg.Embedder.Timeout,
	}
	return &Config{
		Provider:  Provider(cfg.Embedder.Provider),
		Model:     cfg.Embedder.Model,
		APIKey:    cfg.Embedder.APIKey.Value(),
		BaseURL:   cfg.Embedder.BaseURL,
		Dimension: cfg.Embedder.Dimension,
		BatchSize: cfg.Embedder.BatchSize,
		Workers:   cfg.Embedder.Workers,
		Retry:     retry,
	}
}

func (c *Config) normalize() error {
	if strings.TrimSpace(string(c.Provider)) == "" {
		return errMissingProvider
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("embedder %q: %w", c.Provider, errMissingModel)
	}
	if c.Dimension < 0 {
		return fmt.Errorf("embedder %q: %w", c.Provider, errInvalidDimension)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	return nil
}
