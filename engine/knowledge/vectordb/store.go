package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compozy/notebook/engine/core"
	appconfig "github.com/compozy/notebook/pkg/config"
)

var (
	errMissingProvider = errors.New("vector_db provider is required")
	errMissingURL      = errors.New("vector_db url is required")
	errMissingDSN      = errors.New("vector_db dsn is required")
	errMissingPath     = errors.New("vector_db path is required")
	errMissingRedis    = errors.New("vector_db redis client or dsn is required")
)

// ConfigFromApp maps the application configuration onto a store config.
func ConfigFromApp(cfg *appconfig.Config) *Config {
	return &Config{
		Provider:  Provider(cfg.VectorDB.Provider),
		URL:       cfg.VectorDB.URL,
		APIKey:    cfg.VectorDB.APIKey.Value(),
		DSN:       cfg.VectorDB.DSN.Value(),
		Path:      cfg.VectorDB.Path,
		Metric:    cfg.VectorDB.Metric,
		Timeout:   cfg.VectorDB.Timeout,
		KeyPrefix: cfg.Redis.Prefix,
		Retry: core.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Jitter:         cfg.Retry.Jitter,
		},
	}
}

// New instantiates an instrumented vector store for the configured provider.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	store, err := instantiateStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return withMetrics(store, cfg.Provider), nil
}

func instantiateStore(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Provider {
	case ProviderQdrant:
		return newQdrantStore(cfg)
	case ProviderPGVector:
		store, err := newPGStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if pool, ok := store.pool.(*pgxpool.Pool); ok {
			trackVectorPool(string(cfg.Provider), pool)
			return &trackedPGStore{pgStore: store, name: string(cfg.Provider)}, nil
		}
		return store, nil
	case ProviderFilesystem:
		return newFileStore(cfg)
	case ProviderMemory:
		return NewMemoryStore(ParseMetric(cfg.Metric)), nil
	case ProviderRedis:
		return newRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("vector_db: provider %q is not supported", cfg.Provider)
	}
}

type trackedPGStore struct {
	*pgStore
	name string
}

func (t *trackedPGStore) Close(ctx context.Context) error {
	untrackVectorPool(t.name)
	return t.pgStore.Close(ctx)
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("vector_db config is required")
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Path = strings.TrimSpace(cfg.Path)
	switch cfg.Provider {
	case "":
		return errMissingProvider
	case ProviderQdrant:
		if cfg.URL == "" {
			return errMissingURL
		}
	case ProviderPGVector:
		if cfg.DSN == "" {
			return errMissingDSN
		}
	case ProviderFilesystem:
		if cfg.Path == "" {
			return errMissingPath
		}
	case ProviderRedis:
		if cfg.DSN == "" && cfg.Redis == nil {
			return errMissingRedis
		}
	}
	return nil
}
