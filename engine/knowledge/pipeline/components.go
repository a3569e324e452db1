package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/compozy/notebook/engine/knowledge/document"
	"github.com/compozy/notebook/engine/knowledge/embedder"
	"github.com/compozy/notebook/engine/knowledge/generation"
	"github.com/compozy/notebook/engine/knowledge/retriever"
	"github.com/compozy/notebook/engine/knowledge/vectordb"
	appconfig "github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
)

// Components holds the clients shared by both pipelines. The HTTP server and
// the ingest command build one set per process.
type Components struct {
	cfg      *appconfig.Config
	Embedder *embedder.Adapter
	Store    vectordb.Store
}

// ComponentOption customizes component construction.
type ComponentOption func(*componentOptions)

type componentOptions struct {
	store  vectordb.Store
	redis  redis.UniversalClient
	embOpt []embedder.Option
}

// WithStore replaces the configured vector store.
func WithStore(store vectordb.Store) ComponentOption {
	return func(o *componentOptions) {
		o.store = store
	}
}

// WithRedis supplies the client shared by the redis embedding cache and the
// redis vector store.
func WithRedis(client redis.UniversalClient) ComponentOption {
	return func(o *componentOptions) {
		o.redis = client
	}
}

// NewComponents connects the embedder, its cache and the vector store.
func NewComponents(ctx context.Context, cfg *appconfig.Config, opts ...ComponentOption) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: configuration is required")
	}
	options := componentOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	log := logger.FromContext(ctx)
	start := time.Now()
	cache, err := embedder.NewCache(&cfg.Embedder.Cache, options.redis, cfg.Redis.Prefix)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		options.embOpt = append(options.embOpt, embedder.WithCache(cache))
	}
	emb, err := embedder.New(ctx, embedder.ConfigFromApp(cfg), options.embOpt...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create embedder: %w", err)
	}
	store := options.store
	if store == nil {
		vcfg := vectordb.ConfigFromApp(cfg)
		vcfg.Redis = options.redis
		store, err = vectordb.New(ctx, vcfg)
		if err != nil {
			return nil, fmt.Errorf("pipeline: create vector store: %w", err)
		}
	}
	log.Info("Knowledge components initialized",
		"embedder", cfg.Embedder.Provider,
		"embedding_model", emb.Model(),
		"cache", cfg.Embedder.Cache.Backend,
		"vector_db", cfg.VectorDB.Provider,
		"collection", cfg.VectorDB.Collection,
		"duration", time.Since(start),
	)
	return &Components{cfg: cfg, Embedder: emb, Store: store}, nil
}

// IngestPipeline builds the upload pipeline over the shared clients.
func (c *Components) IngestPipeline() (*IngestPipeline, error) {
	return NewIngestPipeline(document.NewIngestor(), c.Embedder, c.Store, IngestSettingsFromApp(c.cfg))
}

// QueryPipeline builds the chat pipeline, connecting the generation model.
func (c *Components) QueryPipeline(ctx context.Context) (*QueryPipeline, error) {
	settings := retriever.SettingsFromApp(c.cfg)
	svc, err := retriever.NewService(c.Embedder, c.Store, settings)
	if err != nil {
		return nil, err
	}
	gen, err := generation.New(ctx, generation.ConfigFromApp(c.cfg))
	if err != nil {
		return nil, fmt.Errorf("pipeline: create generation client: %w", err)
	}
	return NewQueryPipeline(svc, gen, settings.TopK)
}

// Close releases the vector store connection.
func (c *Components) Close(ctx context.Context) error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close(ctx)
}
