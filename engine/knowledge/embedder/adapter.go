package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/errgroup"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/pkg/logger"
)

// Adapter wraps a langchaingo embedder with validation, batching, bounded
// concurrency, retries and an optional cache.
type Adapter struct {
	provider  Provider
	model     string
	dimension int
	batchSize int
	workers   int
	retry     core.RetryPolicy
	impl      embeddings.Embedder
	cache     Cache
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithCache enables embedding reuse across calls. A nil cache disables it.
func WithCache(cache Cache) Option {
	return func(a *Adapter) {
		a.cache = cache
	}
}

// New constructs a provider-backed adapter.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	impl, err := buildProviderEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return Wrap(cfg, impl, opts...)
}

// Wrap constructs an adapter around an existing langchaingo embedder.
func Wrap(cfg *Config, impl embeddings.Embedder, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if impl == nil {
		return nil, fmt.Errorf("embedder %q: implementation is required", cfg.Provider)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	a := &Adapter{
		provider:  cfg.Provider,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
		retry:     cfg.Retry,
		impl:      impl,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Dimension returns the configured vector dimension, zero when unknown.
func (a *Adapter) Dimension() int {
	return a.dimension
}

func (a *Adapter) Model() string {
	return a.model
}

// Embed returns the embedding of a single non-empty text.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.ValidationError("text to embed must not be empty")
	}
	key := cacheKey(a.provider, a.model, text)
	if vector, ok := a.lookup(ctx, key); ok {
		recordCache(ctx, a.provider, 1, 0)
		return vector, nil
	}
	if a.cache != nil {
		recordCache(ctx, a.provider, 0, 1)
	}
	var vector []float32
	err := a.withRetry(ctx, func(ctx context.Context) error {
		start := time.Now()
		result, err := a.impl.EmbedQuery(ctx, text)
		if err != nil {
			recordError(ctx, a.provider, a.model, err)
			return err
		}
		recordGeneration(ctx, a.provider, a.model, 1, time.Since(start))
		vector = result
		return nil
	})
	if err != nil {
		return nil, a.serviceError(err)
	}
	if err := a.checkDimensions([][]float32{vector}); err != nil {
		return nil, err
	}
	a.store(ctx, key, vector)
	return vector, nil
}

// EmbedAll embeds texts in order. Every element must be non-empty; the call
// is rejected before any remote request otherwise. Batches run on a bounded
// worker pool and results keep the input order.
func (a *Adapter) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	for i := range texts {
		if strings.TrimSpace(texts[i]) == "" {
			return nil, core.ValidationError("text at index %d must not be empty", i)
		}
	}
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results, nil
	}
	missingIdx := make(map[string][]int)
	missingKeys := make(map[string]string)
	uniqueMissing := make([]string, 0, len(texts))
	hits := 0
	for i, text := range texts {
		if idx, seen := missingIdx[text]; seen {
			missingIdx[text] = append(idx, i)
			continue
		}
		key := cacheKey(a.provider, a.model, text)
		if vector, ok := a.lookup(ctx, key); ok {
			results[i] = vector
			hits++
			continue
		}
		missingIdx[text] = []int{i}
		missingKeys[text] = key
		uniqueMissing = append(uniqueMissing, text)
	}
	if a.cache != nil {
		recordCache(ctx, a.provider, hits, len(uniqueMissing))
	}
	if len(uniqueMissing) > 0 {
		embedded, err := a.embedBatches(ctx, uniqueMissing)
		if err != nil {
			return nil, err
		}
		for i, text := range uniqueMissing {
			for _, idx := range missingIdx[text] {
				results[idx] = cloneVector(embedded[i])
			}
		}
		if err := a.checkDimensions(results); err != nil {
			return nil, err
		}
		for i, text := range uniqueMissing {
			a.store(ctx, missingKeys[text], embedded[i])
		}
		return results, nil
	}
	if err := a.checkDimensions(results); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Adapter) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	batches := splitBatches(texts, a.batchSize)
	out := make([][][]float32, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, batch := range batches {
		g.Go(func() error {
			vectors, err := a.embedBatch(gctx, batch)
			if err != nil {
				return err
			}
			out[i] = vectors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	flat := make([][]float32, 0, len(texts))
	for i := range out {
		flat = append(flat, out[i]...)
	}
	return flat, nil
}

func (a *Adapter) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	err := a.withRetry(ctx, func(ctx context.Context) error {
		start := time.Now()
		result, err := a.impl.EmbedDocuments(ctx, batch)
		if err != nil {
			recordError(ctx, a.provider, a.model, err)
			return err
		}
		if len(result) != len(batch) {
			return core.NewError(
				core.KindEmbeddingService,
				fmt.Sprintf("embedding service returned %d vectors for %d texts", len(result), len(batch)),
				nil,
			)
		}
		recordGeneration(ctx, a.provider, a.model, len(batch), time.Since(start))
		vectors = result
		return nil
	})
	if err != nil {
		return nil, a.serviceError(err)
	}
	return vectors, nil
}

func (a *Adapter) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	return a.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			knowledge.RecordRemoteRetry(ctx, "embedding")
			logger.FromContext(ctx).Debug("Retrying embedding request", "provider", a.provider, "attempt", attempt)
		}
		return fn(ctx)
	})
}

func (a *Adapter) checkDimensions(vectors [][]float32) error {
	want := a.dimension
	for i := range vectors {
		got := len(vectors[i])
		if got == 0 {
			return core.NewError(core.KindEmbeddingService, "embedding service returned an empty vector", nil)
		}
		if want == 0 {
			want = got
			continue
		}
		if got != want {
			return core.NewError(
				core.KindEmbeddingService,
				fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", want, got),
				nil,
			)
		}
	}
	return nil
}

func (a *Adapter) serviceError(err error) error {
	return core.WrapKind(
		core.KindEmbeddingService,
		fmt.Sprintf("embedding service %s/%s failed", a.provider, a.model),
		err,
	)
}

func (a *Adapter) lookup(ctx context.Context, key string) ([]float32, bool) {
	if a.cache == nil {
		return nil, false
	}
	vector, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).Warn("Embedding cache lookup failed", "error", err)
		return nil, false
	}
	return vector, ok
}

func (a *Adapter) store(ctx context.Context, key string, vector []float32) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Set(ctx, key, vector); err != nil {
		logger.FromContext(ctx).Warn("Embedding cache write failed", "error", err)
	}
}

func splitBatches(texts []string, size int) [][]string {
	if size <= 0 {
		size = len(texts)
	}
	batches := make([][]string, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		batches = append(batches, texts[start:end])
	}
	return batches
}
