package retriever

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/engine/knowledge/vectordb"
	appconfig "github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
)

const (
	DefaultTopK    = 3
	defaultMaxTopK = 20
)

// QueryEmbedder turns a query into a vector in the same space as the index.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Settings bound how many chunks a query may pull from the index.
type Settings struct {
	Collection string
	TopK       int
	MaxTopK    int
	MinScore   float64
}

// SettingsFromApp maps the application configuration onto retrieval settings.
func SettingsFromApp(cfg *appconfig.Config) Settings {
	return Settings{
		Collection: cfg.VectorDB.Collection,
		TopK:       cfg.Retrieval.TopK,
		MaxTopK:    cfg.Retrieval.MaxTopK,
		MinScore:   cfg.Retrieval.MinScore,
	}
}

func (s Settings) normalized() Settings {
	if s.TopK <= 0 {
		s.TopK = DefaultTopK
	}
	if s.MaxTopK <= 0 {
		s.MaxTopK = defaultMaxTopK
	}
	if s.TopK > s.MaxTopK {
		s.TopK = s.MaxTopK
	}
	return s
}

// Service runs similarity search for chat queries.
type Service struct {
	embedder QueryEmbedder
	store    vectordb.Store
	settings Settings
	tracer   trace.Tracer
}

func NewService(emb QueryEmbedder, store vectordb.Store, settings Settings) (*Service, error) {
	if emb == nil {
		return nil, errors.New("knowledge: retriever embedder is required")
	}
	if store == nil {
		return nil, errors.New("knowledge: retriever vector store is required")
	}
	settings = settings.normalized()
	if err := vectordb.ValidateCollection(settings.Collection); err != nil {
		return nil, err
	}
	return &Service{
		embedder: emb,
		store:    store,
		settings: settings,
		tracer:   otel.Tracer("notebook.knowledge.retriever"),
	}, nil
}

// Collection returns the index the service searches.
func (s *Service) Collection() string {
	return s.settings.Collection
}

// Retrieve returns up to k chunks ordered by decreasing similarity. A k of
// zero or less selects the configured default. The result is never nil on
// success, even when nothing matched.
func (s *Service) Retrieve(ctx context.Context, query string, k int) (result *knowledge.RetrievalResult, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.ValidationError("query must not be empty")
	}
	topK := s.topK(k)
	collection := s.settings.Collection
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "notebook.knowledge.retriever.retrieve", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("top_k", topK),
	))
	defer s.finishRetrieve(ctx, span, start, &result, &err)

	logger.FromContext(ctx).Debug("Knowledge retrieval started", "collection", collection, "query_length", len(query))
	vector, err := s.embedQueryWithSpan(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := s.searchMatches(ctx, vector, vectordb.SearchOptions{TopK: topK, MinScore: s.settings.MinScore})
	if err != nil {
		return nil, err
	}
	result = &knowledge.RetrievalResult{
		Query:      query,
		Collection: collection,
		Chunks:     buildChunks(matches),
	}
	if result.Empty() {
		knowledge.RecordRetrievalEmpty(ctx, collection)
	}
	return result, nil
}

func (s *Service) topK(k int) int {
	if k <= 0 {
		k = s.settings.TopK
	}
	if k > s.settings.MaxTopK {
		k = s.settings.MaxTopK
	}
	return k
}

func (s *Service) embedQueryWithSpan(ctx context.Context, query string) ([]float32, error) {
	spanCtx, span := s.tracer.Start(ctx, "notebook.knowledge.retriever.embed_query")
	defer span.End()
	vector, err := s.embedder.Embed(spanCtx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("dimension", len(vector)))
	return vector, nil
}

func (s *Service) searchMatches(
	ctx context.Context,
	vector []float32,
	opts vectordb.SearchOptions,
) ([]vectordb.Match, error) {
	spanCtx, span := s.tracer.Start(ctx, "notebook.knowledge.retriever.vector_search", trace.WithAttributes(
		attribute.String("collection", s.settings.Collection),
		attribute.Int("top_k", opts.TopK),
	))
	defer span.End()
	matches, err := s.store.Search(spanCtx, s.settings.Collection, vector, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, core.WrapKind(core.KindVectorIndex, "vector index search failed", err)
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

func buildChunks(matches []vectordb.Match) []knowledge.RetrievedChunk {
	chunks := make([]knowledge.RetrievedChunk, 0, len(matches))
	for i := range matches {
		chunks = append(chunks, knowledge.RetrievedChunk{
			ID:    matches[i].ID,
			Score: matches[i].Score,
			Chunk: knowledge.TextChunk{
				Content:  matches[i].Text,
				Metadata: knowledge.MetadataFromMap(matches[i].Metadata),
			},
		})
	}
	return chunks
}

func (s *Service) finishRetrieve(
	ctx context.Context,
	span trace.Span,
	start time.Time,
	result **knowledge.RetrievalResult,
	runErr *error,
) {
	seconds := time.Since(start).Seconds()
	log := logger.FromContext(ctx).With("collection", s.settings.Collection)
	if runErr != nil && *runErr != nil {
		err := *runErr
		log.Error("Knowledge retrieval failed", "error", err, "duration_seconds", seconds)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	total := 0
	if result != nil && *result != nil {
		total = len((*result).Chunks)
	}
	log.Debug("Knowledge retrieval finished", "results", total, "duration_seconds", seconds)
	span.SetAttributes(attribute.Int("results", total))
	span.End()
}
