package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/engine/knowledge/generation"
	"github.com/compozy/notebook/pkg/logger"
)

// QueryState is a step of the query state machine.
type QueryState string

const (
	StateQueryReceived QueryState = "query_received"
	StateQueryEmbedded QueryState = "embedded"
	StateRetrieved     QueryState = "retrieved"
	StateComposed      QueryState = "composed"
	StateGenerated     QueryState = "generated"
	StateQueryFailed   QueryState = "failed"
)

// Retriever returns the chunks most similar to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (*knowledge.RetrievalResult, error)
	Collection() string
}

// Answerer produces a grounded answer, or the fixed no-context answer when
// chunks is empty.
type Answerer interface {
	Answer(ctx context.Context, query string, chunks []knowledge.TextChunk) (*generation.Response, error)
}

// QueryResult is the tagged outcome of one chat query.
type QueryResult struct {
	Query     string
	Retrieval *knowledge.RetrievalResult
	Response  *generation.Response
	State     QueryState
	FailedAt  QueryState
	Duration  time.Duration
	Err       error
}

func (r *QueryResult) OK() bool {
	return r != nil && r.Err == nil
}

// QueryPipeline answers chat queries from the index.
type QueryPipeline struct {
	retriever Retriever
	answerer  Answerer
	topK      int
}

// NewQueryPipeline builds a pipeline; topK of zero uses the retriever default.
func NewQueryPipeline(retriever Retriever, answerer Answerer, topK int) (*QueryPipeline, error) {
	if retriever == nil {
		return nil, errors.New("query pipeline: retriever is required")
	}
	if answerer == nil {
		return nil, errors.New("query pipeline: answerer is required")
	}
	return &QueryPipeline{retriever: retriever, answerer: answerer, topK: topK}, nil
}

// Run answers query. An empty query fails before any remote call.
func (p *QueryPipeline) Run(ctx context.Context, query string) (result *QueryResult) {
	start := time.Now()
	collection := p.retriever.Collection()
	log := logger.FromContext(ctx).With("collection", collection)
	result = &QueryResult{Query: query, State: StateQueryReceived}
	defer func() {
		result.Duration = time.Since(start)
		p.finish(ctx, log, collection, result)
	}()
	query = strings.TrimSpace(query)
	if query == "" {
		result.Err = core.ValidationError("query must not be empty")
		return result
	}
	result.Query = query
	log.Debug("Query state", "state", StateQueryReceived, "query_length", len(query))
	retrieval, err := p.retriever.Retrieve(ctx, query, p.topK)
	if err != nil {
		if core.KindOf(err) != core.KindEmbeddingService {
			result.State = StateQueryEmbedded
		}
		result.Err = err
		return result
	}
	result.Retrieval = retrieval
	advanceQuery(log, result, StateQueryEmbedded)
	advanceQuery(log, result, StateRetrieved, "chunks", len(retrieval.Chunks))
	chunks := retrieval.TextChunks()
	advanceQuery(log, result, StateComposed, "context_chunks", len(chunks))
	response, err := p.answerer.Answer(ctx, query, chunks)
	if err != nil {
		result.Err = err
		return result
	}
	result.Response = response
	advanceQuery(log, result, StateGenerated)
	return result
}

func advanceQuery(log logger.Logger, result *QueryResult, state QueryState, keyvals ...any) {
	result.State = state
	log.Debug("Query state", append([]any{"state", state}, keyvals...)...)
}

func (p *QueryPipeline) finish(ctx context.Context, log logger.Logger, collection string, result *QueryResult) {
	knowledge.RecordQueryLatency(ctx, collection, result.Duration)
	if result.Err != nil {
		result.FailedAt = result.State
		result.State = StateQueryFailed
		kind := core.KindOf(result.Err)
		knowledge.RecordQueryOutcome(ctx, collection, string(StateQueryFailed), string(kind))
		log.Error("Chat query failed", "failed_at", result.FailedAt, "kind", kind, "error", result.Err)
		return
	}
	knowledge.RecordQueryOutcome(ctx, collection, string(result.State), "")
	log.Info("Chat query answered", "duration_seconds", result.Duration.Seconds())
}
