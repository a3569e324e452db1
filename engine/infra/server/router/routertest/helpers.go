// Package routertest provides app state doubles for handler tests.
package routertest

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/compozy/notebook/engine/infra/server/appstate"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/engine/knowledge/generation"
	"github.com/compozy/notebook/engine/knowledge/pipeline"
)

// StubIngest records each document and whether its staged file existed while
// the run was in progress.
type StubIngest struct {
	mu     sync.Mutex
	Docs   []knowledge.UploadedDocument
	Staged []bool
	Chunks int
	Err    error
}

func (s *StubIngest) Run(_ context.Context, doc knowledge.UploadedDocument) *pipeline.IngestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, statErr := os.Stat(doc.StoragePath)
	s.Docs = append(s.Docs, doc)
	s.Staged = append(s.Staged, statErr == nil)
	if s.Err != nil {
		return &pipeline.IngestResult{Document: doc, State: pipeline.StateFailed, Err: s.Err}
	}
	return &pipeline.IngestResult{Document: doc, Chunks: s.Chunks, State: pipeline.StateCleaned}
}

// StubQuery answers every query with Answer unless Err is set.
type StubQuery struct {
	mu      sync.Mutex
	Queries []string
	Answer  string
	Err     error
}

func (s *StubQuery) Run(_ context.Context, query string) *pipeline.QueryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries = append(s.Queries, query)
	if s.Err != nil {
		return &pipeline.QueryResult{Query: query, State: pipeline.StateQueryFailed, Err: s.Err}
	}
	return &pipeline.QueryResult{
		Query: query,
		State: pipeline.StateGenerated,
		Response: &generation.Response{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  "test-model",
			Choices: []generation.Choice{{
				Message:      generation.Message{Role: "assistant", Content: s.Answer},
				FinishReason: "stop",
			}},
		},
	}
}

// NewTestAppState builds an app state with an isolated upload directory.
func NewTestAppState(t *testing.T, ingest appstate.IngestRunner, query appstate.QueryRunner, limit int64) *appstate.State {
	t.Helper()
	state, err := appstate.NewState(appstate.NewBaseDeps(ingest, query), t.TempDir(), limit)
	if err != nil {
		t.Fatalf("build app state: %v", err)
	}
	state.Version = "test"
	return state
}
