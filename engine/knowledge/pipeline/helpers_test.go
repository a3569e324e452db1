package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/engine/knowledge/document"
	"github.com/compozy/notebook/engine/knowledge/generation"
	"github.com/compozy/notebook/engine/knowledge/pipeline"
	"github.com/compozy/notebook/engine/knowledge/retriever"
	"github.com/compozy/notebook/engine/knowledge/vectordb"
)

const testCollection = "ai_notebook"

// topicEmbedder places texts on axes by keyword so similarity is predictable.
type topicEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *topicEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "refund"):
		return []float32{1, 0, 0}
	case strings.Contains(lower, "ship"):
		return []float32{0, 1, 0}
	case strings.Contains(lower, "office"):
		return []float32{1, 1, 1}
	default:
		return []float32{0, 0, 1}
	}
}

func (e *topicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *topicEmbedder) EmbedAll(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector(texts[i])
	}
	return out, nil
}

// flakyStore hides atomic upserts and fails the upsert numbered failOn.
type flakyStore struct {
	inner   *vectordb.MemoryStore
	failOn  int32
	upserts atomic.Int32
	mu      sync.Mutex
	deleted []string
}

func (s *flakyStore) Upsert(ctx context.Context, collection string, records []vectordb.Record) error {
	if s.upserts.Add(1) == s.failOn {
		return errors.New("503 service unavailable")
	}
	return s.inner.Upsert(ctx, collection, records)
}

func (s *flakyStore) Search(
	ctx context.Context,
	collection string,
	query []float32,
	opts vectordb.SearchOptions,
) ([]vectordb.Match, error) {
	return s.inner.Search(ctx, collection, query, opts)
}

func (s *flakyStore) Delete(ctx context.Context, collection string, ids []string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, ids...)
	s.mu.Unlock()
	return s.inner.Delete(ctx, collection, ids)
}

func (s *flakyStore) Close(context.Context) error { return nil }

type stubModel struct {
	calls   atomic.Int32
	mu      sync.Mutex
	systems []string
}

func (m *stubModel) GenerateContent(
	_ context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	m.calls.Add(1)
	m.mu.Lock()
	if part, ok := messages[0].Parts[0].(llms.TextContent); ok {
		m.systems = append(m.systems, part.Text)
	}
	m.mu.Unlock()
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:    "Refunds are processed within 30 days (policy.csv, row 1).",
		StopReason: "stop",
	}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func ingestSettings() pipeline.IngestSettings {
	return pipeline.IngestSettings{Collection: testCollection, BatchSize: 64, Dedupe: true}
}

func newIngest(t *testing.T, emb pipeline.BatchEmbedder, store vectordb.Store, settings pipeline.IngestSettings) *pipeline.IngestPipeline {
	t.Helper()
	p, err := pipeline.NewIngestPipeline(document.NewIngestor(), emb, store, settings)
	require.NoError(t, err)
	return p
}

func newQuery(t *testing.T, emb retriever.QueryEmbedder, store vectordb.Store, model llms.Model, minScore float64) *pipeline.QueryPipeline {
	t.Helper()
	ret, err := retriever.NewService(emb, store, retriever.Settings{Collection: testCollection, MinScore: minScore})
	require.NoError(t, err)
	client, err := generation.Wrap(&generation.Config{
		Provider: generation.ProviderOpenAI,
		Model:    "gemini-2.5-pro",
		Retry:    core.RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond},
	}, model)
	require.NoError(t, err)
	p, err := pipeline.NewQueryPipeline(ret, client, 0)
	require.NoError(t, err)
	return p
}

const policyCSV = "topic,answer\n" +
	"refund policy,Refunds are processed within 30 days.\n" +
	"shipping,Orders ship within 5 business days.\n" +
	"privacy,We never sell your data.\n"

// stage writes content into a fresh upload directory the way the upload
// handler does.
func stage(t *testing.T, name, mime string, content []byte) knowledge.UploadedDocument {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return knowledge.UploadedDocument{
		FileName:    name,
		MimeType:    mime,
		ByteSize:    int64(len(content)),
		StoragePath: path,
	}
}

func stagePDF(t *testing.T, name string, pages ...string) knowledge.UploadedDocument {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetCompression(false)
	for _, text := range pages {
		doc.AddPage()
		doc.SetFont("Helvetica", "", 12)
		doc.Cell(40, 10, text)
	}
	require.NoError(t, doc.OutputFileAndClose(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return knowledge.UploadedDocument{
		FileName:    name,
		MimeType:    "application/pdf",
		ByteSize:    info.Size(),
		StoragePath: path,
	}
}
