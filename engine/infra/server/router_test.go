package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/infra/monitoring"
	"github.com/compozy/notebook/engine/infra/server/appstate"
	"github.com/compozy/notebook/engine/infra/server/routes"
	"github.com/compozy/notebook/engine/knowledge/document"
	"github.com/compozy/notebook/engine/knowledge/generation"
	"github.com/compozy/notebook/engine/knowledge/pipeline"
	"github.com/compozy/notebook/engine/knowledge/retriever"
	"github.com/compozy/notebook/engine/knowledge/vectordb"
	"github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
)

const testCollection = "ai_notebook"

// keywordEmbedder maps texts onto fixed axes so retrieval is deterministic.
type keywordEmbedder struct{}

func (keywordEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "refund"):
		return []float32{1, 0, 0}
	case strings.Contains(lower, "ship"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func (e keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e keywordEmbedder) EmbedAll(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector(texts[i])
	}
	return out, nil
}

type recordingModel struct {
	mu      sync.Mutex
	prompts []string
}

func (m *recordingModel) GenerateContent(
	_ context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	m.mu.Lock()
	if part, ok := messages[0].Parts[0].(llms.TextContent); ok {
		m.prompts = append(m.prompts, part.Text)
	}
	m.mu.Unlock()
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:    "Refunds are processed within 30 days.",
		StopReason: "stop",
	}}}, nil
}

func (m *recordingModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

type testEnv struct {
	router *gin.Engine
	model  *recordingModel
	store  *vectordb.MemoryStore
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config), mon *monitoring.Service) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	ctx := logger.ContextWithLogger(t.Context(), logger.NewLogger(logger.TestConfig()))
	ctx = config.ContextWithConfig(ctx, cfg)
	store := vectordb.NewMemoryStore(vectordb.MetricCosine)
	emb := keywordEmbedder{}
	ingest, err := pipeline.NewIngestPipeline(document.NewIngestor(), emb, store, pipeline.IngestSettings{
		Collection: testCollection,
		BatchSize:  64,
		Dedupe:     true,
	})
	require.NoError(t, err)
	ret, err := retriever.NewService(emb, store, retriever.Settings{Collection: testCollection})
	require.NoError(t, err)
	model := &recordingModel{}
	gen, err := generation.Wrap(&generation.Config{
		Provider: generation.ProviderOpenAI,
		Model:    "gpt-4o-mini",
		Retry:    core.RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond},
	}, model)
	require.NoError(t, err)
	query, err := pipeline.NewQueryPipeline(ret, gen, 3)
	require.NoError(t, err)
	state, err := appstate.NewState(appstate.NewBaseDeps(ingest, query), t.TempDir(), cfg.Server.MaxUploadBytes)
	require.NoError(t, err)
	state.Version = "v0.0.0-test"
	r, err := NewRouter(ctx, state, RouterOptions{Monitoring: mon})
	require.NoError(t, err)
	return &testEnv{router: r, model: model, store: store}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func pdfBytes(t *testing.T, pages ...string) []byte {
	t.Helper()
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetCompression(false)
	for _, text := range pages {
		doc.AddPage()
		doc.SetFont("Helvetica", "", 12)
		doc.Cell(40, 10, text)
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, name, mime string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	header.Set("Content-Type", mime)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, routes.Upload(), body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func chatRequest(query string) *http.Request {
	payload, _ := json.Marshal(map[string]string{"query": query})
	req := httptest.NewRequest(http.MethodPost, routes.Chat(), bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRouter_UploadAndChat(t *testing.T) {
	t.Run("Should index a two page PDF and answer from it", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		content := pdfBytes(t, "Refunds are processed within 30 days.", "Orders ship within 5 business days.")
		w := env.do(uploadRequest(t, "notes.pdf", "application/pdf", content))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		expected := map[string]any{
			"data": map[string]any{
				"file_data": map[string]any{
					"filename": "notes.pdf",
					"type":     "application/pdf",
					"size":     float64(len(content)),
				},
				"chunks": float64(2),
			},
			"message": "vector embedding make successfully",
		}
		var got map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, expected, got)
		assert.Equal(t, 2, env.store.Count(testCollection))

		w = env.do(chatRequest("What is the refund policy?"))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Data    generation.Response `json:"data"`
			Message string              `json:"message"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "AI generated response", resp.Message)
		assert.Contains(t, resp.Data.Text(), "30 days")
		require.NotEmpty(t, resp.Data.Sources)
		assert.Equal(t, "notes.pdf", resp.Data.Sources[0].FileName)
		assert.Equal(t, 1, resp.Data.Sources[0].Page)
		require.Len(t, env.model.prompts, 1)
		assert.Contains(t, env.model.prompts[0], "Refunds are processed within 30 days.")
	})

	t.Run("Should return 404 when chatting before any upload", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		w := env.do(chatRequest("What is the refund policy?"))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), `"kind":"collection_not_found"`)
		assert.Empty(t, env.model.prompts)
	})

	t.Run("Should reject unsupported uploads with 415", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		w := env.do(uploadRequest(t, "notes.txt", "text/plain", []byte("plain text")))
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		assert.Contains(t, w.Body.String(), `"kind":"unsupported_format"`)
	})
}

func TestRouter_Health(t *testing.T) {
	t.Run("Should report status and version", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		w := env.do(httptest.NewRequest(http.MethodGet, routes.Health(), http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":{"status":"ok","version":"v0.0.0-test"},"message":"healthy"}`, w.Body.String())
	})
}

func TestRouter_Middleware(t *testing.T) {
	t.Run("Should answer CORS preflight for allowed origins", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *config.Config) {
			cfg.Server.CORSEnabled = true
			cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
		}, nil)
		req := httptest.NewRequest(http.MethodOptions, routes.Chat(), http.NoBody)
		req.Header.Set("Origin", "http://localhost:3000")
		w := env.do(req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest(http.MethodOptions, routes.Chat(), http.NoBody)
		req.Header.Set("Origin", "http://evil.test")
		w = env.do(req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Should rate limit chat but not health", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *config.Config) {
			cfg.RateLimit.Enabled = true
			cfg.RateLimit.Store = "memory"
			cfg.RateLimit.Limit = 1
			cfg.RateLimit.Period = time.Minute
		}, nil)
		assert.Equal(t, http.StatusNotFound, env.do(chatRequest("hello")).Code)
		w := env.do(chatRequest("hello"))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), `"kind":"rate_limited"`)
		for range 3 {
			assert.Equal(t, http.StatusOK, env.do(httptest.NewRequest(http.MethodGet, routes.Health(), http.NoBody)).Code)
		}
	})

	t.Run("Should expose Prometheus metrics when monitoring is enabled", func(t *testing.T) {
		mon, err := monitoring.NewService(t.Context(), &monitoring.Config{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = mon.Shutdown(context.WithoutCancel(t.Context())) })
		env := newTestEnv(t, nil, mon)
		env.do(httptest.NewRequest(http.MethodGet, routes.Health(), http.NoBody))
		w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})

	t.Run("Should not mount metrics when monitoring is disabled", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRecoveryHandler(t *testing.T) {
	t.Run("Should convert panics into internal errors", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		r := gin.New()
		r.Use(gin.CustomRecovery(RecoveryHandler))
		r.GET("/panic", func(*gin.Context) { panic("boom") })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", http.NoBody))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), `"kind":"internal_error"`)
		assert.NotContains(t, w.Body.String(), "boom")
	})
}
