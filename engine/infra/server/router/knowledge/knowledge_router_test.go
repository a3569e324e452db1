package knowledgerouter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/infra/server/appstate"
	"github.com/compozy/notebook/engine/infra/server/middleware/size"
	knowledgerouter "github.com/compozy/notebook/engine/infra/server/router/knowledge"
	"github.com/compozy/notebook/engine/infra/server/router/routertest"
	"github.com/compozy/notebook/engine/infra/server/routes"
	"github.com/compozy/notebook/engine/knowledge/generation"
)

func setupRouter(
	t *testing.T,
	ingest *routertest.StubIngest,
	query *routertest.StubQuery,
	limit int64,
) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	state := routertest.NewTestAppState(t, ingest, query, limit)
	r := gin.New()
	r.Use(appstate.StateMiddleware(state))
	knowledgerouter.Register(r.Group(routes.Base()), size.BodySizeLimiter(limit))
	return r, state.UploadDir
}

func multipartBody(t *testing.T, field, name, mime string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
	header.Set("Content-Type", mime)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func upload(r *gin.Engine, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, routes.Upload(), body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func chat(r *gin.Engine, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, routes.Chat(), strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestUpload(t *testing.T) {
	t.Run("Should stage the file and return file data", func(t *testing.T) {
		ingest := &routertest.StubIngest{Chunks: 3}
		r, dir := setupRouter(t, ingest, &routertest.StubQuery{Answer: "Refunds take 30 days."}, 1<<20)
		content := []byte("topic,answer\nrefund,30 days\n")
		body, ct := multipartBody(t, "file", "policy.csv", "text/csv", content)
		w := upload(r, body, ct)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Data struct {
				FileData struct {
					Filename string `json:"filename"`
					Type     string `json:"type"`
					Size     int64  `json:"size"`
				} `json:"file_data"`
				Chunks int `json:"chunks"`
			} `json:"data"`
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "vector embedding make successfully", resp.Message)
		assert.Equal(t, "policy.csv", resp.Data.FileData.Filename)
		assert.Equal(t, "text/csv", resp.Data.FileData.Type)
		assert.Equal(t, int64(len(content)), resp.Data.FileData.Size)
		assert.Equal(t, 3, resp.Data.Chunks)
		require.Len(t, ingest.Docs, 1)
		assert.True(t, ingest.Staged[0], "file should be staged while the pipeline runs")
		assert.True(t, strings.HasPrefix(ingest.Docs[0].StoragePath, dir))
		_, err := os.Stat(ingest.Docs[0].StoragePath)
		assert.True(t, errors.Is(err, os.ErrNotExist), "staged file should be removed after the request")
	})

	t.Run("Should reject a request without the file field", func(t *testing.T) {
		ingest := &routertest.StubIngest{}
		r, _ := setupRouter(t, ingest, &routertest.StubQuery{Answer: "Refunds take 30 days."}, 1<<20)
		body, ct := multipartBody(t, "document", "policy.csv", "text/csv", []byte("a,b\n1,2\n"))
		w := upload(r, body, ct)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation_error", decodeError(t, w).Error.Kind)
		assert.Empty(t, ingest.Docs)
	})

	t.Run("Should map unsupported formats to 415", func(t *testing.T) {
		ingest := &routertest.StubIngest{Err: core.UnsupportedFormatError("unsupported file type %q", "text/plain")}
		r, _ := setupRouter(t, ingest, &routertest.StubQuery{Answer: "Refunds take 30 days."}, 1<<20)
		body, ct := multipartBody(t, "file", "notes.txt", "text/plain", []byte("hello"))
		w := upload(r, body, ct)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		assert.Equal(t, "unsupported_format", decodeError(t, w).Error.Kind)
	})

	t.Run("Should map embedding failures to 502 and timeouts to 504", func(t *testing.T) {
		ingest := &routertest.StubIngest{Err: core.NewError(core.KindEmbeddingService, "embedding failed", errors.New("500"))}
		r, _ := setupRouter(t, ingest, &routertest.StubQuery{Answer: "Refunds take 30 days."}, 1<<20)
		body, ct := multipartBody(t, "file", "policy.csv", "text/csv", []byte("a,b\n1,2\n"))
		assert.Equal(t, http.StatusBadGateway, upload(r, body, ct).Code)

		ingest.Err = core.NewError(core.KindIndexWrite, "index write failed", context.DeadlineExceeded)
		body, ct = multipartBody(t, "file", "policy.csv", "text/csv", []byte("a,b\n1,2\n"))
		w := upload(r, body, ct)
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		assert.Equal(t, "index_write_error", decodeError(t, w).Error.Kind)
	})

	t.Run("Should reject bodies above the upload limit", func(t *testing.T) {
		ingest := &routertest.StubIngest{}
		r, _ := setupRouter(t, ingest, &routertest.StubQuery{Answer: "Refunds take 30 days."}, 256)
		body, ct := multipartBody(t, "file", "big.csv", "text/csv", bytes.Repeat([]byte("x"), 1024))
		w := upload(r, body, ct)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "validation_error", decodeError(t, w).Error.Kind)
		assert.Empty(t, ingest.Docs)
	})
}

func TestChat(t *testing.T) {
	t.Run("Should wrap the generation response", func(t *testing.T) {
		query := &routertest.StubQuery{Answer: "Refunds take 30 days."}
		r, _ := setupRouter(t, &routertest.StubIngest{}, query, 1<<20)
		w := chat(r, `{"query":"What is the refund policy?"}`)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data    generation.Response `json:"data"`
			Message string              `json:"message"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "AI generated response", resp.Message)
		assert.Equal(t, "Refunds take 30 days.", resp.Data.Text())
		assert.Equal(t, []string{"What is the refund policy?"}, query.Queries)
	})

	t.Run("Should reject empty or missing queries before running the pipeline", func(t *testing.T) {
		query := &routertest.StubQuery{Answer: "Refunds take 30 days."}
		r, _ := setupRouter(t, &routertest.StubIngest{}, query, 1<<20)
		for _, payload := range []string{`{"query":""}`, `{"query":"   "}`, `{}`, `not json`} {
			w := chat(r, payload)
			assert.Equal(t, http.StatusBadRequest, w.Code, payload)
			assert.Equal(t, "validation_error", decodeError(t, w).Error.Kind)
		}
		assert.Empty(t, query.Queries)
	})

	t.Run("Should map a missing collection to 404", func(t *testing.T) {
		query := &routertest.StubQuery{Err: core.CollectionNotFoundError("ai_notebook")}
		r, _ := setupRouter(t, &routertest.StubIngest{}, query, 1<<20)
		w := chat(r, `{"query":"hello"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "collection_not_found", decodeError(t, w).Error.Kind)
	})

	t.Run("Should map vector index outages to 502 and timeouts to 504", func(t *testing.T) {
		refused := errors.New("qdrant: request failed: dial tcp 127.0.0.1:6333: connection refused")
		query := &routertest.StubQuery{Err: core.NewError(core.KindVectorIndex, "vector index search failed", refused)}
		r, _ := setupRouter(t, &routertest.StubIngest{}, query, 1<<20)
		w := chat(r, `{"query":"hello"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		env := decodeError(t, w)
		assert.Equal(t, "vector_index_error", env.Error.Kind)
		assert.Contains(t, env.Error.Message, "connection refused")

		query.Err = core.NewError(core.KindVectorIndex, "vector index search failed", context.DeadlineExceeded)
		w = chat(r, `{"query":"hello"}`)
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		assert.Equal(t, "vector_index_error", decodeError(t, w).Error.Kind)
	})

	t.Run("Should hide internal error details", func(t *testing.T) {
		query := &routertest.StubQuery{Err: errors.New("pq: password authentication failed")}
		r, _ := setupRouter(t, &routertest.StubIngest{}, query, 1<<20)
		w := chat(r, `{"query":"hello"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		env := decodeError(t, w)
		assert.Equal(t, "internal_error", env.Error.Kind)
		assert.NotContains(t, env.Error.Message, "password")
	})
}
