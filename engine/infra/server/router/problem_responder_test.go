package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/notebook/engine/core"
)

func TestProblemFromError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   core.ErrorKind
	}{
		{"validation", core.ValidationError("query is required"), http.StatusBadRequest, core.KindValidation},
		{"unsupported", core.UnsupportedFormatError("bad type"), http.StatusUnsupportedMediaType, core.KindUnsupportedFormat},
		{"missing collection", core.CollectionNotFoundError("docs"), http.StatusNotFound, core.KindCollectionMissing},
		{
			"embedding",
			core.NewError(core.KindEmbeddingService, "embed failed", errors.New("500")),
			http.StatusBadGateway,
			core.KindEmbeddingService,
		},
		{
			"generation timeout",
			core.NewError(core.KindGenerationService, "generate failed", context.DeadlineExceeded),
			http.StatusGatewayTimeout,
			core.KindGenerationService,
		},
		{
			"index write",
			fmt.Errorf("run: %w", core.NewError(core.KindIndexWrite, "write failed", nil)),
			http.StatusBadGateway,
			core.KindIndexWrite,
		},
		{
			"vector index outage",
			core.WrapKind(core.KindVectorIndex, "search failed", errors.New("dial tcp: connection refused")),
			http.StatusBadGateway,
			core.KindVectorIndex,
		},
		{
			"vector index timeout",
			core.WrapKind(core.KindVectorIndex, "search failed", fmt.Errorf("qdrant: %w", context.DeadlineExceeded)),
			http.StatusGatewayTimeout,
			core.KindVectorIndex,
		},
		{"rate limited", core.NewError(core.KindRateLimited, "slow down", nil), http.StatusTooManyRequests, core.KindRateLimited},
		{"body too large", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, core.KindValidation},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, core.KindInternal},
	}
	for _, tc := range cases {
		t.Run("Should map "+tc.name, func(t *testing.T) {
			problem := ProblemFromError(tc.err)
			assert.Equal(t, tc.status, problem.Status)
			assert.Equal(t, tc.kind, problem.Kind)
			assert.NotEmpty(t, problem.Message)
		})
	}
}

func TestRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Should write the success envelope", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		RespondOK(c, "done", map[string]int{"chunks": 2})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":{"chunks":2},"message":"done"}`, w.Body.String())
	})

	t.Run("Should write the error envelope and abort", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/chat", http.NoBody)
		RespondError(c, core.ValidationError("query is required"))
		assert.True(t, c.IsAborted())
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body map[string]map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "validation_error", body["error"]["kind"])
		assert.Contains(t, body["error"]["message"], "query is required")
	})
}
