package router

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/pkg/logger"
)

// Response is the success envelope for every API endpoint.
type Response struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
}

// RespondOK writes a 200 response wrapped in the standard envelope.
func RespondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{Data: data, Message: message})
}

// RespondError classifies err and writes the matching error response.
func RespondError(c *gin.Context, err error) {
	RespondProblem(c, ProblemFromError(err))
}

// RespondProblem writes the error envelope and aborts the request.
func RespondProblem(c *gin.Context, problem *core.Problem) {
	prepared := core.NormalizeProblem(problem)
	body := core.BuildProblemBody(prepared)
	writeProblemResponse(c, prepared, body)
}

// ProblemFromError maps an error kind onto its HTTP status.
// Remote service failures caused by a deadline become 504.
func ProblemFromError(err error) *core.Problem {
	kind := core.KindOf(err)
	problem := &core.Problem{Kind: kind, Message: core.MessageOf(err)}
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		problem.Status = http.StatusRequestEntityTooLarge
		problem.Kind = core.KindValidation
	case kind == core.KindValidation:
		problem.Status = http.StatusBadRequest
	case kind == core.KindUnsupportedFormat:
		problem.Status = http.StatusUnsupportedMediaType
	case kind == core.KindCollectionMissing:
		problem.Status = http.StatusNotFound
	case kind == core.KindRateLimited:
		problem.Status = http.StatusTooManyRequests
	case kind == core.KindEmbeddingService, kind == core.KindGenerationService, kind == core.KindIndexWrite,
		kind == core.KindVectorIndex:
		problem.Status = http.StatusBadGateway
		if core.IsTimeout(err) {
			problem.Status = http.StatusGatewayTimeout
		}
	default:
		problem.Status = http.StatusInternalServerError
		problem.Kind = core.KindInternal
		problem.Message = "internal server error"
	}
	return problem
}

func writeProblemResponse(c *gin.Context, problem *core.Problem, body map[string]any) {
	logProblem(c, problem)
	payload, err := json.Marshal(body)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("failed to marshal problem", "err", err)
		fallback := []byte(`{"error":{"kind":"internal_error","message":"internal server error"}}`)
		c.Data(http.StatusInternalServerError, "application/json", fallback)
		c.Abort()
		return
	}
	c.Data(problem.Status, "application/json", payload)
	c.Abort()
}

func logProblem(c *gin.Context, problem *core.Problem) {
	log := logger.FromContext(c.Request.Context())
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []any{
		"status", problem.Status,
		"kind", problem.Kind,
		"message", problem.Message,
		"route", route,
		"path", c.Request.URL.Path,
	}
	if requestID := c.Request.Header.Get("X-Request-ID"); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if problem.Status >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
		return
	}
	log.Warn("request failed", fields...)
}
