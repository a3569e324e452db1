package size

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/infra/server/router"
)

// BodySizeLimiter caps the request body at limit bytes. Requests that declare
// a larger Content-Length are rejected before the body is read; the rest fail
// with *http.MaxBytesError once the handler reads past the limit.
func BodySizeLimiter(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			router.RespondProblem(c, &core.Problem{
				Status:  http.StatusRequestEntityTooLarge,
				Kind:    core.KindValidation,
				Message: fmt.Sprintf("request body exceeds %d bytes", limit),
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
