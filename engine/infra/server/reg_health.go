package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	statusOK       = "ok"
	healthyMessage = "healthy"
)

// Health endpoint
//
//	@Summary      Get server health
//	@Description  Reports liveness and the running version
//	@Tags         health
//	@Produce      json
//	@Success      200 {object} map[string]interface{} "Service is healthy"
//	@Router       /api/v1/health [get]
func CreateHealthHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"data": gin.H{
				"status":  statusOK,
				"version": version,
			},
			"message": healthyMessage,
		})
	}
}
