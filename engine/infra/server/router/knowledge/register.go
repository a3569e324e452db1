package knowledgerouter

import "github.com/gin-gonic/gin"

// Register mounts the document routes. uploadLimits run before the upload
// handler only.
func Register(apiBase *gin.RouterGroup, uploadLimits ...gin.HandlerFunc) {
	// POST /api/v1/upload
	// Parse, embed and index one document
	apiBase.POST("/upload", append(uploadLimits, uploadDocument)...)

	// POST /api/v1/chat
	// Answer a query from the indexed documents
	apiBase.POST("/chat", chat)
}
