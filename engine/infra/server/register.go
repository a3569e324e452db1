package server

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/compozy/notebook/engine/infra/server/appstate"
	"github.com/compozy/notebook/engine/infra/server/middleware/size"
	knowledgerouter "github.com/compozy/notebook/engine/infra/server/router/knowledge"
	"github.com/compozy/notebook/engine/infra/server/routes"
	"github.com/compozy/notebook/pkg/logger"
)

func RegisterRoutes(ctx context.Context, router *gin.Engine, state *appstate.State) {
	apiBase := router.Group(routes.Base())
	apiBase.GET("/health", CreateHealthHandler(state.Version))
	knowledgerouter.Register(apiBase, size.BodySizeLimiter(state.MaxUploadBytes))
	logger.FromContext(ctx).Info("Completed route registration",
		"base", routes.Base(),
		"max_upload_bytes", state.MaxUploadBytes,
	)
}
