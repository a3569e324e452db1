package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/compozy/notebook/engine/infra/monitoring"
	"github.com/compozy/notebook/engine/infra/server/appstate"
	"github.com/compozy/notebook/engine/infra/server/middleware/ratelimit"
	"github.com/compozy/notebook/engine/infra/server/routes"
	"github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
	"github.com/compozy/notebook/pkg/version"
)

// RouterOptions carries the optional infrastructure the router wires in.
type RouterOptions struct {
	Monitoring *monitoring.Service
	Redis      redis.UniversalClient
}

// NewRouter assembles middleware and routes. Configuration and logger are
// read from ctx.
func NewRouter(ctx context.Context, state *appstate.State, opts RouterOptions) (*gin.Engine, error) {
	cfg := config.FromContext(ctx)
	log := logger.FromContext(ctx)
	r := gin.New()
	r.Use(gin.CustomRecovery(RecoveryHandler))
	monitored := opts.Monitoring != nil && opts.Monitoring.IsInitialized()
	if monitored {
		r.Use(opts.Monitoring.GinMiddleware())
	}
	r.Use(LoggerMiddleware(log))
	if cfg.Server.CORSEnabled {
		r.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	}
	if cfg.RateLimit.Enabled {
		manager, err := ratelimit.NewManager(ratelimit.ConfigFromApp(cfg), opts.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rate limiting: %w", err)
		}
		r.Use(manager.Middleware())
		log.Info("Rate limiter initialized",
			"driver", manager.StoreName(),
			"limit", cfg.RateLimit.Limit,
			"period", cfg.RateLimit.Period)
	}
	r.Use(appstate.StateMiddleware(state))
	if monitored {
		r.GET(opts.Monitoring.Path(), gin.WrapH(opts.Monitoring.ExporterHandler()))
	}
	RegisterRoutes(ctx, r, state)
	return r, nil
}

func (s *Server) buildRouter(state *appstate.State) error {
	r, err := NewRouter(s.ctx, state, RouterOptions{Monitoring: s.monitoring, Redis: s.RedisClient()})
	if err != nil {
		return err
	}
	s.router = r
	return nil
}

func (s *Server) logStartupBanner() {
	log := logger.FromContext(s.ctx)
	httpURL := fmt.Sprintf("http://%s:%d", friendlyHost(s.serverConfig.Host), s.serverConfig.Port)
	lines := []string{
		fmt.Sprintf("Notebook %s", version.Get().Version),
		fmt.Sprintf("  Upload  > %s%s", httpURL, routes.Upload()),
		fmt.Sprintf("  Chat    > %s%s", httpURL, routes.Chat()),
		fmt.Sprintf("  Health  > %s%s", httpURL, routes.Health()),
	}
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		lines = append(lines, fmt.Sprintf("  Metrics > %s%s", httpURL, s.monitoring.Path()))
	}
	log.Info("\n" + strings.Join(lines, "\n"))
}

func friendlyHost(h string) string {
	if h == hostAny || h == "::" || h == "" {
		return hostLoopback
	}
	return h
}
