package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/compozy/notebook/engine/infra/cache"
	"github.com/compozy/notebook/engine/infra/monitoring"
	"github.com/compozy/notebook/engine/infra/server/appstate"
	"github.com/compozy/notebook/engine/knowledge/pipeline"
	"github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
	"github.com/compozy/notebook/pkg/version"
)

func (s *Server) setupMonitoring(cfg *config.Config) func() {
	log := logger.FromContext(s.ctx)
	monitoringStart := time.Now()
	monitoringService, err := monitoring.NewService(s.ctx, monitoring.FromAppConfig(cfg))
	monitoringDuration := time.Since(monitoringStart)
	if err != nil {
		log.Error("Failed to initialize monitoring service", "error", err, "duration", monitoringDuration)
		s.monitoring = nil
		return func() {}
	}
	s.monitoring = monitoringService
	if !monitoringService.IsInitialized() {
		log.Info("Monitoring is disabled in the configuration", "duration", monitoringDuration)
		return func() {}
	}
	monitoringService.SetAsGlobal()
	log.Info("Monitoring service initialized successfully",
		"path", monitoringService.Path(),
		"duration", monitoringDuration)
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), monitoringShutdownTimeout)
		defer cancel()
		if err := monitoringService.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown monitoring service", "error", err)
		}
	}
}

func (s *Server) setupRedis(cfg *config.Config) (func(), error) {
	if !cache.Required(cfg) {
		return func() {}, nil
	}
	start := time.Now()
	client, err := cache.NewRedis(s.ctx, cache.FromAppConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.redis = client
	logger.FromContext(s.ctx).Debug("Redis ready", "duration", time.Since(start))
	return func() {
		if err := client.Close(); err != nil {
			logger.FromContext(s.ctx).Error("Failed to close redis", "error", err)
		}
	}, nil
}

// RedisClient returns the shared client, nil when no component needs redis.
func (s *Server) RedisClient() redis.UniversalClient {
	if s.redis == nil {
		return nil
	}
	return s.redis.Client()
}

func (s *Server) setupDependencies() (*appstate.State, []func(), error) {
	cleanupFuncs := make([]func(), 0, 3)
	cfg := config.FromContext(s.ctx)
	setupStart := time.Now()
	cleanupFuncs = appendCleanup(cleanupFuncs, s.setupMonitoring(cfg))
	redisCleanup, err := s.setupRedis(cfg)
	if err != nil {
		return nil, cleanupFuncs, err
	}
	cleanupFuncs = appendCleanup(cleanupFuncs, redisCleanup)
	components, err := pipeline.NewComponents(s.ctx, cfg, pipeline.WithRedis(s.RedisClient()))
	if err != nil {
		return nil, cleanupFuncs, err
	}
	cleanupFuncs = appendCleanup(cleanupFuncs, func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), cleanupTimeout)
		defer cancel()
		if err := components.Close(ctx); err != nil {
			logger.FromContext(s.ctx).Error("Failed to close vector store", "error", err)
		}
	})
	state, err := buildAppState(s.ctx, cfg, components)
	if err != nil {
		return nil, cleanupFuncs, err
	}
	s.emitStartupSummary(cfg, time.Since(setupStart))
	return state, cleanupFuncs, nil
}

func buildAppState(ctx context.Context, cfg *config.Config, components *pipeline.Components) (*appstate.State, error) {
	ingest, err := components.IngestPipeline()
	if err != nil {
		return nil, fmt.Errorf("failed to build ingest pipeline: %w", err)
	}
	query, err := components.QueryPipeline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build query pipeline: %w", err)
	}
	state, err := appstate.NewState(appstate.NewBaseDeps(ingest, query), cfg.Upload.Dir, cfg.Server.MaxUploadBytes)
	if err != nil {
		return nil, errors.Join(errors.New("failed to build app state"), err)
	}
	state.Version = version.Get().Version
	return state, nil
}

func appendCleanup(cleanups []func(), cleanup func()) []func() {
	if cleanup == nil {
		return cleanups
	}
	return append(cleanups, cleanup)
}

func (s *Server) emitStartupSummary(cfg *config.Config, total time.Duration) {
	cacheDriver := cfg.Embedder.Cache.Backend
	rateLimitDriver := "disabled"
	if cfg.RateLimit.Enabled {
		rateLimitDriver = cfg.RateLimit.Store
	}
	logger.FromContext(s.ctx).Info("Server dependencies setup completed",
		"total_duration", total,
		"vector_db", cfg.VectorDB.Provider,
		"cache_driver", cacheDriver,
		"ratelimit_driver", rateLimitDriver,
		"monitoring", s.monitoring != nil && s.monitoring.IsInitialized(),
	)
}

func (s *Server) cleanup(cleanupFuncs []func()) {
	log := logger.FromContext(s.ctx)
	for i := len(cleanupFuncs) - 1; i >= 0; i-- {
		idx := len(cleanupFuncs) - 1 - i
		log.Debug("Running cleanup function", "index", idx, "total", len(cleanupFuncs), "timeout", cleanupTimeout)
		s.runCleanupWithTimeout(cleanupFuncs[i], cleanupTimeout, idx)
	}
}

func (s *Server) runCleanupWithTimeout(fn func(), timeout time.Duration, index int) {
	log := logger.FromContext(s.ctx)
	done := make(chan struct{})
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Cleanup function panicked", "index", index, "panic", r)
			}
			close(done)
		}()
		fn()
	}()
	select {
	case <-done:
		log.Debug("Cleanup function completed", "index", index, "duration", time.Since(start))
	case <-time.After(timeout):
		log.Warn("Cleanup function exceeded timeout", "index", index, "timeout", timeout, "elapsed", time.Since(start))
	}
}
