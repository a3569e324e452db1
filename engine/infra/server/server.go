package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compozy/notebook/engine/infra/cache"
	"github.com/compozy/notebook/engine/infra/monitoring"
	"github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
)

const (
	monitoringShutdownTimeout = 5 * time.Second
	serverShutdownTimeout     = 10 * time.Second
	cleanupTimeout            = 30 * time.Second
	hostAny                   = "0.0.0.0"
	hostLoopback              = "127.0.0.1"
)

type Server struct {
	serverConfig *config.ServerConfig
	router       *gin.Engine
	monitoring   *monitoring.Service
	redis        *cache.Redis
	ctx          context.Context
	cancel       context.CancelFunc
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// NewServer reads configuration from ctx; attach it with
// config.ContextWithConfig.
func NewServer(ctx context.Context) (*Server, error) {
	serverCtx, cancel := context.WithCancel(ctx)
	cfg := config.FromContext(serverCtx)
	if cfg == nil {
		cancel()
		return nil, fmt.Errorf("configuration missing from context; attach it with config.ContextWithConfig")
	}
	return &Server{
		serverConfig: &cfg.Server,
		ctx:          serverCtx,
		cancel:       cancel,
	}, nil
}

// Run builds every dependency, serves HTTP and blocks until SIGINT, SIGTERM
// or cancellation of the parent context.
func (s *Server) Run() error {
	state, cleanupFuncs, err := s.setupDependencies()
	defer s.cleanup(cleanupFuncs)
	if err != nil {
		return err
	}
	if err := s.buildRouter(state); err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	return s.startAndRunServer()
}

// Handler exposes the router once dependencies are built. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) startAndRunServer() error {
	srv := s.createHTTPServer()
	s.httpServer = srv
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logStartupBanner()
	return s.handleGracefulShutdown(srv, errCh)
}

func (s *Server) createHTTPServer() *http.Server {
	addr := net.JoinHostPort(s.serverConfig.Host, strconv.Itoa(s.serverConfig.Port))
	logger.FromContext(s.ctx).Info("Starting HTTP server", "address", fmt.Sprintf("http://%s", addr))
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       s.serverConfig.ReadTimeout,
		ReadHeaderTimeout: s.serverConfig.ReadTimeout,
		WriteTimeout:      s.serverConfig.WriteTimeout,
		IdleTimeout:       s.serverConfig.IdleTimeout,
	}
}

func (s *Server) handleGracefulShutdown(srv *http.Server, errCh <-chan error) error {
	log := logger.FromContext(s.ctx)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			s.cancel()
			return fmt.Errorf("server failed to start: %w", err)
		}
	case sig := <-quit:
		log.Debug("Received shutdown signal, initiating graceful shutdown", "signal", sig.String())
	case <-s.ctx.Done():
		log.Debug("Server context canceled, initiating graceful shutdown")
	}
	return s.Shutdown()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		timeout := s.serverConfig.ShutdownTimeout
		if timeout <= 0 {
			timeout = serverShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), timeout)
		defer cancel()
		if s.httpServer != nil {
			if shutdownErr := s.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
				err = fmt.Errorf("server shutdown failed: %w", shutdownErr)
			}
		}
		s.cancel()
		if err == nil {
			logger.FromContext(s.ctx).Info("Server shutdown completed successfully")
		}
	})
	return err
}
