package serve

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/compozy/notebook/cli/helpers"
	"github.com/compozy/notebook/engine/infra/server"
	"github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
)

const productionEnvironment = "production"

// NewServeCommand creates the command that runs the HTTP API.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start", "server"},
		Short:   "Start the notebook HTTP server",
		Long: `Start the HTTP API that accepts uploads and chat queries.
The server shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("host", "", "Interface to bind (overrides server.host)")
	cmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	log := logger.FromContext(ctx)
	if cfg.Runtime.LogLevel == "debug" && cfg.Runtime.Environment != productionEnvironment {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Runtime.Environment == productionEnvironment {
		logProductionWarnings(cmd, cfg)
	}
	if err := helpers.EnsurePortAvailable(ctx, cfg.Server.Host, cfg.Server.Port); err != nil {
		return err
	}
	srv, err := server.NewServer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	log.Info("Starting notebook server", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := srv.Run(); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func logProductionWarnings(cmd *cobra.Command, cfg *config.Config) {
	log := logger.FromContext(cmd.Context())
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			log.Warn("CORS allows every origin in production", "setting", "server.allowed_origins")
			break
		}
	}
	if !cfg.RateLimit.Enabled {
		log.Warn("Rate limiting is disabled in production", "setting", "ratelimit.enabled")
	}
	if cfg.LLM.APIKey.Value() == "" {
		log.Warn("No LLM API key configured", "setting", "llm.api_key")
	}
}
