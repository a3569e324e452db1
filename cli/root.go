package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/notebook/cli/cmd/ask"
	configcmd "github.com/compozy/notebook/cli/cmd/config"
	"github.com/compozy/notebook/cli/cmd/ingest"
	"github.com/compozy/notebook/cli/cmd/serve"
	"github.com/compozy/notebook/cli/cmd/upload"
	versioncmd "github.com/compozy/notebook/cli/cmd/version"
	"github.com/compozy/notebook/cli/helpers"
	"github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
)

const (
	defaultConfigFile = "notebook.yaml"
	defaultEnvFile    = ".env"
)

// flagBindings maps command flags onto configuration paths. A flag only
// overrides the configuration when the user set it explicitly.
var flagBindings = map[string]string{
	"log-level":  "runtime.log_level",
	"format":     "cli.format",
	"base-url":   "cli.base_url",
	"host":       "server.host",
	"port":       "server.port",
	"collection": "vectordb.collection",
}

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "notebook",
		Short: "Chat with your PDF and CSV documents",
		Long: `notebook indexes PDF and CSV files into a vector database and answers
questions using only the indexed content.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", defaultConfigFile, "Path to the configuration file")
	flags.String("env-file", defaultEnvFile, "Path to an environment file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source locations in logs")
	flags.String("format", "", "Output format (auto, json, text)")

	root.AddCommand(
		serve.NewServeCommand(),
		ingest.NewIngestCommand(),
		upload.NewUploadCommand(),
		ask.NewAskCommand(),
		versioncmd.NewVersionCommand(),
		configcmd.NewConfigCommand(),
	)
	return root
}

// SetupGlobalConfig loads the configuration and logger for cmd and attaches
// both to its context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
	}
	svc := config.NewService()
	cfg, err := svc.Load(ctx, config.NewYAMLProvider(configFile), config.NewCLIProvider(flagOverrides(cmd)))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	_, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(cfg.Runtime.LogLevel, logJSON, logSource)
	ctx = config.ContextWithConfig(ctx, cfg)
	ctx = helpers.ContextWithConfigService(ctx, svc)
	ctx = logger.ContextWithLogger(ctx, log)
	cmd.SetContext(ctx)
	log.Debug("Configuration loaded", "file", configFile, "environment", cfg.Runtime.Environment)
	return nil
}

func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := make(map[string]any)
	for name, path := range flagBindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		overrides[path] = flag.Value.String()
	}
	return overrides
}
