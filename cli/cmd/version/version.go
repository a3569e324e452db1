package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/notebook/cli/api"
	"github.com/compozy/notebook/cli/helpers"
	"github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
	pkgversion "github.com/compozy/notebook/pkg/version"
)

type report struct {
	Client pkgversion.Info `json:"client"`
	Server string          `json:"server,omitempty"`
}

// NewVersionCommand creates the command that prints build information.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}
	cmd.Flags().Bool("server", false, "Also report the version of the server at cli.base_url")
	cmd.Flags().String("base-url", "", "Server URL (overrides cli.base_url)")
	return cmd
}

func runVersion(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	out := report{Client: pkgversion.Get()}
	withServer, err := cmd.Flags().GetBool("server")
	if err != nil {
		return err
	}
	if withServer {
		client, err := api.NewClient(cfg, api.WithRetries(0))
		if err != nil {
			return err
		}
		health, err := client.Health(ctx)
		if err != nil {
			return fmt.Errorf("failed to reach server: %w", err)
		}
		out.Server = health.Version
		logger.FromContext(ctx).Debug("Server is healthy", "url", client.BaseURL(), "status", health.Status)
	}
	printer := helpers.NewPrinter(cmd.OutOrStdout(), helpers.DetectMode(cfg), helpers.ShouldUseColor())
	if printer.Mode() == helpers.ModeJSON {
		return printer.JSON(out)
	}
	if err := printer.Text(out.Client.String()); err != nil {
		return err
	}
	if out.Server != "" {
		return printer.Text("server " + out.Server)
	}
	return nil
}
