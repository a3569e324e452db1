package upload

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/compozy/notebook/cli/api"
	"github.com/compozy/notebook/cli/helpers"
	"github.com/compozy/notebook/cli/tui"
	"github.com/compozy/notebook/pkg/config"
)

// NewUploadCommand creates the command that uploads a file to a running server.
func NewUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a PDF or CSV file to a running server",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}
	cmd.Flags().String("base-url", "", "Server URL (overrides cli.base_url)")
	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	client, err := api.NewClient(cfg)
	if err != nil {
		return err
	}
	mode := helpers.DetectMode(cfg)
	printer := helpers.NewPrinter(cmd.OutOrStdout(), mode, helpers.ShouldUseColor())
	path := args[0]
	var result *api.UploadResult
	send := func(ctx context.Context) error {
		var err error
		result, err = client.Upload(ctx, path)
		return err
	}
	if mode == helpers.ModeText && helpers.IsInteractive() {
		err = tui.RunWithSpinner(ctx, cmd.ErrOrStderr(), "Uploading "+filepath.Base(path), send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return printer.Report("Upload complete", result,
		helpers.Field{Key: "File", Value: result.FileData.Filename},
		helpers.Field{Key: "Type", Value: result.FileData.Type},
		helpers.Field{Key: "Size", Value: fmt.Sprintf("%d bytes", result.FileData.Size)},
		helpers.Field{Key: "Chunks", Value: result.Chunks},
	)
}
