package ask

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compozy/notebook/cli/api"
	"github.com/compozy/notebook/cli/helpers"
	"github.com/compozy/notebook/cli/tui"
	"github.com/compozy/notebook/engine/knowledge/generation"
	"github.com/compozy/notebook/pkg/config"
)

// NewAskCommand creates the command that sends a chat query to a running server.
func NewAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the uploaded documents",
		Long: `Ask a question about the uploaded documents. Words after the command are
joined into the question. Without arguments the question is prompted for on an
interactive terminal.`,
		RunE: runAsk,
	}
	cmd.Flags().String("base-url", "", "Server URL (overrides cli.base_url)")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	client, err := api.NewClient(cfg)
	if err != nil {
		return err
	}
	mode := helpers.DetectMode(cfg)
	question, err := resolveQuestion(ctx, args, mode)
	if err != nil {
		return err
	}
	var resp *generation.Response
	send := func(ctx context.Context) error {
		var err error
		resp, err = client.Ask(ctx, question)
		return err
	}
	if mode == helpers.ModeText && helpers.IsInteractive() {
		err = tui.RunWithSpinner(ctx, cmd.ErrOrStderr(), "Thinking", send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}
	return printAnswer(helpers.NewPrinter(cmd.OutOrStdout(), mode, helpers.ShouldUseColor()), resp)
}

func resolveQuestion(ctx context.Context, args []string, mode helpers.OutputMode) (string, error) {
	if question := strings.TrimSpace(strings.Join(args, " ")); question != "" {
		return question, nil
	}
	if mode != helpers.ModeText || !helpers.IsInteractive() {
		return "", errors.New("a question is required")
	}
	return tui.PromptQuestion(ctx)
}

func printAnswer(p *helpers.Printer, resp *generation.Response) error {
	if p.Mode() == helpers.ModeJSON {
		return p.JSON(resp)
	}
	if err := p.Text(resp.Text()); err != nil {
		return err
	}
	if len(resp.Sources) == 0 {
		return nil
	}
	fields := make([]helpers.Field, 0, len(resp.Sources))
	for i, src := range resp.Sources {
		fields = append(fields, helpers.Field{Key: fmt.Sprintf("[%d]", i+1), Value: citation(src)})
	}
	if err := p.Text(""); err != nil {
		return err
	}
	return p.Report("Sources", nil, fields...)
}

func citation(src generation.Source) string {
	switch {
	case src.Page > 0:
		return fmt.Sprintf("%s, page %d", src.FileName, src.Page)
	case src.Row > 0:
		return fmt.Sprintf("%s, row %d", src.FileName, src.Row)
	default:
		return src.FileName
	}
}
