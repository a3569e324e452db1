package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/compozy/notebook/cli/helpers"
	"github.com/compozy/notebook/cli/tui"
	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/infra/cache"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/engine/knowledge/document"
	"github.com/compozy/notebook/engine/knowledge/pipeline"
	"github.com/compozy/notebook/engine/knowledge/vectordb"
	"github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
)

// Runner indexes one staged document.
type Runner interface {
	Run(ctx context.Context, doc knowledge.UploadedDocument) *pipeline.IngestResult
}

// FileReport is the outcome for one source file.
type FileReport struct {
	File     string `json:"file"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
	Chunks   int    `json:"chunks"`
	State    string `json:"state"`
	Kind     string `json:"error_kind,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Summary aggregates a whole ingest run.
type Summary struct {
	Collection string       `json:"collection"`
	DryRun     bool         `json:"dry_run"`
	Indexed    int          `json:"indexed"`
	Failed     int          `json:"failed"`
	Chunks     int          `json:"chunks"`
	Files      []FileReport `json:"files"`
}

// Options control how files are fed to the runner.
type Options struct {
	UploadDir string
	FailFast  bool
	// Wrap runs each file, for example behind a spinner. Nil runs directly.
	Wrap func(ctx context.Context, title string, fn func(ctx context.Context) error) error
}

// NewIngestCommand creates the command that indexes local files.
func NewIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <paths or globs...>",
		Short: "Index local PDF and CSV files",
		Long: `Index local files with the same pipeline the upload endpoint uses.
Arguments may be files, directories or doublestar globs such as "docs/**/*.pdf".
Source files are copied to the upload directory before indexing and are never
modified or deleted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}
	cmd.Flags().Bool("dry-run", false, "Parse and embed into an in-memory index without touching the configured vector database")
	cmd.Flags().Bool("fail-fast", false, "Stop at the first file that fails")
	cmd.Flags().String("collection", "", "Collection to index into (overrides vectordb.collection)")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := config.FromContext(ctx)
	log := logger.FromContext(ctx)
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	failFast, err := cmd.Flags().GetBool("fail-fast")
	if err != nil {
		return err
	}
	files, err := ExpandSources(ctx, args)
	if err != nil {
		return err
	}
	comps, closeAll, err := buildComponents(ctx, cfg, dryRun)
	if err != nil {
		return err
	}
	defer closeAll()
	runner, err := comps.IngestPipeline()
	if err != nil {
		return err
	}
	mode := helpers.DetectMode(cfg)
	printer := helpers.NewPrinter(cmd.OutOrStdout(), mode, helpers.ShouldUseColor())
	opts := Options{UploadDir: cfg.Upload.Dir, FailFast: failFast}
	if mode == helpers.ModeText && helpers.IsInteractive() {
		opts.Wrap = func(ctx context.Context, title string, fn func(ctx context.Context) error) error {
			err := tui.RunWithSpinner(ctx, cmd.ErrOrStderr(), title, fn)
			if errors.Is(err, tui.ErrInterrupted) {
				stop()
			}
			return err
		}
	}
	log.Info("Ingesting files", "count", len(files), "collection", runner.Collection(), "dry_run", dryRun)
	summary := IngestFiles(ctx, runner, files, opts)
	summary.Collection = runner.Collection()
	summary.DryRun = dryRun
	if err := printSummary(printer, summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed to ingest", summary.Failed, len(summary.Files))
	}
	return nil
}

// buildComponents wires the pipeline. A dry run swaps the configured vector
// database for an in-memory index so nothing is persisted.
func buildComponents(ctx context.Context, cfg *config.Config, dryRun bool) (*pipeline.Components, func(), error) {
	log := logger.FromContext(ctx)
	opts := make([]pipeline.ComponentOption, 0, 2)
	closers := make([]func(), 0, 2)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if dryRun {
		opts = append(opts, pipeline.WithStore(vectordb.NewMemoryStore(vectordb.ParseMetric(cfg.VectorDB.Metric))))
	}
	if cache.Required(cfg) {
		redis, err := cache.NewRedis(ctx, cache.FromAppConfig(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closers = append(closers, func() {
			if err := redis.Close(); err != nil {
				log.Warn("Failed to close redis client", "error", err)
			}
		})
		opts = append(opts, pipeline.WithRedis(redis.Client()))
	}
	comps, err := pipeline.NewComponents(ctx, cfg, opts...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := comps.Close(closeCtx); err != nil {
			log.Warn("Failed to close pipeline components", "error", err)
		}
	})
	return comps, closeAll, nil
}

// IngestFiles stages a copy of every file and runs it through runner. The
// runner removes the staged copy; the source file is only ever read.
func IngestFiles(ctx context.Context, runner Runner, files []string, opts Options) *Summary {
	log := logger.FromContext(ctx)
	summary := &Summary{Files: make([]FileReport, 0, len(files))}
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		report := FileReport{File: path}
		run := func(ctx context.Context) error {
			report = ingestFile(ctx, runner, opts.UploadDir, path)
			if report.Error != "" {
				return errors.New(report.Error)
			}
			return nil
		}
		title := "Indexing " + filepath.Base(path)
		if opts.Wrap != nil {
			if err := opts.Wrap(ctx, title, run); err != nil && report.Error == "" {
				report.State = string(pipeline.StateFailed)
				report.Kind = string(core.KindInternal)
				report.Error = err.Error()
			}
		} else {
			_ = run(ctx)
		}
		summary.Files = append(summary.Files, report)
		if report.Error != "" {
			summary.Failed++
			log.Error("Failed to ingest file", "file", path, "kind", report.Kind, "error", report.Error)
			if opts.FailFast {
				break
			}
			continue
		}
		summary.Indexed++
		summary.Chunks += report.Chunks
	}
	return summary
}

func ingestFile(ctx context.Context, runner Runner, uploadDir, path string) FileReport {
	report := FileReport{File: path}
	fail := func(kind core.ErrorKind, err error) FileReport {
		report.State = string(pipeline.StateFailed)
		report.Kind = string(kind)
		report.Error = err.Error()
		return report
	}
	src, err := os.Open(path)
	if err != nil {
		return fail(core.KindValidation, err)
	}
	name := filepath.Base(path)
	staged, err := document.Store(ctx, uploadDir, name, src)
	if closeErr := src.Close(); closeErr != nil {
		logger.FromContext(ctx).Warn("Failed to close source file", "file", path, "error", closeErr)
	}
	if err != nil {
		return fail(core.KindInternal, err)
	}
	defer func() {
		if err := staged.Cleanup(); err != nil {
			logger.FromContext(ctx).Warn("Failed to remove staged copy", "path", staged.Path, "error", err)
		}
	}()
	report.Size = staged.Size
	report.Type = detectMime(staged.Path, name)
	result := runner.Run(ctx, knowledge.UploadedDocument{
		FileName:    name,
		MimeType:    report.Type,
		ByteSize:    staged.Size,
		StoragePath: staged.Path,
	})
	report.Duration = result.Duration.Round(time.Millisecond).String()
	report.State = string(result.State)
	if !result.OK() {
		return fail(core.KindOf(result.Err), result.Err)
	}
	report.Chunks = result.Chunks
	return report
}

// detectMime prefers the canonical type of a supported format and otherwise
// reports what the content looks like.
func detectMime(path, name string) string {
	if _, mime, ok := document.DetectFormat(path, "", name); ok {
		return mime
	}
	if detected, err := mimetype.DetectFile(path); err == nil && detected != nil {
		return detected.String()
	}
	return "application/octet-stream"
}

func printSummary(p *helpers.Printer, s *Summary) error {
	if p.Mode() == helpers.ModeJSON {
		return p.JSON(s)
	}
	for i := range s.Files {
		f := &s.Files[i]
		if f.Error != "" {
			if err := p.Error("%s: %s (%s)", filepath.Base(f.File), f.Error, f.Kind); err != nil {
				return err
			}
			continue
		}
		if err := p.Success("%s: %d chunks in %s", filepath.Base(f.File), f.Chunks, f.Duration); err != nil {
			return err
		}
	}
	title := "Ingest summary"
	if s.DryRun {
		title += " (dry run)"
	}
	return p.Report(title, s,
		helpers.Field{Key: "Collection", Value: s.Collection},
		helpers.Field{Key: "Indexed", Value: s.Indexed},
		helpers.Field{Key: "Failed", Value: s.Failed},
		helpers.Field{Key: "Chunks", Value: s.Chunks},
	)
}
