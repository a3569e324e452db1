package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/pkg/logger"
)

const (
	DefaultMaxPages = 2000
	DefaultMaxRows  = 200000
)

// Ingestor turns an uploaded file into positional text chunks. It only reads
// the file; removing it is the caller's job.
type Ingestor struct {
	maxPages int
	maxRows  int
}

// Option customizes an Ingestor.
type Option func(*Ingestor)

// WithMaxPages caps how many PDF pages are read.
func WithMaxPages(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.maxPages = n
		}
	}
}

// WithMaxRows caps how many CSV data rows are read.
func WithMaxRows(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.maxRows = n
		}
	}
}

func NewIngestor(opts ...Option) *Ingestor {
	ing := &Ingestor{maxPages: DefaultMaxPages, maxRows: DefaultMaxRows}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Ingest parses filePath according to its MIME type. PDFs produce one chunk
// per non-empty page and CSVs one chunk per data row.
func (i *Ingestor) Ingest(
	ctx context.Context,
	filePath string,
	mimeType string,
	fileName string,
) ([]knowledge.TextChunk, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, core.ValidationError("document path is required")
	}
	if strings.TrimSpace(fileName) == "" {
		fileName = filepath.Base(filePath)
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, core.NewError(core.KindValidation, fmt.Sprintf("document %q is not readable", fileName), err)
	}
	if info.IsDir() {
		return nil, core.ValidationError("document %q is a directory", fileName)
	}
	format, canonical, ok := DetectFormat(filePath, mimeType, fileName)
	if !ok {
		return nil, core.UnsupportedFormatError("unsupported file type %q for %s", displayMime(mimeType), fileName)
	}
	log := logger.FromContext(ctx)
	log.Debug("Parsing document", "file", fileName, "format", format, "bytes", info.Size())
	var chunks []knowledge.TextChunk
	switch format {
	case FormatPDF:
		chunks, err = i.parsePDF(ctx, filePath, fileName)
	case FormatCSV:
		chunks, err = i.parseCSV(ctx, filePath, fileName)
	default:
		return nil, core.UnsupportedFormatError("unsupported file type %q for %s", displayMime(mimeType), fileName)
	}
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, core.ValidationError("document %s contains no extractable text", fileName)
	}
	for idx := range chunks {
		chunks[idx].Metadata.FileName = fileName
		chunks[idx].Metadata.Source = filePath
		chunks[idx].Metadata.MimeType = canonical
		chunks[idx].Metadata.ChunkIndex = idx
	}
	log.Debug("Parsed document", "file", fileName, "chunks", len(chunks))
	return chunks, nil
}

func displayMime(mime string) string {
	if strings.TrimSpace(mime) == "" {
		return "unknown"
	}
	return mime
}
