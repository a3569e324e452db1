package document

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
)

// parsePDF reads text page by page. The pdf package panics on some malformed
// inputs, so panics are converted into UnsupportedFormatError.
func (i *Ingestor) parsePDF(ctx context.Context, path, fileName string) (chunks []knowledge.TextChunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			chunks = nil
			err = core.NewError(
				core.KindUnsupportedFormat,
				fmt.Sprintf("file %s is not a readable PDF", fileName),
				fmt.Errorf("pdf: %v", r),
			)
		}
	}()
	file, reader, openErr := pdf.Open(path)
	if openErr != nil {
		return nil, core.NewError(
			core.KindUnsupportedFormat,
			fmt.Sprintf("file %s is not a readable PDF", fileName),
			openErr,
		)
	}
	defer file.Close()
	total := reader.NumPage()
	limit := total
	if i.maxPages > 0 && limit > i.maxPages {
		limit = i.maxPages
	}
	chunks = make([]knowledge.TextChunk, 0, limit)
	for pageNum := 1; pageNum <= limit; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, textErr := page.GetPlainText(nil)
		if textErr != nil {
			return nil, core.NewError(
				core.KindUnsupportedFormat,
				fmt.Sprintf("failed to read page %d of %s", pageNum, fileName),
				textErr,
			)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		chunks = append(chunks, knowledge.TextChunk{
			Content: text,
			Metadata: knowledge.ChunkMetadata{
				Page:       pageNum,
				TotalPages: total,
			},
		})
	}
	return chunks, nil
}
