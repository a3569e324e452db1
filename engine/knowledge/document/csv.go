package document

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
)

const sniffBytes = 1024

// parseCSV renders each data row as "header: value" lines. Row numbers are
// 1-based and exclude the header.
func (i *Ingestor) parseCSV(ctx context.Context, path, fileName string) ([]knowledge.TextChunk, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, core.NewError(core.KindValidation, fmt.Sprintf("document %q is not readable", fileName), err)
	}
	defer file.Close()
	decoded, err := decodedReader(file)
	if err != nil {
		return nil, core.NewError(core.KindUnsupportedFormat, fmt.Sprintf("file %s is not a readable CSV", fileName), err)
	}
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, csvError(fileName, err)
	}
	header = normalizeHeader(header)
	chunks := make([]knowledge.TextChunk, 0)
	row := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(fileName, err)
		}
		row++
		if i.maxRows > 0 && row > i.maxRows {
			break
		}
		content := renderRow(header, record)
		if content == "" {
			continue
		}
		chunks = append(chunks, knowledge.TextChunk{
			Content:  content,
			Metadata: knowledge.ChunkMetadata{Row: row},
		})
	}
	return chunks, nil
}

// decodedReader strips a UTF-8 BOM and transcodes legacy encodings to UTF-8.
func decodedReader(r io.Reader) (io.Reader, error) {
	buffered := bufio.NewReaderSize(r, sniffBytes*4)
	head, err := buffered.Peek(sniffBytes)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	enc, name, _ := charset.DetermineEncoding(head, "text/csv")
	if name == "utf-8" || enc == nil {
		return transform.NewReader(buffered, unicode.BOMOverride(transform.Nop)), nil
	}
	return transform.NewReader(buffered, enc.NewDecoder()), nil
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for idx, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}
		out[idx] = name
	}
	return out
}

func renderRow(header, record []string) string {
	lines := make([]string, 0, len(record))
	hasValue := false
	for idx, value := range record {
		value = strings.TrimSpace(value)
		if value != "" {
			hasValue = true
		}
		name := fmt.Sprintf("column_%d", idx+1)
		if idx < len(header) {
			name = header[idx]
		}
		lines = append(lines, name+": "+value)
	}
	if !hasValue {
		return ""
	}
	return strings.Join(lines, "\n")
}

func csvError(fileName string, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return core.NewError(
			core.KindUnsupportedFormat,
			fmt.Sprintf("file %s is not a valid CSV (line %d)", fileName, parseErr.Line),
			err,
		)
	}
	return core.NewError(core.KindUnsupportedFormat, fmt.Sprintf("file %s is not a readable CSV", fileName), err)
}
