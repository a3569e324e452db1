package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/compozy/notebook/engine/knowledge"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultMaxSize = 4000
	DefaultOverlap = 200
)

var (
	newlinePattern    = regexp.MustCompile(`\r\n|\r`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
	spacesPattern     = regexp.MustCompile(`[ \t\f\v]+`)
)

// Settings configures splitting of oversized segments. Deduplicate drops
// repeated pieces split from the same segment; identical pages or rows are
// always kept so each stays citable.
type Settings struct {
	MaxSize     int
	Overlap     int
	Deduplicate bool
}

// Processor normalizes parser output and splits segments that exceed MaxSize.
// Segments under the limit pass through whole, so a page stays one chunk.
type Processor struct {
	settings Settings
}

// NewProcessor builds a processor with sanitized defaults.
func NewProcessor(settings Settings) (*Processor, error) {
	if settings.MaxSize == 0 {
		settings.MaxSize = DefaultMaxSize
	}
	if settings.MaxSize < 0 {
		return nil, errors.New("chunk: max size must be greater than zero")
	}
	if settings.Overlap < 0 {
		return nil, errors.New("chunk: overlap cannot be negative")
	}
	if settings.Overlap >= settings.MaxSize {
		return nil, fmt.Errorf("chunk: overlap %d must be smaller than max size %d", settings.Overlap, settings.MaxSize)
	}
	return &Processor{settings: settings}, nil
}

// Process returns normalized chunks with sequential ChunkIndex values and
// content hashes. Positional metadata of each input segment is preserved on
// every piece split from it.
func (p *Processor) Process(segments []knowledge.TextChunk) ([]knowledge.TextChunk, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(p.settings.MaxSize),
		textsplitter.WithChunkOverlap(p.settings.Overlap),
	)
	out := make([]knowledge.TextChunk, 0, len(segments))
	for i := range segments {
		text := Normalize(segments[i].Content)
		if text == "" {
			continue
		}
		pieces := []string{text}
		if utf8.RuneCountInString(text) > p.settings.MaxSize {
			split, err := splitter.SplitText(text)
			if err != nil {
				return nil, fmt.Errorf("chunk: split %s: %w", segments[i].Metadata.Citation(), err)
			}
			pieces = split
		}
		seen := make(map[string]struct{}, len(pieces))
		for _, piece := range pieces {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			hash := HashText(piece)
			if p.settings.Deduplicate {
				if _, exists := seen[hash]; exists {
					continue
				}
				seen[hash] = struct{}{}
			}
			meta := segments[i].Metadata
			meta.ChunkIndex = len(out)
			out = append(out, knowledge.TextChunk{Content: piece, Metadata: meta, Hash: hash})
		}
	}
	return out, nil
}

// Normalize applies NFC, unifies newlines and collapses runs of blanks.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	normalized := norm.NFC.String(text)
	normalized = newlinePattern.ReplaceAllString(normalized, "\n")
	normalized = spacesPattern.ReplaceAllString(normalized, " ")
	lines := strings.Split(normalized, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	normalized = blankLinesPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(normalized)
}

// HashText returns the hex SHA-256 digest of input.
func HashText(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
