package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/compozy/notebook/pkg/logger"
)

// directoryPattern selects the supported documents below a directory argument.
const directoryPattern = "**/*.{pdf,PDF,csv,CSV}"

// ExpandSources resolves file paths, directories and doublestar globs into a
// sorted, de-duplicated list of regular files. Patterns that match nothing are
// logged and skipped; an empty overall result is an error.
func ExpandSources(ctx context.Context, patterns []string) ([]string, error) {
	log := logger.FromContext(ctx)
	seen := make(map[string]struct{})
	files := make([]string, 0, len(patterns))
	for _, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		matches, err := expandPattern(pattern)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			log.Warn("Ingest pattern matched no files", "pattern", pattern)
			continue
		}
		for _, match := range matches {
			abs, err := filepath.Abs(match)
			if err != nil {
				return nil, fmt.Errorf("resolve %q: %w", match, err)
			}
			if _, ok := seen[abs]; ok {
				continue
			}
			seen[abs] = struct{}{}
			files = append(files, abs)
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no files matched the given paths")
	}
	slices.Sort(files)
	return files, nil
}

func expandPattern(pattern string) ([]string, error) {
	info, err := os.Stat(pattern)
	switch {
	case err == nil && info.IsDir():
		return globFiles(filepath.Join(pattern, directoryPattern))
	case err == nil:
		return []string{pattern}, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("stat %q: %w", pattern, err)
	}
	if !doublestar.ValidatePathPattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	return globFiles(pattern)
}

func globFiles(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q failed: %w", pattern, err)
	}
	return matches, nil
}
