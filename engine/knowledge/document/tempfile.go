package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/compozy/notebook/pkg/logger"
)

const tempFilePerm = 0o600

// TempFile is an upload staged on disk. Cleanup removes it and is safe to
// call any number of times.
type TempFile struct {
	Path string
	Name string
	Size int64

	once sync.Once
	err  error
}

// Store copies r into dir under a unique, sanitized name.
func Store(ctx context.Context, dir, name string, r io.Reader) (*TempFile, error) {
	if r == nil {
		return nil, errors.New("document: upload reader is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("document: create upload dir: %w", err)
	}
	path := filepath.Join(dir, stagedName(name))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, tempFilePerm)
	if err != nil {
		return nil, fmt.Errorf("document: create temp file: %w", err)
	}
	tmp := &TempFile{Path: path, Name: name}
	size, copyErr := io.Copy(file, contextReader{ctx: ctx, r: r})
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		if cleanupErr := tmp.Cleanup(); cleanupErr != nil {
			logger.FromContext(ctx).Warn("Failed to remove partial upload", "path", path, "error", cleanupErr)
		}
		return nil, fmt.Errorf("document: write temp file: %w", err)
	}
	tmp.Size = size
	return tmp, nil
}

// Cleanup deletes the staged file. A file that is already gone is not an
// error.
func (t *TempFile) Cleanup() error {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		t.err = RemoveTemp(t.Path)
	})
	return t.err
}

// RemoveTemp deletes path, tolerating a missing file.
func RemoveTemp(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("document: remove temp file: %w", err)
	}
	return nil
}

func stagedName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	ext := strings.ToLower(filepath.Ext(base))
	stem := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		stem = "upload"
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()[:8] + "-" + stem + ext
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
