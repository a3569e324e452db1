package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/infra/server/routes"
	"github.com/compozy/notebook/engine/knowledge/generation"
	"github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
)

const (
	defaultRetryCount   = 2
	defaultRetryWait    = 200 * time.Millisecond
	defaultRetryMaxWait = 2 * time.Second
)

// FileData echoes the uploaded file as the server saw it.
type FileData struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
}

// UploadResult is the data of a successful upload.
type UploadResult struct {
	FileData FileData `json:"file_data"`
	Chunks   int      `json:"chunks"`
}

// HealthStatus is the data of the health endpoint.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type envelope[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// APIError is a failed request decoded from the server's error envelope.
// It matches the core error sentinels for the same kind under errors.Is.
type APIError struct {
	Status  int
	Kind    core.ErrorKind
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return core.NewError(e.Kind, e.Message, nil)
}

// Client talks to a running notebook server.
type Client struct {
	http    *resty.Client
	baseURL string
}

// Option customizes a Client.
type Option func(*resty.Client)

// WithRetries overrides how many times a failed request is retried.
func WithRetries(count int) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(max(count, 0))
	}
}

// NewClient builds a client for cfg.CLI.BaseURL.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	base, err := apiBaseURL(cfg.CLI.BaseURL)
	if err != nil {
		return nil, err
	}
	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.CLI.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(defaultRetryCount).
		SetRetryWaitTime(defaultRetryWait).
		SetRetryMaxWaitTime(defaultRetryMaxWait).
		AddRetryCondition(retryCondition)
	if cfg.Runtime.LogLevel == "debug" {
		hc.SetDebug(true)
	}
	for _, opt := range opts {
		opt(hc)
	}
	return &Client{http: hc, baseURL: base}, nil
}

// BaseURL returns the API root the client sends requests to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func apiBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", errors.New("base URL is required (set cli.base_url or NOTEBOOK_BASE_URL)")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("base URL scheme must be http or https, got: %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("base URL must have a host, got: %s", trimmed)
	}
	if !strings.HasSuffix(parsed.Path, routes.Base()) {
		trimmed += routes.Base()
	}
	return trimmed, nil
}

// retryCondition retries transport failures and statuses that signal a
// transient upstream problem. Ingest is idempotent so uploads are safe to
// repeat.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if r == nil {
		return false
	}
	switch r.StatusCode() {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Upload sends the file at path to the upload endpoint.
func (c *Client) Upload(ctx context.Context, path string) (*UploadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	var out envelope[UploadResult]
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("file", path).
		SetResult(&out).
		SetError(&core.ErrorBody{}).
		Post("/upload")
	if err := handleResponse(ctx, resp, err, "upload"); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("Uploaded document", "file", filepath.Base(path), "chunks", out.Data.Chunks)
	return &out.Data, nil
}

// Ask sends a chat query and returns the generated answer.
func (c *Client) Ask(ctx context.Context, query string) (*generation.Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.ValidationError("query must not be empty")
	}
	var out envelope[generation.Response]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"query": query}).
		SetResult(&out).
		SetError(&core.ErrorBody{}).
		Post("/chat")
	if err := handleResponse(ctx, resp, err, "chat"); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Health reports the server status.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out envelope[HealthStatus]
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&core.ErrorBody{}).
		Get("/health")
	if err := handleResponse(ctx, resp, err, "health"); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func handleResponse(ctx context.Context, resp *resty.Response, err error, op string) error {
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return fmt.Errorf("%s request canceled", op)
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%s request timed out: %w", op, err)
		default:
			return fmt.Errorf("%s request failed: %w", op, err)
		}
	}
	logger.FromContext(ctx).Debug("API request completed", "op", op, "status", resp.StatusCode())
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode(), Kind: core.KindInternal, Message: resp.String()}
	if body, ok := resp.Error().(*core.ErrorBody); ok && body != nil && body.Error.Kind != "" {
		apiErr.Kind = core.ErrorKind(body.Error.Kind)
		apiErr.Message = body.Error.Message
	}
	return apiErr
}
