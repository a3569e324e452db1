package embedder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/notebook/engine/infra/monitoring/metrics"
	"github.com/compozy/notebook/pkg/logger"
)

const (
	meterName     = "notebook.knowledge.embedder"
	subsystem     = "embedder"
	labelProvider = "provider"
	labelModel    = "model"
	labelError    = "error_type"
)

// ErrorType buckets provider failures for metrics.
type ErrorType string

const (
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeInvalidInput ErrorType = "invalid_input"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeServerError  ErrorType = "server_error"
)

var (
	metricsOnce    sync.Once
	metricsInitErr error
	errorLogOnce   sync.Once
	instruments    struct {
		latency     metric.Float64Histogram
		texts       metric.Int64Counter
		cacheHits   metric.Int64Counter
		cacheMisses metric.Int64Counter
		errors      metric.Int64Counter
	}
)

func recordGeneration(ctx context.Context, provider Provider, model string, texts int, d time.Duration) {
	if !ensureMetrics(ctx) {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(labelProvider, string(provider)),
		attribute.String(labelModel, model),
	)
	instruments.latency.Record(ctx, d.Seconds(), attrs)
	instruments.texts.Add(ctx, int64(texts), attrs)
}

func recordCache(ctx context.Context, provider Provider, hits, misses int) {
	if !ensureMetrics(ctx) {
		return
	}
	attrs := metric.WithAttributes(attribute.String(labelProvider, string(provider)))
	if hits > 0 {
		instruments.cacheHits.Add(ctx, int64(hits), attrs)
	}
	if misses > 0 {
		instruments.cacheMisses.Add(ctx, int64(misses), attrs)
	}
}

func recordError(ctx context.Context, provider Provider, model string, err error) {
	if !ensureMetrics(ctx) {
		return
	}
	instruments.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(labelProvider, string(provider)),
		attribute.String(labelModel, model),
		attribute.String(labelError, string(categorizeError(err))),
	))
}

func ensureMetrics(ctx context.Context) bool {
	metricsOnce.Do(func() {
		metricsInitErr = initMetrics(otel.GetMeterProvider().Meter(meterName))
	})
	if metricsInitErr != nil {
		errorLogOnce.Do(func() {
			logger.FromContext(ctx).Error("Failed to initialize embedder metrics", "error", metricsInitErr)
		})
		return false
	}
	return true
}

func initMetrics(meter metric.Meter) error {
	var err error
	instruments.latency, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem(subsystem, "request_duration_seconds"),
		metric.WithDescription("Latency of embedding provider requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.RemoteCallBuckets...),
	)
	if err != nil {
		return err
	}
	instruments.texts, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem(subsystem, "texts_total"),
		metric.WithDescription("Number of texts sent to the embedding provider"),
	)
	if err != nil {
		return err
	}
	instruments.cacheHits, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem(subsystem, "cache_hits_total"),
		metric.WithDescription("Embedding cache hits"),
	)
	if err != nil {
		return err
	}
	instruments.cacheMisses, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem(subsystem, "cache_misses_total"),
		metric.WithDescription("Embedding cache misses"),
	)
	if err != nil {
		return err
	}
	instruments.errors, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem(subsystem, "errors_total"),
		metric.WithDescription("Failed embedding requests by error type"),
	)
	return err
}

// categorizeError inspects the error text to approximate a bucket.
// NOTE: providers wrapped by langchaingo do not expose typed errors.
func categorizeError(err error) ErrorType {
	if err == nil {
		return ErrorTypeServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"):
		return ErrorTypeRateLimit
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "forbidden"), strings.Contains(lower, "api key"):
		return ErrorTypeAuth
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "bad request"), strings.Contains(lower, "400"):
		return ErrorTypeInvalidInput
	default:
		return ErrorTypeServerError
	}
}
