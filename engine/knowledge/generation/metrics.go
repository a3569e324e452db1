package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/notebook/engine/infra/monitoring/metrics"
	"github.com/compozy/notebook/pkg/logger"
)

const (
	meterName = "notebook.knowledge.generation"
	subsystem = "generation"
)

var (
	metricsOnce    sync.Once
	metricsInitErr error
	errorLogOnce   sync.Once
	instruments    struct {
		latency metric.Float64Histogram
		tokens  metric.Int64Counter
		errors  metric.Int64Counter
	}
)

func recordCompletion(ctx context.Context, provider Provider, model string, usage Usage, d time.Duration) {
	if !ensureMetrics(ctx) {
		return
	}
	base := []attribute.KeyValue{
		attribute.String("provider", string(provider)),
		attribute.String("model", model),
	}
	instruments.latency.Record(ctx, d.Seconds(), metric.WithAttributes(base...))
	if usage.PromptTokens > 0 {
		instruments.tokens.Add(ctx, int64(usage.PromptTokens),
			metric.WithAttributes(append(base, attribute.String("type", "prompt"))...))
	}
	if usage.CompletionTokens > 0 {
		instruments.tokens.Add(ctx, int64(usage.CompletionTokens),
			metric.WithAttributes(append(base, attribute.String("type", "completion"))...))
	}
}

func recordFailure(ctx context.Context, provider Provider, model string, err error) {
	if !ensureMetrics(ctx) {
		return
	}
	reason := "server_error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	instruments.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("model", model),
		attribute.String("error_type", reason),
	))
}

func ensureMetrics(ctx context.Context) bool {
	metricsOnce.Do(func() {
		metricsInitErr = initMetrics(otel.GetMeterProvider().Meter(meterName))
	})
	if metricsInitErr != nil {
		errorLogOnce.Do(func() {
			logger.FromContext(ctx).Error("Failed to initialize generation metrics", "error", metricsInitErr)
		})
		return false
	}
	return true
}

func initMetrics(meter metric.Meter) error {
	var err error
	instruments.latency, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem(subsystem, "request_duration_seconds"),
		metric.WithDescription("Latency of chat completion requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.RemoteCallBuckets...),
	)
	if err != nil {
		return err
	}
	instruments.tokens, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem(subsystem, "tokens_total"),
		metric.WithDescription("Tokens reported by the chat model"),
	)
	if err != nil {
		return err
	}
	instruments.errors, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem(subsystem, "errors_total"),
		metric.WithDescription("Failed chat completion requests"),
	)
	return err
}
