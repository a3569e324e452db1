package ratelimit

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/notebook/engine/infra/monitoring/metrics"
)

const meterName = "notebook.server.ratelimit"

var (
	rateLimitBlocksTotal metric.Int64Counter
	metricsOnce          sync.Once
	metricsErr           error
)

// InitMetrics registers the blocked request counter on meter.
func InitMetrics(meter metric.Meter) error {
	metricsOnce.Do(func() {
		rateLimitBlocksTotal, metricsErr = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("ratelimit", "blocks_total"),
			metric.WithDescription("Total number of requests blocked by rate limiting"),
			metric.WithUnit("1"),
		)
	})
	return metricsErr
}

// IncrementBlockedRequests increments the blocked request counter.
func IncrementBlockedRequests(ctx context.Context, route string, store string) {
	if InitMetrics(otel.GetMeterProvider().Meter(meterName)) != nil || rateLimitBlocksTotal == nil {
		return
	}
	rateLimitBlocksTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("store", store),
		),
	)
}
