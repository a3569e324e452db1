package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/compozy/notebook/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce           sync.Once
	metricsMu             sync.Mutex
	metricsInitErr        error
	ingestDurationHist    metric.Float64Histogram
	ingestOutcomeCounter  metric.Int64Counter
	chunkCounter          metric.Int64Counter
	queryLatencyHist      metric.Float64Histogram
	queryOutcomeCounter   metric.Int64Counter
	retrievalEmptyCounter metric.Int64Counter
	remoteRetryCounter    metric.Int64Counter
)

func RecordIngestDuration(ctx context.Context, collection string, d time.Duration) {
	if err := ensureMetrics(); err != nil || ingestDurationHist == nil {
		return
	}
	ingestDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("collection", collection)))
}

// RecordIngestOutcome counts finished ingest runs by terminal state and error kind.
func RecordIngestOutcome(ctx context.Context, collection, state, kind string) {
	if err := ensureMetrics(); err != nil || ingestOutcomeCounter == nil {
		return
	}
	ingestOutcomeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("state", state),
		attribute.String("kind", kind),
	))
}

func RecordIngestChunks(ctx context.Context, collection string, chunks int) {
	if chunks <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunkCounter == nil {
		return
	}
	chunkCounter.Add(ctx, int64(chunks), metric.WithAttributes(attribute.String("collection", collection)))
}

func RecordQueryLatency(ctx context.Context, collection string, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("collection", collection)))
}

func RecordQueryOutcome(ctx context.Context, collection, state, kind string) {
	if err := ensureMetrics(); err != nil || queryOutcomeCounter == nil {
		return
	}
	queryOutcomeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("state", state),
		attribute.String("kind", kind),
	))
}

func RecordRetrievalEmpty(ctx context.Context, collection string) {
	if err := ensureMetrics(); err != nil || retrievalEmptyCounter == nil {
		return
	}
	retrievalEmptyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("collection", collection)))
}

// RecordRemoteRetry counts retried calls to embedding, generation or vector services.
func RecordRemoteRetry(ctx context.Context, service string) {
	if err := ensureMetrics(); err != nil || remoteRetryCounter == nil {
		return
	}
	remoteRetryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	ingestDurationHist = nil
	ingestOutcomeCounter = nil
	chunkCounter = nil
	queryLatencyHist = nil
	queryOutcomeCounter = nil
	retrievalEmptyCounter = nil
	remoteRetryCounter = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("notebook.knowledge")
		if err := initIngestMetrics(meter); err != nil {
			metricsInitErr = err
			return
		}
		if err := initQueryMetrics(meter); err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}

func initIngestMetrics(meter metric.Meter) error {
	var err error
	ingestDurationHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "ingest_duration_seconds"),
		metric.WithDescription("Latency of document ingestion runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.RemoteCallBuckets...),
	)
	if err != nil {
		return err
	}
	ingestOutcomeCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "ingest_runs_total"),
		metric.WithDescription("Number of ingestion runs by terminal state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	chunkCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "chunks_total"),
		metric.WithDescription("Number of chunks written to the vector index"),
		metric.WithUnit("1"),
	)
	return err
}

func initQueryMetrics(meter metric.Meter) error {
	var err error
	queryLatencyHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "query_latency_seconds"),
		metric.WithDescription("Latency of chat queries from receipt to generated answer"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.RemoteCallBuckets...),
	)
	if err != nil {
		return err
	}
	queryOutcomeCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "query_runs_total"),
		metric.WithDescription("Number of chat queries by terminal state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	retrievalEmptyCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "retrieval_empty_total"),
		metric.WithDescription("Number of retrievals that matched no chunks"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	remoteRetryCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "remote_retries_total"),
		metric.WithDescription("Number of retried remote calls by service"),
		metric.WithUnit("1"),
	)
	return err
}
