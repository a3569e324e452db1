package vectordb

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/notebook/engine/core"
	monitoringmetrics "github.com/compozy/notebook/engine/infra/monitoring/metrics"
)

var (
	vectorMetricsOnce       sync.Once
	vectorMetricsErr        error
	vectorOpLatency         metric.Float64Histogram
	vectorResultsCount      metric.Float64Histogram
	vectorTopScore          metric.Float64Histogram
	vectorErrorsTotal       metric.Int64Counter
	vectorActiveConnections metric.Int64ObservableGauge
	vectorPools             sync.Map
	vectorGaugeReg          metric.Registration
)

func ensureVectorMetrics() error {
	vectorMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("notebook.knowledge.vectordb")
		if err := initVectorInstruments(meter); err != nil {
			vectorMetricsErr = err
			return
		}
		vectorMetricsErr = initVectorGauge(meter)
	})
	return vectorMetricsErr
}

func initVectorInstruments(meter metric.Meter) error {
	var err error
	vectorOpLatency, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "operation_seconds"),
		metric.WithDescription("Vector store operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2),
	)
	if err != nil {
		return err
	}
	vectorResultsCount, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "results_per_search"),
		metric.WithDescription("Number of results returned per search"),
		metric.WithExplicitBucketBoundaries(0, 1, 3, 5, 10, 20),
	)
	if err != nil {
		return err
	}
	vectorTopScore, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "top_score"),
		metric.WithDescription("Similarity score of the best match"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	if err != nil {
		return err
	}
	vectorErrorsTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "errors_total"),
		metric.WithDescription("Vector store operation errors"),
	)
	return err
}

func initVectorGauge(meter metric.Meter) error {
	var err error
	vectorActiveConnections, err = meter.Int64ObservableGauge(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "connections_active"),
		metric.WithDescription("Acquired postgres connections of pgvector stores"),
	)
	if err != nil {
		return err
	}
	reg, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		vectorPools.Range(func(key, value any) bool {
			pool, ok := value.(*pgxpool.Pool)
			if !ok || pool == nil {
				return true
			}
			name, _ := key.(string)
			observer.ObserveInt64(
				vectorActiveConnections,
				int64(pool.Stat().AcquiredConns()),
				metric.WithAttributes(attribute.String("pool", name)),
			)
			return true
		})
		return nil
	}, vectorActiveConnections)
	if err == nil {
		vectorGaugeReg = reg
	}
	return err
}

// ShutdownVectorMetrics unregisters the gauge callback.
func ShutdownVectorMetrics() {
	if vectorGaugeReg != nil {
		//nolint:errcheck // Unregister errors are non-critical during shutdown
		_ = vectorGaugeReg.Unregister()
	}
}

func trackVectorPool(name string, pool *pgxpool.Pool) {
	if pool == nil || ensureVectorMetrics() != nil {
		return
	}
	vectorPools.Store(name, pool)
}

func untrackVectorPool(name string) {
	vectorPools.Delete(name)
}

// instrumented records latency, result sizes and errors for any Store.
type instrumented struct {
	Store
	provider Provider
}

func withMetrics(store Store, provider Provider) Store {
	return &instrumented{Store: store, provider: provider}
}

func (i *instrumented) AtomicUpsert() bool {
	atomic, ok := i.Store.(AtomicUpserter)
	return ok && atomic.AtomicUpsert()
}

func (i *instrumented) Upsert(ctx context.Context, collection string, records []Record) error {
	start := time.Now()
	err := i.Store.Upsert(ctx, collection, records)
	i.record(ctx, "upsert", start, err)
	return err
}

func (i *instrumented) Search(
	ctx context.Context,
	collection string,
	query []float32,
	opts SearchOptions,
) ([]Match, error) {
	start := time.Now()
	matches, err := i.Store.Search(ctx, collection, query, opts)
	i.record(ctx, "search", start, err)
	if err == nil && ensureVectorMetrics() == nil {
		attrs := metric.WithAttributes(attribute.String("provider", string(i.provider)))
		vectorResultsCount.Record(ctx, float64(len(matches)), attrs)
		if len(matches) > 0 {
			vectorTopScore.Record(ctx, matches[0].Score, attrs)
		}
	}
	return matches, err
}

func (i *instrumented) Delete(ctx context.Context, collection string, ids []string) error {
	start := time.Now()
	err := i.Store.Delete(ctx, collection, ids)
	i.record(ctx, "delete", start, err)
	return err
}

// Unwrap exposes the underlying backend.
func (i *instrumented) Unwrap() Store {
	return i.Store
}

func (i *instrumented) record(ctx context.Context, operation string, start time.Time, err error) {
	if ensureVectorMetrics() != nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider", string(i.provider)),
		attribute.String("operation", operation),
	}
	vectorOpLatency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
	if err != nil {
		attrs = append(attrs, attribute.String("error_type", string(core.KindOf(err))))
		vectorErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
