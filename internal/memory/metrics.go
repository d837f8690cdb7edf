package memory

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/crewlabs/crewd/internal/memory"

// Metrics holds memory index instruments shared by the indexer and engine.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	searchDuration metric.Float64Histogram
	indexed        metric.Int64Counter
	scopeFailures  metric.Int64Counter
}

// NewMetrics creates a Metrics instance for the memory index.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.searchDuration, err = m.meter.Float64Histogram(
		"crewd.memory.search_duration_seconds",
		metric.WithDescription("End-to-end search duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create search duration histogram", zap.Error(err))
	}

	m.indexed, err = m.meter.Int64Counter(
		"crewd.memory.documents_indexed_total",
		metric.WithDescription("Total documents indexed, by scope"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		m.logger.Warn("failed to create indexed counter", zap.Error(err))
	}

	m.scopeFailures, err = m.meter.Int64Counter(
		"crewd.memory.scope_failures_total",
		metric.WithDescription("Total per-scope failures during search and indexing"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		m.logger.Warn("failed to create scope failures counter", zap.Error(err))
	}
}

// RecordSearch records one search fan-out.
func (m *Metrics) RecordSearch(ctx context.Context, duration time.Duration, results, failures int) {
	if m.searchDuration != nil {
		m.searchDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.Int("result_count", results)))
	}
	if failures > 0 && m.scopeFailures != nil {
		m.scopeFailures.Add(ctx, int64(failures),
			metric.WithAttributes(attribute.String("operation", "search")))
	}
}

// RecordIndexed records documents written to a scope.
func (m *Metrics) RecordIndexed(ctx context.Context, scope Scope, count int, err error) {
	attrs := metric.WithAttributes(attribute.String("scope", string(scope)))
	if err == nil && m.indexed != nil {
		m.indexed.Add(ctx, int64(count), attrs)
	}
	if err != nil && m.scopeFailures != nil {
		m.scopeFailures.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("scope", string(scope)),
				attribute.String("operation", "index"),
			))
	}
}
