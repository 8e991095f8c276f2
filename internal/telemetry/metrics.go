package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments recorded by the memory core.
type Metrics struct {
	searches     metric.Int64Counter
	fallbacks    metric.Int64Counter
	extractions  metric.Int64Counter
	storeWrites  metric.Int64Counter
	searchMillis metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics() *Metrics {
	return NewMetricsFromProvider(otel.GetMeterProvider())
}

// NewMetricsFromProvider creates instruments on the given provider.
// Instrument creation errors fall back to no-op instruments from the same meter.
func NewMetricsFromProvider(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(InstrumentationName)

	m := &Metrics{}
	m.searches, _ = meter.Int64Counter("mneme.search.requests",
		metric.WithDescription("Relevance searches by strategy"))
	m.fallbacks, _ = meter.Int64Counter("mneme.search.fallbacks",
		metric.WithDescription("Searches that fell back to in-process keyword scoring"))
	m.extractions, _ = meter.Int64Counter("mneme.extraction.runs",
		metric.WithDescription("Extraction pipeline runs by outcome"))
	m.storeWrites, _ = meter.Int64Counter("mneme.store.writes",
		metric.WithDescription("Store write operations by kind"))
	m.searchMillis, _ = meter.Float64Histogram("mneme.search.duration",
		metric.WithDescription("Relevance search latency"),
		metric.WithUnit("ms"))
	return m
}

// RecordSearch counts a search and its latency.
func (m *Metrics) RecordSearch(ctx context.Context, strategy string, millis float64) {
	if m == nil || m.searches == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("strategy", strategy))
	m.searches.Add(ctx, 1, attrs)
	if m.searchMillis != nil {
		m.searchMillis.Record(ctx, millis, attrs)
	}
}

// IncFallback counts a fallback activation.
func (m *Metrics) IncFallback(ctx context.Context) {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.Add(ctx, 1)
}

// IncExtraction counts an extraction run with its outcome (saved, skipped, failed).
func (m *Metrics) IncExtraction(ctx context.Context, outcome string) {
	if m == nil || m.extractions == nil {
		return
	}
	m.extractions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// IncStoreWrite counts a store write (add, update, delete, clear, write).
func (m *Metrics) IncStoreWrite(ctx context.Context, kind string) {
	if m == nil || m.storeWrites == nil {
		return
	}
	m.storeWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
