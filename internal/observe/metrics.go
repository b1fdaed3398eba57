// Package observe provides observability primitives for callcoach:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format via [InitProvider]. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all callcoach metrics.
const meterName = "github.com/MrWong99/callcoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks model latency. Use with attribute:
	//   attribute.String("purpose", "coaching"|"summary")
	LLMDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksAnalysed counts final transcript chunks run through extraction.
	ChunksAnalysed metric.Int64Counter

	// Detections counts extracted items. Use with attribute:
	//   attribute.String("kind", "promise"|"objection"|"agreement")
	Detections metric.Int64Counter

	// CoachingOutcomes counts coaching gate decisions. Use with attribute:
	//   attribute.String("outcome", ...)
	CoachingOutcomes metric.Int64Counter

	// Summaries counts end-of-call summaries. Use with attribute:
	//   attribute.String("source", "ai"|"fallback"|"minimal")
	Summaries metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// HistoryWrites counts history persistence attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	HistoryWrites metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls is 1 while a call is in progress.
	ActiveCalls metric.Int64UpDownCounter

	// UIClients tracks connected event-stream subscribers.
	UIClients metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries in seconds, sized for
// model calls that take from a few hundred milliseconds to tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("callcoach.llm.duration",
		metric.WithDescription("Latency of language model calls by purpose."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("callcoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksAnalysed, err = m.Int64Counter("callcoach.chunks.analysed",
		metric.WithDescription("Total final transcript chunks analysed."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("callcoach.detections",
		metric.WithDescription("Total promises, objections and agreements detected."),
	); err != nil {
		return nil, err
	}
	if met.CoachingOutcomes, err = m.Int64Counter("callcoach.coaching.outcomes",
		metric.WithDescription("Coaching gate decisions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Summaries, err = m.Int64Counter("callcoach.summaries",
		metric.WithDescription("End-of-call summaries by source."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("callcoach.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("callcoach.provider.errors",
		metric.WithDescription("Total provider errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.HistoryWrites, err = m.Int64Counter("callcoach.history.writes",
		metric.WithDescription("History persistence attempts by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("callcoach.active_calls",
		metric.WithDescription("Number of calls in progress."),
	); err != nil {
		return nil, err
	}
	if met.UIClients, err = m.Int64UpDownCounter("callcoach.ui_clients",
		metric.WithDescription("Number of connected event stream clients."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set and bumps the error counter when status is "error".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	if status == "error" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
	}
}

// RecordDetections adds the number of items extracted from one chunk.
func (m *Metrics) RecordDetections(ctx context.Context, promises, objections, agreements int) {
	add := func(kind string, n int) {
		if n > 0 {
			m.Detections.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
		}
	}
	add("promise", promises)
	add("objection", objections)
	add("agreement", agreements)
}

// RecordCoachingOutcome counts one coaching gate decision.
func (m *Metrics) RecordCoachingOutcome(ctx context.Context, outcome string) {
	m.CoachingOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSummary counts one summary by its source.
func (m *Metrics) RecordSummary(ctx context.Context, source string) {
	m.Summaries.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordHistoryWrite counts one history save.
func (m *Metrics) RecordHistoryWrite(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.HistoryWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
