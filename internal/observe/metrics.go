// Package observe provides application-wide observability primitives for
// VoxPrep: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoxPrep metrics.
const meterName = "github.com/voxprep/voxprep"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks LLM inference latency for analysis and question
	// generation calls.
	LLMDuration metric.Float64Histogram

	// InterruptionDelay tracks how long it took to cancel assistant speech
	// after a barge-in was detected.
	InterruptionDelay metric.Float64Histogram

	// FlowAdvanceDuration tracks end-to-end latency of one interview turn:
	// analysis, difficulty adjustment, persistence, and question generation.
	FlowAdvanceDuration metric.Float64Histogram

	// --- Counters ---

	// QuestionsAsked counts generated interview questions. Use with attribute:
	//   attribute.String("category", ...)
	QuestionsAsked metric.Int64Counter

	// AnalysisFallbacks counts analyses that degraded to the neutral fallback.
	// Use with attribute: attribute.String("reason", ...)
	AnalysisFallbacks metric.Int64Counter

	// InterruptionCancellations counts speech cancellations by outcome. Use
	// with attribute: attribute.String("status", ...)
	InterruptionCancellations metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveFlows tracks the number of interview sessions currently stored.
	ActiveFlows metric.Int64UpDownCounter

	// ActiveCalls tracks the number of live voice calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("voxprep.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InterruptionDelay, err = m.Float64Histogram("voxprep.interruption.delay",
		metric.WithDescription("Delay between barge-in detection and speech cancellation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FlowAdvanceDuration, err = m.Float64Histogram("voxprep.flow.advance.duration",
		metric.WithDescription("End-to-end latency of one interview turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.QuestionsAsked, err = m.Int64Counter("voxprep.questions.asked",
		metric.WithDescription("Total generated interview questions by category."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisFallbacks, err = m.Int64Counter("voxprep.analysis.fallbacks",
		metric.WithDescription("Total analyses degraded to the neutral fallback, by reason."),
	); err != nil {
		return nil, err
	}
	if met.InterruptionCancellations, err = m.Int64Counter("voxprep.interruption.cancellations",
		metric.WithDescription("Total speech cancellations by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxprep.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxprep.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveFlows, err = m.Int64UpDownCounter("voxprep.active_flows",
		metric.WithDescription("Number of interview sessions currently stored."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("voxprep.active_calls",
		metric.WithDescription("Number of live voice calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxprep.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordAnalysisFallback records one degraded analysis with its reason.
func (m *Metrics) RecordAnalysisFallback(ctx context.Context, reason string) {
	m.AnalysisFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordQuestionAsked records one generated question by category.
func (m *Metrics) RecordQuestionAsked(ctx context.Context, category string) {
	m.QuestionsAsked.Add(ctx, 1,
		metric.WithAttributes(attribute.String("category", category)),
	)
}

// RecordInterruption records one detected barge-in and its reaction delay.
// Every barge-in lands in the delay histogram, whatever the subsequent
// cancellation outcome, so the histogram agrees with the per-call report.
func (m *Metrics) RecordInterruption(ctx context.Context, delay time.Duration) {
	m.InterruptionDelay.Record(ctx, delay.Seconds())
}

// RecordCancellation records the outcome of one speech cancellation attempt.
func (m *Metrics) RecordCancellation(ctx context.Context, succeeded bool, reason string) {
	attrs := []attribute.KeyValue{
		attribute.String("status", "success"),
	}
	if !succeeded {
		attrs = []attribute.KeyValue{
			attribute.String("status", "failed"),
			attribute.String("reason", reason),
		}
	}
	m.InterruptionCancellations.Add(ctx, 1, metric.WithAttributes(attrs...))
}
