// Package observe provides application-wide observability primitives for
// voxleaf: OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxleaf metrics.
const meterName = "github.com/voxleaf/voxleaf"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks speech-to-text transcription latency.
	ASRDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// LLMDuration tracks chat-completion latency.
	LLMDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end command handling latency, from
	// dispatch to emitted response.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// DeviceEvents counts inbound device events. Use with attribute:
	//   attribute.String("event", ...)
	DeviceEvents metric.Int64Counter

	// Interceptions counts cloud-playback interceptions. Use with attribute:
	//   attribute.String("trigger", "playing"|"instruction")
	Interceptions metric.Int64Counter

	// Dispatches counts pipeline dispatches. Use with attribute:
	//   attribute.String("source", "final"|"debounce"|"audio")
	Dispatches metric.Int64Counter

	// AutoPlayAdvances counts queue advances performed by the auto-play
	// scheduler.
	AutoPlayAdvances metric.Int64Counter

	// ProviderErrors counts downstream provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected devices.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.ASRDuration, err = m.Float64Histogram("voxleaf.asr.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxleaf.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("voxleaf.llm.duration",
		metric.WithDescription("Latency of chat completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("voxleaf.pipeline.duration",
		metric.WithDescription("End-to-end command handling latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DeviceEvents, err = m.Int64Counter("voxleaf.device.events",
		metric.WithDescription("Total inbound device events by type."),
	); err != nil {
		return nil, err
	}
	if met.Interceptions, err = m.Int64Counter("voxleaf.interceptions",
		metric.WithDescription("Total cloud-playback interceptions by trigger."),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("voxleaf.dispatches",
		metric.WithDescription("Total pipeline dispatches by source."),
	); err != nil {
		return nil, err
	}
	if met.AutoPlayAdvances, err = m.Int64Counter("voxleaf.autoplay.advances",
		metric.WithDescription("Total queue advances by the auto-play scheduler."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxleaf.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxleaf.active_sessions",
		metric.WithDescription("Number of connected devices."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxleaf.http.request.duration",
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

// RecordEvent records one inbound device event.
func (m *Metrics) RecordEvent(ctx context.Context, event string) {
	m.DeviceEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordInterception records one cloud-playback interception.
func (m *Metrics) RecordInterception(ctx context.Context, trigger string) {
	m.Interceptions.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordDispatch records one pipeline dispatch.
func (m *Metrics) RecordDispatch(ctx context.Context, source string) {
	m.Dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordProviderError records a downstream provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
