// Package observe provides application-wide observability primitives for
// voicefront: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicefront metrics.
const meterName = "github.com/simpletutor/voicefront"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture loop ---

	// Frames counts frames read from the capture device. Use with attribute:
	//   attribute.Bool("speech", ...)
	Frames metric.Int64Counter

	// Utterances counts utterances handed to the dispatcher. Use with attribute:
	//   attribute.String("source", "segmenter"|"manual_stop")
	Utterances metric.Int64Counter

	// DeviceErrors counts capture device failures. Use with attribute:
	//   attribute.String("op", "open"|"read")
	DeviceErrors metric.Int64Counter

	// SessionRebuilds counts listening-session rebuilds after a config change.
	SessionRebuilds metric.Int64Counter

	// Listening is 1 while the capture device is open, 0 otherwise.
	Listening metric.Int64UpDownCounter

	// --- Dispatch ---

	// DispatchQueueDepth tracks utterances waiting for the dispatch worker.
	DispatchQueueDepth metric.Int64UpDownCounter

	// DispatchDuration tracks how long the consumer took per utterance.
	DispatchDuration metric.Float64Histogram

	// Interrupts counts interrupt requests.
	Interrupts metric.Int64Counter

	// StaleResults counts downstream results discarded after an interrupt.
	// Use with attribute:
	//   attribute.String("stage", ...)
	StaleResults metric.Int64Counter

	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks completed HTTP requests. Attributes:
	//   method, route (mux pattern) and status.
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

	// Capture loop.
	if met.Frames, err = m.Int64Counter("voicefront.capture.frames",
		metric.WithDescription("Frames read from the capture device, by gated speech decision."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voicefront.capture.utterances",
		metric.WithDescription("Utterances dispatched downstream, by source."),
	); err != nil {
		return nil, err
	}
	if met.DeviceErrors, err = m.Int64Counter("voicefront.capture.device_errors",
		metric.WithDescription("Capture device open and read failures."),
	); err != nil {
		return nil, err
	}
	if met.SessionRebuilds, err = m.Int64Counter("voicefront.capture.session_rebuilds",
		metric.WithDescription("Listening sessions rebuilt after a configuration change."),
	); err != nil {
		return nil, err
	}
	if met.Listening, err = m.Int64UpDownCounter("voicefront.capture.listening",
		metric.WithDescription("1 while the capture device is open."),
	); err != nil {
		return nil, err
	}

	// Dispatch.
	if met.DispatchQueueDepth, err = m.Int64UpDownCounter("voicefront.dispatch.queue_depth",
		metric.WithDescription("Utterances waiting for the dispatch worker."),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("voicefront.dispatch.duration",
		metric.WithDescription("Time spent handling one utterance downstream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("voicefront.dispatch.interrupts",
		metric.WithDescription("Interrupt requests."),
	); err != nil {
		return nil, err
	}
	if met.StaleResults, err = m.Int64Counter("voicefront.dispatch.stale_results",
		metric.WithDescription("Downstream results discarded after an interrupt, by stage."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("voicefront.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("voicefront.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voicefront.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("voicefront.provider.requests",
		metric.WithDescription("Total provider API requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voicefront.provider.errors",
		metric.WithDescription("Total provider errors by kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("voicefront.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicefront.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordFrame counts one captured frame.
func (m *Metrics) RecordFrame(ctx context.Context, speech bool) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("speech", speech)))
}

// RecordUtterance counts one dispatched utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, source string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordDeviceError counts one capture device failure.
func (m *Metrics) RecordDeviceError(ctx context.Context, op string) {
	m.DeviceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordStale counts one discarded downstream result.
func (m *Metrics) RecordStale(ctx context.Context, stage string) {
	m.StaleResults.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}
