// Package observe provides the observability plumbing for Jessy: OpenTelemetry
// metrics and traces, trace-aware logging, and the HTTP middleware tying them
// together.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed to
// Prometheus via the exporter bridge set up by [InitProvider]. [DefaultMetrics]
// is a package-level instance on the global meter provider; tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/jessy"

// Status values for the "status" attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds every instrument the service records.
type Metrics struct {
	// STTDuration is recognizer latency, attributes: provider, status.
	STTDuration metric.Float64Histogram

	// LLMDuration is the latency of a single completion attempt.
	LLMDuration metric.Float64Histogram

	// TTSDuration is synthesizer latency.
	TTSDuration metric.Float64Histogram

	// CaptureDuration is how long a capture session ran, attribute: reason.
	CaptureDuration metric.Float64Histogram

	// CompletionAttempts counts attempts by outcome
	// (success, low_quality, transport_error).
	CompletionAttempts metric.Int64Counter

	// ResponderFallbacks counts replies replaced by the canned fallback,
	// attribute: reason (degraded, echo).
	ResponderFallbacks metric.Int64Counter

	// ProviderErrors counts backend errors, attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes, attributes:
	// provider, to.
	BreakerTransitions metric.Int64Counter

	// ActiveCaptures is the number of capture sessions in progress.
	ActiveCaptures metric.Int64UpDownCounter

	// HTTPRequestDuration is request latency, attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds; local whisper and piper runs sit in the
// 0.5–10 s range, remote completions lower.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	hist := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.STTDuration, err = hist("jessy.stt.duration", "Latency of speech recognition."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = hist("jessy.llm.duration", "Latency of a single completion attempt."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = hist("jessy.tts.duration", "Latency of speech synthesis."); err != nil {
		return nil, err
	}
	if met.CaptureDuration, err = hist("jessy.capture.duration", "Length of capture sessions."); err != nil {
		return nil, err
	}

	if met.CompletionAttempts, err = m.Int64Counter("jessy.completion.attempts",
		metric.WithDescription("Completion attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ResponderFallbacks, err = m.Int64Counter("jessy.responder.fallbacks",
		metric.WithDescription("Replies replaced by the fallback message, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("jessy.provider.errors",
		metric.WithDescription("Backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("jessy.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("jessy.active_captures",
		metric.WithDescription("Capture sessions currently recording."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("jessy.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] on the global meter
// provider, creating it on first call. Call [InitProvider] first so the
// instruments bind to the Prometheus-backed provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// StatusOf maps err to [StatusOK] or [StatusError].
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordStage records a stage latency on h with provider and status
// attributes.
func (m *Metrics) RecordStage(ctx context.Context, h metric.Float64Histogram, provider string, start time.Time, err error) {
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", StatusOf(err)),
	))
}

// RecordAttempt counts one completion attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, outcome string) {
	m.CompletionAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordFallback counts one fallback reply.
func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	m.ResponderFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderError counts one backend error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordBreakerTransition counts a breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("to", to),
	))
}
