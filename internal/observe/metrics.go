// Package observe provides application-wide observability primitives for
// Hobbystreak: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Hobbystreak metrics.
const meterName = "github.com/Niranjan-reddy99/hobbystreak"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// VoiceConnectDuration tracks how long a live voice session takes from
	// Connect to a ready remote session. Use with attribute:
	//   attribute.String("status", ...)
	VoiceConnectDuration metric.Float64Histogram

	// CoachChatDuration tracks text coach completion latency.
	CoachChatDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts encoded microphone frames handed to the remote session.
	FramesSent metric.Int64Counter

	// FramesDropped counts captured frames discarded because the session was
	// not active.
	FramesDropped metric.Int64Counter

	// FramesReceived counts model audio frames scheduled for playback.
	FramesReceived metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// DecodeErrors counts inbound audio payloads that could not be decoded or
	// scheduled.
	DecodeErrors metric.Int64Counter

	// SessionErrors counts live session failures. Use with attribute:
	//   attribute.String("kind", ...) // setup, transport, send
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ScheduledSources tracks playback sources that have been scheduled but
	// not yet completed or stopped.
	ScheduledSources metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for voice
// setup and chat latencies.
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
	if met.VoiceConnectDuration, err = m.Float64Histogram("hobbystreak.voice.connect.duration",
		metric.WithDescription("Latency of live voice session setup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CoachChatDuration, err = m.Float64Histogram("hobbystreak.coach.chat.duration",
		metric.WithDescription("Latency of text coach completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("hobbystreak.voice.frames.sent",
		metric.WithDescription("Total microphone frames sent to the voice model."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("hobbystreak.voice.frames.dropped",
		metric.WithDescription("Total microphone frames dropped while the session was inactive."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("hobbystreak.voice.frames.received",
		metric.WithDescription("Total model audio frames scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("hobbystreak.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("hobbystreak.provider.breaker.transitions",
		metric.WithDescription("Total circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DecodeErrors, err = m.Int64Counter("hobbystreak.voice.decode.errors",
		metric.WithDescription("Total inbound audio payloads that failed to decode or schedule."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("hobbystreak.voice.session.errors",
		metric.WithDescription("Total live voice session errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("hobbystreak.voice.sessions.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ScheduledSources, err = m.Int64UpDownCounter("hobbystreak.voice.sources.scheduled",
		metric.WithDescription("Number of playback sources waiting to finish."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hobbystreak.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition records a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

// RecordSessionError records a live session error of the given kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordConnect records the setup latency of a live voice session.
func (m *Metrics) RecordConnect(ctx context.Context, seconds float64, status string) {
	m.VoiceConnectDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
