// Package observe provides application-wide observability primitives for
// livevoice: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all livevoice metrics.
const meterName = "github.com/MrWong99/livevoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from dial to connected.
	ConnectDuration metric.Float64Histogram

	// PlaybackLatency tracks the time between the first buffered frame of a
	// flush and the start of its playback.
	PlaybackLatency metric.Float64Histogram

	// --- Counters ---

	// StateTransitions counts session state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// ReconnectAttempts counts scheduled reconnects.
	ReconnectAttempts metric.Int64Counter

	// FramesSent counts outbound messages. Use with attribute:
	//   attribute.String("kind", "audio"|"text")
	FramesSent metric.Int64Counter

	// FramesReceived counts inbound audio frames.
	FramesReceived metric.Int64Counter

	// DroppedPayloads counts inbound or outbound payloads that were dropped.
	// Use with attribute:
	//   attribute.String("reason", ...)
	DroppedPayloads metric.Int64Counter

	// PlaybackFlushes counts jitter buffer flushes. Use with attribute:
	//   attribute.String("result", "played"|"discarded"|"failed")
	PlaybackFlushes metric.Int64Counter

	// DeviceErrors counts microphone acquisition and mid-stream failures.
	// Use with attribute:
	//   attribute.String("kind", ...)
	DeviceErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-session latencies.
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
	if met.ConnectDuration, err = m.Float64Histogram("livevoice.session.connect.duration",
		metric.WithDescription("Latency from dial to connected."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackLatency, err = m.Float64Histogram("livevoice.playback.latency",
		metric.WithDescription("Latency from first buffered frame to playback start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StateTransitions, err = m.Int64Counter("livevoice.session.state_transitions",
		metric.WithDescription("Total session state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("livevoice.session.reconnect_attempts",
		metric.WithDescription("Total scheduled reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("livevoice.session.frames_sent",
		metric.WithDescription("Total outbound messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("livevoice.session.frames_received",
		metric.WithDescription("Total inbound audio frames."),
	); err != nil {
		return nil, err
	}
	if met.DroppedPayloads, err = m.Int64Counter("livevoice.session.dropped_payloads",
		metric.WithDescription("Total dropped payloads by reason."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFlushes, err = m.Int64Counter("livevoice.playback.flushes",
		metric.WithDescription("Total jitter buffer flushes by result."),
	); err != nil {
		return nil, err
	}
	if met.DeviceErrors, err = m.Int64Counter("livevoice.capture.device_errors",
		metric.WithDescription("Total capture device errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livevoice.active_sessions",
		metric.WithDescription("Number of connected voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livevoice.http.request.duration",
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

// RecordStateTransition records a session state change and keeps
// ActiveSessions in step with entering and leaving "connected".
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
	switch {
	case to == "connected" && from != "connected":
		m.ActiveSessions.Add(ctx, 1)
	case from == "connected" && to != "connected":
		m.ActiveSessions.Add(ctx, -1)
	}
}

// RecordFrameSent records one outbound message of the given kind.
func (m *Metrics) RecordFrameSent(ctx context.Context, kind string) {
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDropped records one dropped payload.
func (m *Metrics) RecordDropped(ctx context.Context, reason string) {
	m.DroppedPayloads.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFlush records one jitter buffer flush outcome.
func (m *Metrics) RecordFlush(ctx context.Context, result string) {
	m.PlaybackFlushes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordDeviceError records one capture device failure.
func (m *Metrics) RecordDeviceError(ctx context.Context, kind string) {
	m.DeviceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
