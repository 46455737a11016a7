// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use. The underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Recorder ---

	// FramesIngested counts audio frames accepted into ring buffers.
	FramesIngested metric.Int64Counter

	// FramesDropped counts frames rejected at ingest. Use with attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// BufferEvictions counts ring buffers removed because they went stale.
	BufferEvictions metric.Int64Counter

	// ActiveBuffers tracks the number of live (session, speaker) buffers.
	ActiveBuffers metric.Int64UpDownCounter

	// --- Transcode cache ---

	// CacheLookups counts cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss"|"shared")
	CacheLookups metric.Int64Counter

	// Conversions counts converter invocations. Use with attributes:
	//   attribute.String("format", ...), attribute.String("status", ...)
	Conversions metric.Int64Counter

	// ConversionDuration tracks converter latency.
	ConversionDuration metric.Float64Histogram

	// --- Playback ---

	// Plays counts dispatch attempts. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	Plays metric.Int64Counter

	// ActiveVoiceSessions tracks the number of joined voice channels.
	ActiveVoiceSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// audio conversions, which range from a few milliseconds for cached WAV
// reads to seconds for an ffmpeg round trip.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Recorder.
	if met.FramesIngested, err = m.Int64Counter("earshot.recorder.frames_ingested",
		metric.WithDescription("Total audio frames written into ring buffers."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("earshot.recorder.frames_dropped",
		metric.WithDescription("Total audio frames rejected at ingest by reason."),
	); err != nil {
		return nil, err
	}
	if met.BufferEvictions, err = m.Int64Counter("earshot.recorder.evictions",
		metric.WithDescription("Total ring buffers evicted after going stale."),
	); err != nil {
		return nil, err
	}
	if met.ActiveBuffers, err = m.Int64UpDownCounter("earshot.recorder.active_buffers",
		metric.WithDescription("Number of live per-speaker ring buffers."),
	); err != nil {
		return nil, err
	}

	// Transcode cache.
	if met.CacheLookups, err = m.Int64Counter("earshot.cache.lookups",
		metric.WithDescription("Total transcode cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.Conversions, err = m.Int64Counter("earshot.transcode.conversions",
		metric.WithDescription("Total converter invocations by target format and status."),
	); err != nil {
		return nil, err
	}
	if met.ConversionDuration, err = m.Float64Histogram("earshot.transcode.duration",
		metric.WithDescription("Latency of a single sound conversion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.Plays, err = m.Int64Counter("earshot.playback.plays",
		metric.WithDescription("Total playback dispatches by request kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("earshot.voice.active_sessions",
		metric.WithDescription("Number of joined voice channels."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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

// RecordFrameDropped records a rejected ingest with its reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCacheLookup records a transcode cache lookup outcome.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordConversion records a converter invocation together with its latency.
func (m *Metrics) RecordConversion(ctx context.Context, format, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("format", format),
		attribute.String("status", status),
	)
	m.Conversions.Add(ctx, 1, attrs)
	m.ConversionDuration.Record(ctx, seconds, attrs)
}

// RecordPlay records a playback dispatch outcome.
func (m *Metrics) RecordPlay(ctx context.Context, kind, status string) {
	m.Plays.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
