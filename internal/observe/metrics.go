// Package observe provides application-wide observability primitives for
// voxd: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware for the telemetry listener.
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

// meterName is the instrumentation scope name used for all voxd metrics.
const meterName = "github.com/voxdaemon/voxd"

// Metrics holds all OpenTelemetry metric instruments for the daemon.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks recognition latency. Use with attribute:
	//   attribute.String("mode", "batch"|"streaming")
	TranscriptionDuration metric.Float64Histogram

	// InjectionDuration tracks keystroke injection latency.
	InjectionDuration metric.Float64Histogram

	// DownloadDuration tracks model download latency, including retries.
	DownloadDuration metric.Float64Histogram

	// --- Counters ---

	// Segments counts completed speech segments by outcome. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("outcome", "ok"|"empty"|"error"|"timeout")
	Segments metric.Int64Counter

	// InjectedChars counts characters typed into the focused window.
	InjectedChars metric.Int64Counter

	// Commands counts control-socket commands by verb and status. Use with attributes:
	//   attribute.String("command", ...), attribute.String("status", "ok"|"error"|"rate_limited")
	Commands metric.Int64Counter

	// DroppedChunks counts audio chunks lost to consumer lag.
	DroppedChunks metric.Int64Counter

	// --- Gauges ---

	// ActivePipelines tracks whether a processing pipeline is live (0 or 1).
	ActivePipelines metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks telemetry-listener request time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-segment pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// downloadBuckets covers model downloads, which run seconds to minutes.
var downloadBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("voxd.transcription.duration",
		metric.WithDescription("Latency of speech-to-text recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InjectionDuration, err = m.Float64Histogram("voxd.injection.duration",
		metric.WithDescription("Latency of keystroke injection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DownloadDuration, err = m.Float64Histogram("voxd.model.download.duration",
		metric.WithDescription("Latency of model asset downloads, including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(downloadBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Segments, err = m.Int64Counter("voxd.segments",
		metric.WithDescription("Completed speech segments by mode and outcome."),
	); err != nil {
		return nil, err
	}
	if met.InjectedChars, err = m.Int64Counter("voxd.injected.chars",
		metric.WithDescription("Characters injected into the focused window."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("voxd.commands",
		metric.WithDescription("Control-socket commands by verb and status."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("voxd.audio.dropped_chunks",
		metric.WithDescription("Audio chunks dropped because the consumer lagged."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePipelines, err = m.Int64UpDownCounter("voxd.active_pipelines",
		metric.WithDescription("Number of live processing pipelines (0 or 1)."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxd.http.request.duration",
		metric.WithDescription("Telemetry-listener request latency by method and path."),
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

// RecordSegment is a convenience method that records a segment counter
// increment with the standard attribute set.
func (m *Metrics) RecordSegment(ctx context.Context, mode, outcome string) {
	m.Segments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordCommand is a convenience method that records a command counter
// increment with the standard attribute set.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}
