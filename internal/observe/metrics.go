// Package observe provides application-wide observability primitives for
// Zubia: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Zubia metrics.
const meterName = "github.com/zubia/zubia"

// Metrics holds all OpenTelemetry metric instruments for the client engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation. The Record* convenience methods additionally
// tolerate a nil receiver so that components can run without metrics wired.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// CaptureLegDuration tracks the wall time of one capture leg, from
	// start to the chunk being finalised.
	CaptureLegDuration metric.Float64Histogram

	// PlaybackDuration tracks how long one queue entry took from dequeue
	// to playback completion.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksSent counts finalised audio chunks handed to the transport.
	// Use with attribute: attribute.String("mode", ...)
	ChunksSent metric.Int64Counter

	// TransportDrops counts frames dropped because the channel was closed
	// or a write failed. Use with attribute: attribute.String("kind", ...)
	TransportDrops metric.Int64Counter

	// ControlMessages counts inbound control messages by type tag.
	ControlMessages metric.Int64Counter

	// PlaybackEntries counts queue entries by outcome. Use with attribute:
	//   attribute.String("status", "played"|"skipped")
	PlaybackEntries metric.Int64Counter

	// --- Error counters ---

	// CaptureErrors counts capture failures by kind (permission, device,
	// encode).
	CaptureErrors metric.Int64Counter

	// --- Gauges ---

	// PlaybackQueueDepth tracks the number of entries waiting in the
	// playback queue.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// ActiveCaptures tracks the number of open capture sessions (0 or 1
	// in normal operation).
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive audio latencies.
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
	if met.CaptureLegDuration, err = m.Float64Histogram("zubia.capture.leg.duration",
		metric.WithDescription("Wall time of one capture leg from start to finalised chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("zubia.playback.duration",
		metric.WithDescription("Time from dequeue to playback completion per entry."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksSent, err = m.Int64Counter("zubia.chunks.sent",
		metric.WithDescription("Finalised audio chunks handed to the transport, by mode."),
	); err != nil {
		return nil, err
	}
	if met.TransportDrops, err = m.Int64Counter("zubia.transport.drops",
		metric.WithDescription("Frames dropped on a closed or failing channel, by kind."),
	); err != nil {
		return nil, err
	}
	if met.ControlMessages, err = m.Int64Counter("zubia.control.messages",
		metric.WithDescription("Inbound control messages by type."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackEntries, err = m.Int64Counter("zubia.playback.entries",
		metric.WithDescription("Playback queue entries by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CaptureErrors, err = m.Int64Counter("zubia.capture.errors",
		metric.WithDescription("Capture failures by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("zubia.playback.queue.depth",
		metric.WithDescription("Entries waiting in the playback queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("zubia.active_captures",
		metric.WithDescription("Open capture sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("zubia.http.request.duration",
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

// RecordChunkSent records one finalised chunk handed to the transport.
func (m *Metrics) RecordChunkSent(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.ChunksSent.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordTransportDrop records one frame dropped by the transport channel.
func (m *Metrics) RecordTransportDrop(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.TransportDrops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordControlMessage records one inbound control message by type tag.
func (m *Metrics) RecordControlMessage(ctx context.Context, typ string) {
	if m == nil {
		return
	}
	m.ControlMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", typ)),
	)
}

// RecordPlaybackEntry records the outcome of one playback queue entry.
func (m *Metrics) RecordPlaybackEntry(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.PlaybackEntries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCaptureError records one capture failure by kind.
func (m *Metrics) RecordCaptureError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.CaptureErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// AddQueueDepth adjusts the playback queue depth gauge by delta.
func (m *Metrics) AddQueueDepth(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.PlaybackQueueDepth.Add(ctx, delta)
}
