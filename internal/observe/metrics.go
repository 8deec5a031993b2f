// Package observe provides application-wide observability primitives for
// Candor: OpenTelemetry metrics, distributed tracing, and HTTP middleware
// that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Candor metrics.
const meterName = "github.com/mkessel/candor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// DetectorDuration tracks detector inference latency. Use with
	// attributes:
	//   attribute.String("modality", ...), attribute.String("method", ...)
	DetectorDuration metric.Float64Histogram

	// CompositeTickDuration tracks the wall time of one full composite tick
	// including canonicalisation and emission.
	CompositeTickDuration metric.Float64Histogram

	// SamplesEmitted counts emitted samples. Use with attribute:
	//   attribute.String("kind", "composite"|"final_flush"|"terminal_error")
	SamplesEmitted metric.Int64Counter

	// IntakeDrops counts media dropped at intake. Use with attribute:
	//   attribute.String("media", "video"|"audio")
	IntakeDrops metric.Int64Counter

	// StoreErrors counts failed persistence calls. Use with attribute:
	//   attribute.String("op", ...)
	StoreErrors metric.Int64Counter

	// BusErrors counts failed broadcasts.
	BusErrors metric.Int64Counter

	// ActiveSessions tracks the number of live analysis sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// detector inference and tick latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DetectorDuration, err = m.Float64Histogram("candor.detector.duration",
		metric.WithDescription("Latency of detector inference by modality and method."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompositeTickDuration, err = m.Float64Histogram("candor.tick.duration",
		metric.WithDescription("Wall time of one composite tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SamplesEmitted, err = m.Int64Counter("candor.samples.emitted",
		metric.WithDescription("Total emitted samples by kind."),
	); err != nil {
		return nil, err
	}
	if met.IntakeDrops, err = m.Int64Counter("candor.intake.drops",
		metric.WithDescription("Media dropped at intake by media type."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("candor.store.errors",
		metric.WithDescription("Failed store operations by op."),
	); err != nil {
		return nil, err
	}
	if met.BusErrors, err = m.Int64Counter("candor.bus.errors",
		metric.WithDescription("Failed event-bus broadcasts."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("candor.active_sessions",
		metric.WithDescription("Number of live analysis sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("candor.http.request.duration",
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

// RecordDetectorRun records one detector invocation's latency.
func (m *Metrics) RecordDetectorRun(ctx context.Context, modality, method string, d time.Duration) {
	m.DetectorDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("modality", modality),
			attribute.String("method", method),
		),
	)
}

// RecordSample records one emitted sample.
func (m *Metrics) RecordSample(ctx context.Context, kind string) {
	m.SamplesEmitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordIntakeDrop records one dropped frame or chunk.
func (m *Metrics) RecordIntakeDrop(ctx context.Context, media string) {
	m.IntakeDrops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("media", media)),
	)
}

// RecordStoreError records one failed store operation.
func (m *Metrics) RecordStoreError(ctx context.Context, op string) {
	m.StoreErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
