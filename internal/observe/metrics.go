// Package observe provides observability primitives for longscribe:
// OpenTelemetry metrics with a Prometheus exporter bridge and the /metrics
// endpoint the pipeline binary serves while a run is in flight.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all longscribe metrics.
const meterName = "github.com/longscribe/longscribe"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks wall-clock time per pipeline stage. Use with
	// attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	StageDuration metric.Float64Histogram

	// ItemRetries counts retried stage items. Use with attribute:
	//   attribute.String("stage", ...)
	ItemRetries metric.Int64Counter

	// ProviderRequests counts model provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BlobRequests counts object store operations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	BlobRequests metric.Int64Counter

	// SegmentsTranscribed counts speaker segments that completed
	// transcription, including placeholder results.
	SegmentsTranscribed metric.Int64Counter

	// SpeakersPerRun records the global speaker count of each finished run.
	SpeakersPerRun metric.Int64Histogram

	// ActiveRuns tracks the number of pipeline runs currently in flight.
	ActiveRuns metric.Int64UpDownCounter
}

// stageBuckets defines histogram bucket boundaries (in seconds) sized for
// batch stages that range from sub-second blob writes to hour-long
// transcription fan-outs.
var stageBuckets = []float64{
	0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("longscribe.stage.duration",
		metric.WithDescription("Wall-clock time per pipeline stage by stage and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ItemRetries, err = m.Int64Counter("longscribe.stage.retries",
		metric.WithDescription("Total retried stage items by stage."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("longscribe.provider.requests",
		metric.WithDescription("Total model provider calls by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BlobRequests, err = m.Int64Counter("longscribe.blob.requests",
		metric.WithDescription("Total object store operations by op and status."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsTranscribed, err = m.Int64Counter("longscribe.segments.transcribed",
		metric.WithDescription("Total speaker segments that completed transcription."),
	); err != nil {
		return nil, err
	}
	if met.SpeakersPerRun, err = m.Int64Histogram("longscribe.run.speakers",
		metric.WithDescription("Global speaker count per finished run."),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 6, 8, 12, 16),
	); err != nil {
		return nil, err
	}
	if met.ActiveRuns, err = m.Int64UpDownCounter("longscribe.active_runs",
		metric.WithDescription("Number of pipeline runs currently in flight."),
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

// RecordStage records one stage completion with its duration in seconds and
// outcome status ("ok" or "error").
func (m *Metrics) RecordStage(ctx context.Context, stage, status string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordRetry records one retried item in the given stage.
func (m *Metrics) RecordRetry(ctx context.Context, stage string) {
	m.ItemRetries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordProviderRequest records a provider call counter increment with the
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

// RecordBlobRequest records an object store operation counter increment.
func (m *Metrics) RecordBlobRequest(ctx context.Context, op, status string) {
	m.BlobRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}
