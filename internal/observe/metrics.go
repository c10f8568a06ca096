// Package observe provides observability primitives for tubescribe:
// OpenTelemetry metrics, tracing, and HTTP middleware that ties them
// together.
//
// Metric instruments go through the OpenTelemetry Metrics API;
// [InitProvider] bridges them to a Prometheus exporter so the standard
// /metrics endpoint can be scraped. A process-wide default [Metrics]
// instance ([DefaultMetrics]) exists for wiring convenience; tests should
// build their own via [NewMetrics] with a private [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tubescribe/tubescribe/internal/pipeline"
)

// meterName is the instrumentation scope name used for all tubescribe
// metrics.
const meterName = "github.com/tubescribe/tubescribe"

// Metrics bundles every instrument the server records. Fields may be used
// from any goroutine; synchronisation lives inside the OTel instruments.
type Metrics struct {
	// StageDuration tracks how long each pipeline stage took. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// JobsTotal counts finished transcription jobs. Use with
	// attribute.String("outcome", ...).
	JobsTotal metric.Int64Counter

	// JobsInFlight tracks the number of jobs currently running.
	JobsInFlight metric.Int64UpDownCounter

	// CacheLookups counts transcript cache lookups. Use with
	// attribute.String("result", "hit"|"miss").
	CacheLookups metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

var _ pipeline.Metrics = (*Metrics)(nil)

// stageBuckets defines histogram bucket boundaries (in seconds). A download
// or transcription stage runs for seconds to minutes, so the buckets reach
// much further out than typical request-latency buckets.
var stageBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// httpBuckets covers the interactive endpoints (metadata, estimate,
// capabilities). The streaming endpoints hold their connection open for the
// whole job, so the top buckets overlap with stageBuckets.
var httpBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30, 120, 600,
}

// NewMetrics registers all instruments on a meter from mp. It fails as soon
// as any single instrument cannot be created.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("tubescribe.stage.duration",
		metric.WithDescription("Duration of each pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobsTotal, err = m.Int64Counter("tubescribe.jobs.total",
		metric.WithDescription("Finished transcription jobs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.JobsInFlight, err = m.Int64UpDownCounter("tubescribe.jobs.in_flight",
		metric.WithDescription("Transcription jobs currently running."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("tubescribe.cache.lookups",
		metric.WithDescription("Transcript cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("tubescribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics backs [DefaultMetrics]; built once, on demand.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// JobStarted records the start of a transcription job.
func (m *Metrics) JobStarted() {
	m.JobsInFlight.Add(context.Background(), 1)
}

// JobFinished records the end of a transcription job with its outcome.
func (m *Metrics) JobFinished(outcome string) {
	ctx := context.Background()
	m.JobsInFlight.Add(ctx, -1)
	m.JobsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// StageObserved records the duration of one pipeline stage.
func (m *Metrics) StageObserved(stage string, elapsed time.Duration) {
	m.StageDuration.Record(context.Background(), elapsed.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// CacheHit records a transcript cache hit.
func (m *Metrics) CacheHit() {
	m.recordCacheLookup("hit")
}

// CacheMiss records a transcript cache miss.
func (m *Metrics) CacheMiss() {
	m.recordCacheLookup("miss")
}

func (m *Metrics) recordCacheLookup(result string) {
	m.CacheLookups.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("result", result)))
}
