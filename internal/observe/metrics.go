// Package observe provides application-wide observability primitives for
// SpeakAura: OpenTelemetry metrics, distributed tracing, trace-aware
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed to
// Prometheus by [InitProvider]. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] instead of [DefaultMetrics] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all SpeakAura metrics.
const meterName = "github.com/MrWong99/speakaura"

// Run outcomes reported on [Metrics.Runs].
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusEmpty   = "empty"
	StatusError   = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// RunDuration tracks the wall time of one analysis run, extraction to
	// assembled result.
	RunDuration metric.Float64Histogram

	// EmbeddingDuration tracks transcript embedding latency.
	EmbeddingDuration metric.Float64Histogram

	// PlanDuration tracks therapy-plan generation latency.
	PlanDuration metric.Float64Histogram

	// StoreDuration tracks persistence latency. Attribute: op.
	StoreDuration metric.Float64Histogram

	// SeverityScore records the severity score of every scored run.
	SeverityScore metric.Float64Histogram

	// Runs counts finished runs. Attributes: status, severity_level.
	Runs metric.Int64Counter

	// SkippedRecords counts transcription records dropped by the extractor.
	SkippedRecords metric.Int64Counter

	// DisfluencyEvents counts detected events. Attribute: kind.
	DisfluencyEvents metric.Int64Counter

	// ProviderRequests counts provider API calls. Attributes: provider,
	// kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// ActiveRuns tracks the number of runs in flight.
	ActiveRuns metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries in seconds, sized for
// remote embedding and generation calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// severityBuckets straddle the default Moderate and Severe thresholds.
var severityBuckets = []float64{
	0, 0.05, 0.1, 0.15, 0.2, 0.25, 0.5, 1, 2,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	latency := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.RunDuration, err = latency("speakaura.analysis.duration",
		"Latency of one analysis run."); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = latency("speakaura.embedding.duration",
		"Latency of transcript embedding."); err != nil {
		return nil, err
	}
	if met.PlanDuration, err = latency("speakaura.plan.duration",
		"Latency of therapy-plan generation."); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = latency("speakaura.store.duration",
		"Latency of result store operations by op."); err != nil {
		return nil, err
	}
	if met.SeverityScore, err = m.Float64Histogram("speakaura.severity.score",
		metric.WithDescription("Severity score of scored runs."),
		metric.WithExplicitBucketBoundaries(severityBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Runs, err = m.Int64Counter("speakaura.analysis.runs",
		metric.WithDescription("Finished analysis runs by status and severity level."),
	); err != nil {
		return nil, err
	}
	if met.SkippedRecords, err = m.Int64Counter("speakaura.transcript.skipped_records",
		metric.WithDescription("Transcription records skipped because they could not be parsed."),
	); err != nil {
		return nil, err
	}
	if met.DisfluencyEvents, err = m.Int64Counter("speakaura.disfluency.events",
		metric.WithDescription("Detected disfluency events by kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("speakaura.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("speakaura.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRuns, err = m.Int64UpDownCounter("speakaura.analysis.active",
		metric.WithDescription("Number of analysis runs in flight."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("speakaura.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// RecordRun increments the run counter.
func (m *Metrics) RecordRun(ctx context.Context, status, level string) {
	m.Runs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("severity_level", level),
		),
	)
}

// RecordEvents adds the per-kind disfluency counts of one run. Zero counts
// are skipped.
func (m *Metrics) RecordEvents(ctx context.Context, fillers, repetitions, prolongations, blocks int) {
	for _, e := range []struct {
		kind string
		n    int
	}{
		{"filler", fillers},
		{"repetition", repetitions},
		{"prolongation", prolongations},
		{"block", blocks},
	} {
		if e.n > 0 {
			m.DisfluencyEvents.Add(ctx, int64(e.n), metric.WithAttributes(attribute.String("kind", e.kind)))
		}
	}
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordStore records the latency of one store operation.
func (m *Metrics) RecordStore(ctx context.Context, op string, seconds float64) {
	m.StoreDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("op", op)))
}
