package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point whose attribute key
// equals value, and whether such a point exists.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"speakaura.analysis.duration", m.RunDuration},
		{"speakaura.embedding.duration", m.EmbeddingDuration},
		{"speakaura.plan.duration", m.PlanDuration},
		{"speakaura.severity.score", m.SeverityScore},
		{"speakaura.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordRun(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRun(ctx, StatusOK, "Mild")
	m.RecordRun(ctx, StatusOK, "Mild")
	m.RecordRun(ctx, StatusEmpty, "")

	rm := collect(t, reader)
	if v, ok := sumWhere(t, rm, "speakaura.analysis.runs", "status", StatusOK); !ok || v != 2 {
		t.Errorf("ok runs = %d (found %v), want 2", v, ok)
	}
	if v, ok := sumWhere(t, rm, "speakaura.analysis.runs", "status", StatusEmpty); !ok || v != 1 {
		t.Errorf("empty runs = %d (found %v), want 1", v, ok)
	}
}

func TestRecordEvents_SkipsZeroCounts(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordEvents(context.Background(), 2, 0, 1, 0)

	rm := collect(t, reader)
	if v, ok := sumWhere(t, rm, "speakaura.disfluency.events", "kind", "filler"); !ok || v != 2 {
		t.Errorf("filler = %d (found %v), want 2", v, ok)
	}
	if _, ok := sumWhere(t, rm, "speakaura.disfluency.events", "kind", "block"); ok {
		t.Error("expected no data point for zero block count")
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "embeddings", "ok")
	m.RecordProviderRequest(ctx, "openai", "embeddings", "ok")
	m.RecordProviderRequest(ctx, "openai", "embeddings", "error")
	m.RecordProviderError(ctx, "openai", "embeddings")

	rm := collect(t, reader)
	if v, _ := sumWhere(t, rm, "speakaura.provider.requests", "status", "ok"); v != 2 {
		t.Errorf("ok requests = %d, want 2", v)
	}
	if v, _ := sumWhere(t, rm, "speakaura.provider.errors", "kind", "embeddings"); v != 1 {
		t.Errorf("errors = %d, want 1", v)
	}
}

func TestActiveRuns(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.ActiveRuns.Add(ctx, 1)
	m.ActiveRuns.Add(ctx, 1)
	m.ActiveRuns.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "speakaura.analysis.active")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active runs = %d, want 1", got)
	}
}

func TestRecordStore(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordStore(context.Background(), "save", 0.01)

	rm := collect(t, reader)
	met := findMetric(rm, "speakaura.store.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("count = %d, want 1", hist.DataPoints[0].Count)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
