package observe

import (
	"context"
	"errors"
	"testing"
	"time"

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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

// sumValue returns the total across all data points of an int64 sum.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"rememory.completion.duration", m.CompletionDuration},
		{"rememory.ratelimit.wait", m.RateLimitWait},
		{"rememory.operation.duration", m.OperationDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 4.56)
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

func TestRecordCompletion(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCompletion(ctx, "main", "summary", 2*time.Second, nil)
	m.RecordCompletion(ctx, "main", "summary", time.Second, nil)
	m.RecordCompletion(ctx, "main", "keywords", time.Second, errors.New("boom"))

	rm := collect(t, reader)
	met := findMetric(rm, "rememory.completion.requests")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not an int64 sum")
	}

	okAttrs := attribute.NewSet(
		attribute.String("profile", "main"),
		attribute.String("purpose", "summary"),
		attribute.String("status", "ok"),
	)
	errAttrs := attribute.NewSet(
		attribute.String("profile", "main"),
		attribute.String("purpose", "keywords"),
		attribute.String("status", "error"),
	)
	for _, dp := range sum.DataPoints {
		switch {
		case dp.Attributes.Equals(&okAttrs):
			if dp.Value != 2 {
				t.Errorf("ok count = %d, want 2", dp.Value)
			}
		case dp.Attributes.Equals(&errAttrs):
			if dp.Value != 1 {
				t.Errorf("error count = %d, want 1", dp.Value)
			}
		default:
			t.Errorf("unexpected attribute set %v", dp.Attributes)
		}
	}

	hist, ok := findMetric(rm, "rememory.completion.duration").Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("duration samples = %d, want 3", count)
	}
}

func TestRecordEntriesAndFade(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEntries(ctx, "keyword", 2)
	m.RecordEntries(ctx, "popup", 2)
	m.RecordEntries(ctx, "popup", 0)
	m.RecordFade(ctx, 7, 3)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"rememory.entries.created", 4},
		{"rememory.entries.faded", 7},
		{"rememory.entries.purged", 3},
	}
	for _, tt := range tests {
		if got := sumValue(t, rm, tt.name); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestRecordOperation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordOperation(ctx, "remember", "ok", time.Second)
	m.RecordOperation(ctx, "end_scene", "cancelled", time.Second)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "rememory.operations"); got != 2 {
		t.Errorf("operations = %d, want 2", got)
	}
}

func TestToolCallsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "remember_event", "ok")
	m.RecordToolCall(ctx, "remember_event", "ok")
	m.RecordToolCall(ctx, "fade_memories", "error")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "rememory.tool.calls"); got != 3 {
		t.Errorf("tool calls = %d, want 3", got)
	}
}

func TestRecordConfigReload(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordConfigReload(ctx, nil)
	m.RecordConfigReload(ctx, errors.New("bad yaml"))
	m.RecordConfigReload(ctx, nil)

	rm := collect(t, reader)
	met := findMetric(rm, "rememory.config.reloads")
	if met == nil {
		t.Fatal("rememory.config.reloads not found")
	}
	byResult := map[string]int64{}
	for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("result"))
		byResult[v.AsString()] += dp.Value
	}
	if byResult["applied"] != 2 || byResult["rejected"] != 1 {
		t.Errorf("reloads = %v, want applied=2 rejected=1", byResult)
	}
}

func TestActiveOperationsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveOperations.Add(ctx, 3)
	m.ActiveOperations.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "rememory.active_operations"); got != 2 {
		t.Errorf("active operations = %d, want 2", got)
	}
}

func TestSceneChunksHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.SceneChunks.Record(context.Background(), 3)

	rm := collect(t, reader)
	met := findMetric(rm, "rememory.scene.chunks")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("metric is not an int64 histogram")
	}
	if hist.DataPoints[0].Sum != 3 {
		t.Errorf("sum = %d, want 3", hist.DataPoints[0].Sum)
	}
}

func TestStatus(t *testing.T) {
	if Status(nil) != "ok" || Status(errors.New("x")) != "error" {
		t.Errorf("Status mapping wrong: %q %q", Status(nil), Status(errors.New("x")))
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
