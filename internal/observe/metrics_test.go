package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
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

// sumFor returns the value of the data point carrying key=value.
func sumFor(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", met.Name, key, value)
	return 0
}

func TestRecordSynthesis(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSynthesis(ctx, "gtts", nil, 120*time.Millisecond)
	m.RecordSynthesis(ctx, "gtts", nil, 80*time.Millisecond)
	m.RecordSynthesis(ctx, "gtts", errors.New("boom"), time.Second)

	rm := collect(t, reader)

	met := findMetric(rm, "vocalize.synthesis.requests")
	if met == nil {
		t.Fatal("requests metric not found")
	}
	if got := sumFor(t, met, "status", "ok"); got != 2 {
		t.Errorf("ok attempts = %d, want 2", got)
	}
	if got := sumFor(t, met, "status", "error"); got != 1 {
		t.Errorf("failed attempts = %d, want 1", got)
	}

	met = findMetric(rm, "vocalize.synthesis.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("sample count = %d, want 3", count)
	}
}

func TestRecordFallback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFallback(ctx, "gtts", "system")
	m.RecordFallback(ctx, "gtts", "system")

	met := findMetric(collect(t, reader), "vocalize.synthesis.fallbacks")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumFor(t, met, "from", "gtts"); got != 2 {
		t.Errorf("fallbacks = %d, want 2", got)
	}
}

func TestRecordPrunedIgnoresZero(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordPruned(context.Background(), 0)
	if met := findMetric(collect(t, reader), "vocalize.audio.pruned"); met != nil {
		t.Errorf("expected no data for zero pruned files, got %+v", met.Data)
	}

	m.RecordPruned(context.Background(), 3)
	met := findMetric(collect(t, reader), "vocalize.audio.pruned")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
		t.Errorf("pruned = %+v, want a single point of 3", sum.DataPoints)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, "gtts", false)
	m.RecordCacheLookup(ctx, "gtts", true)
	m.RecordCacheLookup(ctx, "gtts", true)

	met := findMetric(collect(t, reader), "vocalize.cache.lookups")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumFor(t, met, "result", "hit"); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
	if got := sumFor(t, met, "result", "miss"); got != 1 {
		t.Errorf("misses = %d, want 1", got)
	}
}
