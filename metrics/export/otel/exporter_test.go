package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/impactlog/impactlog"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot impactlog.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() impactlog.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := impactlog.MetricsSnapshot{
		Counters:   make(map[impactlog.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[impactlog.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// int64Value finds the single data point of name in rm.
func int64Value(t *testing.T, rm metricdata.ResourceMetrics, name string) (int64, bool) {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) == 1 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) == 1 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("impactlog-test")

	src := &fakeSource{
		snapshot: impactlog.MetricsSnapshot{
			Counters: map[impactlog.MetricID]uint64{
				impactlog.MetricSignInSuccess:      3,
				impactlog.MetricSessionInvalidated: 2,
			},
			Histograms: map[impactlog.MetricID][]uint64{
				impactlog.MetricRequestLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	for name, want := range map[string]int64{
		"impactlog_sign_in_success_total":                 3,
		"impactlog_session_invalidated_total":             2,
		"impactlog_audit_dropped_total":                   1,
		"impactlog_request_latency_seconds_bucket_le_0_1": 3,
		"impactlog_request_latency_seconds_bucket_le_inf": 8,
		"impactlog_request_latency_seconds_count":         8,
	} {
		got, ok := int64Value(t, rm, name)
		if !ok {
			t.Fatalf("metric %s not collected", name)
		}
		if got != want {
			t.Fatalf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("impactlog-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for a nil controller, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterStopsAfterClose(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("impactlog-test")
	src := &fakeSource{snapshot: impactlog.MetricsSnapshot{
		Counters: map[impactlog.MetricID]uint64{impactlog.MetricSignOut: 4},
	}}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if _, ok := int64Value(t, rm, "impactlog_sign_out_total"); ok {
		t.Fatal("no observations expected after Close")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("impactlog-test")

	src := &fakeSource{
		snapshot: impactlog.MetricsSnapshot{
			Counters: map[impactlog.MetricID]uint64{
				impactlog.MetricSignInSuccess: 1,
			},
			Histograms: map[impactlog.MetricID][]uint64{
				impactlog.MetricRequestLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[impactlog.MetricSignInSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
