package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/ripple/ext"
	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
	"github.com/xraph/ripple/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		Type:  job.TypeUserWelcome,
		Queue: "notifications",
	}
}

// sum returns the total of all data points of the named counter.
func sum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range data.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobHooks(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := e.OnJobCompleted(ctx, j, 100*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := e.OnJobRetrying(ctx, j, 1, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}
	if err := e.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := e.OnJobReclaimed(ctx, j.ID); err != nil {
		t.Fatalf("OnJobReclaimed: %v", err)
	}

	for _, name := range []string{
		"ripple.job.enqueued",
		"ripple.job.completed",
		"ripple.job.retried",
		"ripple.job.failed",
		"ripple.job.reclaimed",
	} {
		if got := sum(t, reader, name); got != 1 {
			t.Errorf("%s: want 1, got %d", name, got)
		}
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitCacheInvalidated(ctx, "edge", []string{"home"}, nil)
	reg.EmitCacheInvalidated(ctx, "revalidate", []string{"home"}, errors.New("timeout"))
	reg.EmitAggregateRecalculated(ctx, "locations", "loc-1", nil)

	checks := []struct {
		name string
		want int64
	}{
		{"ripple.job.enqueued", 2},
		{"ripple.job.completed", 1},
		{"ripple.job.failed", 0},
		{"ripple.cache.invalidations", 2},
		{"ripple.aggregate.recalculations", 1},
	}
	for _, c := range checks {
		if got := sum(t, reader, c.name); got != c.want {
			t.Errorf("%s: want %d, got %d", c.name, c.want, got)
		}
	}
}
