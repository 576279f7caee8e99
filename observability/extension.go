package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/ripple/ext"
	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*MetricsExtension)(nil)
	_ ext.JobEnqueued           = (*MetricsExtension)(nil)
	_ ext.JobCompleted          = (*MetricsExtension)(nil)
	_ ext.JobRetrying           = (*MetricsExtension)(nil)
	_ ext.JobFailed             = (*MetricsExtension)(nil)
	_ ext.JobReclaimed          = (*MetricsExtension)(nil)
	_ ext.CacheInvalidated      = (*MetricsExtension)(nil)
	_ ext.AggregateRecalculated = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/ripple/observability"

// MetricsExtension records system-wide lifecycle counters. Register it
// with an ext.Registry to track enqueue rates, completions, retries,
// terminal failures, stalled-job reclaims, cache invalidations and
// aggregate recalculations.
type MetricsExtension struct {
	JobEnqueued           metric.Int64Counter
	JobCompleted          metric.Int64Counter
	JobRetried            metric.Int64Counter
	JobFailed             metric.Int64Counter
	JobReclaimed          metric.Int64Counter
	CacheInvalidated      metric.Int64Counter
	AggregateRecalculated metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	return &MetricsExtension{
		JobEnqueued:           counter(meter, "ripple.job.enqueued", "Jobs pushed to the queue"),
		JobCompleted:          counter(meter, "ripple.job.completed", "Jobs completed successfully"),
		JobRetried:            counter(meter, "ripple.job.retried", "Failed attempts scheduled for retry"),
		JobFailed:             counter(meter, "ripple.job.failed", "Jobs moved to the failed state"),
		JobReclaimed:          counter(meter, "ripple.job.reclaimed", "Stalled jobs returned to waiting"),
		CacheInvalidated:      counter(meter, "ripple.cache.invalidations", "Cache invalidation calls per target"),
		AggregateRecalculated: counter(meter, "ripple.aggregate.recalculations", "Coalesced aggregate recomputations"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback guaranteed by OTel API contract
	return c
}

func status(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", string(j.Type))))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", string(j.Type))))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", string(j.Type))))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", string(j.Type))))
	return nil
}

// OnJobReclaimed implements ext.JobReclaimed.
func (m *MetricsExtension) OnJobReclaimed(ctx context.Context, _ id.JobID) error {
	m.JobReclaimed.Add(ctx, 1)
	return nil
}

// ── Pipeline hooks ──────────────────────────────────

// OnCacheInvalidated implements ext.CacheInvalidated.
func (m *MetricsExtension) OnCacheInvalidated(ctx context.Context, target string, _ []string, err error) error {
	m.CacheInvalidated.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target), status(err)))
	return nil
}

// OnAggregateRecalculated implements ext.AggregateRecalculated.
func (m *MetricsExtension) OnAggregateRecalculated(ctx context.Context, kind, _ string, err error) error {
	m.AggregateRecalculated.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), status(err)))
	return nil
}
