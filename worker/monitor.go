package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/ripple/job"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a monitor schedule expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Report is the result of one queue health check.
type Report struct {
	Counts job.Counts
	// Exhausted lists failed jobs that used all of their attempts, most
	// recent first.
	Exhausted []*job.Job
}

// Monitor periodically logs queue depth per state and warns about every
// failed job whose attempts reached the maximum.
type Monitor struct {
	store    job.Store
	logger   *slog.Logger
	schedule string
	limit    int

	mu   sync.Mutex
	cron *cronlib.Cron
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorSchedule sets the check schedule. Defaults to "@every 30s".
func WithMonitorSchedule(expr string) MonitorOption {
	return func(m *Monitor) { m.schedule = expr }
}

// WithMonitorLimit bounds how many failed jobs one check inspects.
func WithMonitorLimit(n int) MonitorOption {
	return func(m *Monitor) { m.limit = n }
}

// NewMonitor creates a Monitor over store.
func NewMonitor(store job.Store, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		store:    store,
		logger:   logger,
		schedule: "@every 30s",
		limit:    50,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check runs one health check and logs the result.
func (m *Monitor) Check(ctx context.Context) (Report, error) {
	counts, err := m.store.Counts(ctx)
	if err != nil {
		m.logger.Error("queue self-check failed", slog.String("error", err.Error()))
		return Report{}, err
	}

	attrs := make([]any, 0, len(job.States))
	for _, st := range job.States {
		attrs = append(attrs, slog.Int64(string(st), counts[st]))
	}
	m.logger.Info("queue depth", attrs...)

	report := Report{Counts: counts}
	if counts[job.StateFailed] == 0 {
		return report, nil
	}

	failed, err := m.store.List(ctx, job.StateFailed, m.limit)
	if err != nil {
		m.logger.Error("queue self-check: list failed jobs", slog.String("error", err.Error()))
		return report, err
	}
	for _, j := range failed {
		if !j.Exhausted() {
			continue
		}
		report.Exhausted = append(report.Exhausted, j)
		m.logger.Warn("job exhausted its attempts",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.Int("attempts", j.Attempts),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.String("last_error", j.LastError),
		)
	}
	return report, nil
}

// Start schedules periodic checks. It returns immediately.
func (m *Monitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return nil
	}
	sched, err := ParseSchedule(m.schedule)
	if err != nil {
		return fmt.Errorf("ripple: monitor schedule %q: %w", m.schedule, err)
	}

	c := cronlib.New(cronlib.WithParser(cronParser))
	c.Schedule(sched, cronlib.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = m.Check(ctx) //nolint:errcheck // logged by Check
	}))
	c.Start()
	m.cron = c
	return nil
}

// Stop halts scheduling and waits for a running check, or for ctx.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
