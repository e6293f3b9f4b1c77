// Package observability holds the pipeline's metric instruments. Callers that
// do not configure a meter provider get no-op instruments, so recording is
// always safe.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/intakehq/docpipe/constants"
)

// MeterName identifies this module's meter.
const MeterName = "github.com/intakehq/docpipe"

// Metrics holds the job pipeline metric instruments.
type Metrics struct {
	jobsCreated   metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsRetried   metric.Int64Counter
	jobsPromoted  metric.Int64Counter
	jobDuration   metric.Float64Histogram
	stageDuration metric.Float64Histogram
}

// NewMetrics creates the instrument set on the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	// Instrument creation only fails on invalid names; fall back to the bare
	// instrument so a partial failure never nil-panics a recording site.
	var err error

	m.jobsCreated, err = meter.Int64Counter(
		"docpipe.jobs.created",
		metric.WithDescription("Jobs accepted and enqueued"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.jobsCreated, _ = meter.Int64Counter("docpipe.jobs.created")
	}

	m.jobsCompleted, err = meter.Int64Counter(
		"docpipe.jobs.completed",
		metric.WithDescription("Jobs that reached a terminal state"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.jobsCompleted, _ = meter.Int64Counter("docpipe.jobs.completed")
	}

	m.jobsRetried, err = meter.Int64Counter(
		"docpipe.jobs.retried",
		metric.WithDescription("Job attempts that were scheduled for retry"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		m.jobsRetried, _ = meter.Int64Counter("docpipe.jobs.retried")
	}

	m.jobsPromoted, err = meter.Int64Counter(
		"docpipe.jobs.promoted",
		metric.WithDescription("Retrying jobs promoted back into the queue"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.jobsPromoted, _ = meter.Int64Counter("docpipe.jobs.promoted")
	}

	m.jobDuration, err = meter.Float64Histogram(
		"docpipe.job.duration",
		metric.WithDescription("Wall time of a single job attempt in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.jobDuration, _ = meter.Float64Histogram("docpipe.job.duration")
	}

	m.stageDuration, err = meter.Float64Histogram(
		"docpipe.stage.duration",
		metric.WithDescription("Duration of individual pipeline stages in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.stageDuration, _ = meter.Float64Histogram("docpipe.stage.duration")
	}

	return m
}

// RecordCreated counts an accepted job.
func (m *Metrics) RecordCreated(ctx context.Context, schemaID string) {
	m.jobsCreated.Add(ctx, 1, metric.WithAttributes(schemaAttr(schemaID)))
}

// RecordCompleted counts a terminal attempt and records its wall time.
func (m *Metrics) RecordCompleted(ctx context.Context, state constants.JobState, code constants.ErrorCode, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("job.state", string(state)),
		attribute.String("job.error_code", string(code)),
	)
	m.jobsCompleted.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordRetry counts an attempt that was pushed back for retry.
func (m *Metrics) RecordRetry(ctx context.Context, code constants.ErrorCode, attempt int) {
	m.jobsRetried.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job.error_code", string(code)),
		attribute.Int("job.attempt", attempt),
	))
}

// RecordPromoted counts jobs a promotion sweep put back in the queue.
func (m *Metrics) RecordPromoted(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	m.jobsPromoted.Add(ctx, int64(n))
}

// RecordStage records how long one pipeline stage took.
func (m *Metrics) RecordStage(ctx context.Context, stage constants.Stage, duration time.Duration) {
	m.stageDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("job.stage", string(stage))))
}

func schemaAttr(schemaID string) attribute.KeyValue {
	return attribute.String("job.schema_id", schemaID)
}
