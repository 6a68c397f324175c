package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	metrics "github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
)

// OTelRecorder is a metrics.MetricRecorder over an OpenTelemetry MeterProvider.
type OTelRecorder struct {
	jobExecutions  metric.Int64Counter
	jobDuration    metric.Float64Histogram
	stepExecutions metric.Int64Counter
	stepDuration   metric.Float64Histogram
	itemsRead      metric.Int64Counter
	itemsProcessed metric.Int64Counter
	itemsWritten   metric.Int64Counter
	itemsSkipped   metric.Int64Counter
	retries        metric.Int64Counter
	commits        metric.Int64Counter
	rollbacks      metric.Int64Counter
	operations     metric.Float64Histogram
}

// NewOTelRecorder creates the instruments on mp. A nil mp uses the global provider.
func NewOTelRecorder(mp metric.MeterProvider) (*OTelRecorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)

	r := &OTelRecorder{}
	var err error
	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
	}
	histogram := func(dst *metric.Float64Histogram, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	}

	counter(&r.jobExecutions, "batch.job.executions", "Job executions by status.")
	histogram(&r.jobDuration, "batch.job.duration", "Duration of job executions.")
	counter(&r.stepExecutions, "batch.step.executions", "Step executions by status.")
	histogram(&r.stepDuration, "batch.step.duration", "Duration of step executions.")
	counter(&r.itemsRead, "batch.step.items.read", "Items read by step.")
	counter(&r.itemsProcessed, "batch.step.items.processed", "Items processed by step.")
	counter(&r.itemsWritten, "batch.step.items.written", "Items written by step.")
	counter(&r.itemsSkipped, "batch.step.items.skipped", "Items skipped by step and phase.")
	counter(&r.retries, "batch.step.retries", "Retries by step and phase.")
	counter(&r.commits, "batch.step.chunks.committed", "Chunk commits by step.")
	counter(&r.rollbacks, "batch.step.chunks.rolled_back", "Chunk rollbacks by step.")
	histogram(&r.operations, "batch.operation.duration", "Duration of named batch operations.")
	if err != nil {
		return nil, fmt.Errorf("failed to create otel instruments: %w", err)
	}
	return r, nil
}

func stepAttrs(ctx context.Context, stepName string, extra ...attribute.KeyValue) metric.MeasurementOption {
	jobName := ""
	if se := port.GetStepExecutionFromContext(ctx); se != nil {
		jobName = se.JobName()
	}
	attrs := append([]attribute.KeyValue{
		attribute.String("job_name", jobName),
		attribute.String("step_name", stepName),
	}, extra...)
	return metric.WithAttributes(attrs...)
}

// RecordJobStart records the start of a JobExecution.
func (r *OTelRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", string(model.BatchStatusStarted)),
	))
}

// RecordJobEnd records the end of a JobExecution.
func (r *OTelRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	attrs := metric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", string(execution.Status)),
	)
	r.jobExecutions.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

// RecordStepStart records the start of a StepExecution.
func (r *OTelRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", execution.JobName()),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", string(model.BatchStatusStarted)),
	))
}

// RecordStepEnd records the end of a StepExecution.
func (r *OTelRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	attrs := metric.WithAttributes(
		attribute.String("job_name", execution.JobName()),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", string(execution.Status)),
	)
	r.stepExecutions.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

// RecordItemRead records successful item reads.
func (r *OTelRecorder) RecordItemRead(ctx context.Context, stepName string) {
	r.itemsRead.Add(ctx, 1, stepAttrs(ctx, stepName))
}

// RecordItemProcess records successful item processing.
func (r *OTelRecorder) RecordItemProcess(ctx context.Context, stepName string) {
	r.itemsProcessed.Add(ctx, 1, stepAttrs(ctx, stepName))
}

// RecordItemWrite records successful item writes.
func (r *OTelRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemsWritten.Add(ctx, int64(count), stepAttrs(ctx, stepName))
}

// RecordItemSkip records item skips.
func (r *OTelRecorder) RecordItemSkip(ctx context.Context, stepName string, reason string) {
	r.itemsSkipped.Add(ctx, 1, stepAttrs(ctx, stepName, attribute.String("reason", phase(reason))))
}

// RecordItemRetry records item retries.
func (r *OTelRecorder) RecordItemRetry(ctx context.Context, stepName string, reason string) {
	r.retries.Add(ctx, 1, stepAttrs(ctx, stepName, attribute.String("reason", phase(reason))))
}

// RecordChunkCommit records chunk commits.
func (r *OTelRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.commits.Add(ctx, 1, stepAttrs(ctx, stepName))
}

// RecordChunkRollback records chunk rollbacks.
func (r *OTelRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.rollbacks.Add(ctx, 1, stepAttrs(ctx, stepName))
}

// RecordDuration records the execution time of a named operation. tags become attributes.
func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operations.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)
