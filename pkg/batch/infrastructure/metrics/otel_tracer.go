package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	metrics "github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// InstrumentationName is the scope name of the spans and instruments created by lubatch.
const InstrumentationName = "github.com/jiawu-lu/lubatch"

// OpenTelemetryTracer is a metrics.Tracer over an OpenTelemetry TracerProvider.
// Job spans are roots; step spans are children of the span found in their context.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer from tp. A nil tp uses the global provider.
func NewOpenTelemetryTracer(tp trace.TracerProvider) *OpenTelemetryTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	logger.Infof("Tracing: Initializing OpenTelemetry Tracer.")
	return &OpenTelemetryTracer{tracer: tp.Tracer(InstrumentationName)}
}

// StartJobSpan starts a trace span for job execution.
func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job "+execution.JobName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("batch.job.name", execution.JobName),
			attribute.String("batch.job.execution_id", execution.ID),
			attribute.Int64("batch.job.run_id", execution.RunID),
		))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("batch.status", string(execution.Status)),
			attribute.String("batch.exit_status", string(execution.ExitStatus)),
		)
		endWithStatus(span, execution.Status, execution.Failures.Last())
		span.End()
	}
}

// StartStepSpan starts a trace span for step execution.
func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "step "+execution.StepName,
		trace.WithAttributes(
			attribute.String("batch.step.name", execution.StepName),
			attribute.String("batch.step.execution_id", execution.ID),
		))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("batch.status", string(execution.Status)),
			attribute.Int("batch.step.read_count", execution.ReadCount),
			attribute.Int("batch.step.write_count", execution.WriteCount),
			attribute.Int("batch.step.filter_count", execution.FilterCount),
			attribute.Int("batch.step.skip_count", execution.SkipCount()),
			attribute.Int("batch.step.commit_count", execution.CommitCount),
			attribute.Int("batch.step.rollback_count", execution.RollbackCount),
		)
		endWithStatus(span, execution.Status, execution.Failures.Last())
		span.End()
	}
}

func endWithStatus(span trace.Span, status model.JobStatus, lastFailure string) {
	switch status {
	case model.BatchStatusFailed, model.BatchStatusAbandoned:
		span.SetStatus(codes.Error, lastFailure)
	case model.BatchStatusCompleted:
		span.SetStatus(codes.Ok, "")
	}
}

// RecordError records an error in the current Span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("batch.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current Span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(m map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
