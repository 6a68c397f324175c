package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/infrastructure/metrics"
)

func TestOpenTelemetryTracer_JobAndStepSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := metrics.NewOpenTelemetryTracer(tp)

	je := model.NewJobExecution(model.NewID(), "importUserJob", model.NewJobParameters())
	se := model.NewStepExecution(model.NewID(), je, "step1")

	jobCtx, endJob := tracer.StartJobSpan(context.Background(), je)
	stepCtx, endStep := tracer.StartStepSpan(jobCtx, se)
	tracer.RecordEvent(stepCtx, "chunk_committed", map[string]interface{}{"count": 2, "step": "step1", "other": 1.5})
	tracer.RecordError(stepCtx, "writer", errors.New("disk full"))
	se.MarkAsStarted()
	se.MarkAsFailed(errors.New("disk full"))
	endStep()
	je.MarkAsStarted()
	je.MarkAsCompleted()
	endJob()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	step, job := spans[0], spans[1]

	assert.Equal(t, "step step1", step.Name())
	assert.Equal(t, "job importUserJob", job.Name())
	assert.Equal(t, job.SpanContext().SpanID(), step.Parent().SpanID())
	assert.Equal(t, codes.Error, step.Status().Code)
	assert.Equal(t, codes.Ok, job.Status().Code)

	var names []string
	for _, ev := range step.Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "chunk_committed")
	assert.Contains(t, names, "exception")
}

func TestOpenTelemetryTracer_RecordErrorIgnoresNil(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tracer := metrics.NewOpenTelemetryTracer(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	je := model.NewJobExecution(model.NewID(), "job", model.NewJobParameters())

	ctx, end := tracer.StartJobSpan(context.Background(), je)
	tracer.RecordError(ctx, "reader", nil)
	end()

	require.Len(t, sr.Ended(), 1)
	assert.Empty(t, sr.Ended()[0].Events())
	assert.Equal(t, codes.Unset, sr.Ended()[0].Status().Code)
}

func collectSums(t *testing.T, reader sdkmetric.Reader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return sums
}

func TestOTelRecorder_Instruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := metrics.NewOTelRecorder(mp)
	require.NoError(t, err)

	ctx, je, se := newStepContext("importUserJob", "step1")
	r.RecordJobStart(ctx, je)
	r.RecordStepStart(ctx, se)
	r.RecordItemRead(ctx, "step1")
	r.RecordItemRead(ctx, "step1")
	r.RecordItemProcess(ctx, "step1")
	r.RecordItemWrite(ctx, "step1", 2)
	r.RecordItemSkip(ctx, "step1", "process")
	r.RecordItemRetry(ctx, "step1", "write")
	r.RecordChunkCommit(ctx, "step1", 2)
	r.RecordChunkRollback(ctx, "step1")
	r.RecordDuration(ctx, "chunk", time.Millisecond, map[string]string{"step": "step1"})
	se.MarkAsStarted()
	se.MarkAsCompleted()
	r.RecordStepEnd(ctx, se)
	je.MarkAsStarted()
	je.MarkAsCompleted()
	r.RecordJobEnd(ctx, je)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), sums["batch.job.executions"])
	assert.Equal(t, int64(1), sums["batch.job.duration"])
	assert.Equal(t, int64(2), sums["batch.step.executions"])
	assert.Equal(t, int64(1), sums["batch.step.duration"])
	assert.Equal(t, int64(2), sums["batch.step.items.read"])
	assert.Equal(t, int64(1), sums["batch.step.items.processed"])
	assert.Equal(t, int64(2), sums["batch.step.items.written"])
	assert.Equal(t, int64(1), sums["batch.step.items.skipped"])
	assert.Equal(t, int64(1), sums["batch.step.retries"])
	assert.Equal(t, int64(1), sums["batch.step.chunks.committed"])
	assert.Equal(t, int64(1), sums["batch.step.chunks.rolled_back"])
	assert.Equal(t, int64(1), sums["batch.operation.duration"])
}
