// Package tracing provides listeners that attach chunk and skip events to the
// span of the running step.
package tracing

import (
	"context"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
)

// TracingChunkListener records chunk outcomes as events on the step span.
// Spans themselves are started by the job and the step.
type TracingChunkListener struct {
	tracer metrics.Tracer
}

// NewTracingChunkListener creates a TracingChunkListener reporting to tracer.
func NewTracingChunkListener(tracer metrics.Tracer) *TracingChunkListener {
	return &TracingChunkListener{tracer: tracer}
}

func (l *TracingChunkListener) BeforeChunk(ctx context.Context, stepExecution *model.StepExecution) {}

func (l *TracingChunkListener) AfterChunk(ctx context.Context, stepExecution *model.StepExecution) {
	l.tracer.RecordEvent(ctx, "chunk.committed", map[string]interface{}{
		"batch.step.name":        stepExecution.StepName,
		"batch.step.offset":      stepExecution.Offset(),
		"batch.step.write_count": stepExecution.WriteCount,
	})
}

func (l *TracingChunkListener) AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	l.tracer.RecordEvent(ctx, "chunk.rolled_back", map[string]interface{}{
		"batch.step.name":   stepExecution.StepName,
		"batch.step.offset": stepExecution.Offset(),
		"error":             err.Error(),
	})
}

var _ port.ChunkListener = (*TracingChunkListener)(nil)

// TracingSkipListener records every skip as an event on the step span.
type TracingSkipListener struct {
	tracer metrics.Tracer
}

func NewTracingSkipListener(tracer metrics.Tracer) *TracingSkipListener {
	return &TracingSkipListener{tracer: tracer}
}

func (l *TracingSkipListener) OnSkipRead(ctx context.Context, record model.RawRecord, err error) {
	l.tracer.RecordEvent(ctx, "item.skipped", map[string]interface{}{
		"batch.skip.phase":  "read",
		"batch.skip.offset": record.Offset,
		"error":             err.Error(),
	})
}

func (l *TracingSkipListener) OnSkipProcess(ctx context.Context, item any, err error) {
	l.tracer.RecordEvent(ctx, "item.skipped", map[string]interface{}{
		"batch.skip.phase": "process",
		"error":            err.Error(),
	})
}

func (l *TracingSkipListener) OnSkipWrite(ctx context.Context, item any, err error) {
	l.tracer.RecordEvent(ctx, "item.skipped", map[string]interface{}{
		"batch.skip.phase": "write",
		"error":            err.Error(),
	})
}

var _ port.SkipListener = (*TracingSkipListener)(nil)
