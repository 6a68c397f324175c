package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
	"github.com/jiawu-lu/lubatch/pkg/batch/listener/tracing"
)

type recordedEvent struct {
	name  string
	attrs map[string]interface{}
}

type eventTracer struct {
	metrics.NoOpTracer
	events []recordedEvent
}

func (t *eventTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	t.events = append(t.events, recordedEvent{name: name, attrs: attributes})
}

func TestTracingChunkListener(t *testing.T) {
	tracer := &eventTracer{}
	l := tracing.NewTracingChunkListener(tracer)
	se := model.NewStepExecution(model.NewID(), nil, "step1")
	se.ExecutionContext.Put(model.ChunkOffsetKey, int64(10))
	se.WriteCount = 10

	l.BeforeChunk(context.Background(), se)
	l.AfterChunk(context.Background(), se)
	l.AfterChunkError(context.Background(), se, errors.New("deadlock"))

	if assert.Len(t, tracer.events, 2) {
		assert.Equal(t, "chunk.committed", tracer.events[0].name)
		assert.Equal(t, int64(10), tracer.events[0].attrs["batch.step.offset"])
		assert.Equal(t, 10, tracer.events[0].attrs["batch.step.write_count"])
		assert.Equal(t, "chunk.rolled_back", tracer.events[1].name)
		assert.Equal(t, "deadlock", tracer.events[1].attrs["error"])
	}
}

func TestTracingSkipListener(t *testing.T) {
	tracer := &eventTracer{}
	l := tracing.NewTracingSkipListener(tracer)

	l.OnSkipRead(context.Background(), model.RawRecord{Offset: 3, Line: "x"}, errors.New("bad line"))
	l.OnSkipProcess(context.Background(), "item", errors.New("bad item"))
	l.OnSkipWrite(context.Background(), "item", errors.New("bad write"))

	if assert.Len(t, tracer.events, 3) {
		assert.Equal(t, "read", tracer.events[0].attrs["batch.skip.phase"])
		assert.Equal(t, int64(3), tracer.events[0].attrs["batch.skip.offset"])
		assert.Equal(t, "process", tracer.events[1].attrs["batch.skip.phase"])
		assert.Equal(t, "write", tracer.events[2].attrs["batch.skip.phase"])
	}
}
