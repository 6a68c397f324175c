package metrics

import (
	"context"
	"sync"
	"time"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	metrics "github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// DefaultAsyncBufferSize is the event queue size used when none is configured.
const DefaultAsyncBufferSize = 100

// MetricEvent represents a metric event to be recorded asynchronously.
type MetricEvent struct {
	Type string
	// Ctx is the caller's context without its cancellation, so that values such as
	// the step execution stay visible to the recorder.
	Ctx           context.Context
	JobExecution  *model.JobExecution
	StepExecution *model.StepExecution
	StepName      string            // For item-level metrics, or the operation name of a duration
	Count         int               // For ItemWrite and ChunkCommit counts
	Reason        string            // For ItemSkip and ItemRetry phases
	Duration      time.Duration     // For duration metrics
	Tags          map[string]string // For duration metric tags
}

// Metric event type constants
const (
	MetricEventTypeJobStart       = "job_start"
	MetricEventTypeJobEnd         = "job_end"
	MetricEventTypeStepStart      = "step_start"
	MetricEventTypeStepEnd        = "step_end"
	MetricEventTypeItemRead       = "item_read"
	MetricEventTypeItemProcess    = "item_process"
	MetricEventTypeItemWrite      = "item_write"
	MetricEventTypeItemSkip       = "item_skip"
	MetricEventTypeItemRetry      = "item_retry"
	MetricEventTypeChunkCommit    = "chunk_commit"
	MetricEventTypeChunkRollback  = "chunk_rollback"
	MetricEventTypeRecordDuration = "record_duration"
)

// AsyncMetricRecorder asynchronously records metrics by pushing events to a channel
// and processing them in a separate goroutine. Events are dropped when the queue is full.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder creates a new asynchronous metric recorder.
// bufferSize: The buffer size for the event queue. If 0 or less, DefaultAsyncBufferSize is used.
// syncRec: The synchronous recorder that performs the actual metric recording.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = DefaultAsyncBufferSize
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			// Drain what is still queued before exiting.
			remaining := 0
			for {
				select {
				case event := <-r.eventQueue:
					r.processEvent(event)
					remaining++
				default:
					logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
					return
				}
			}
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := event.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	switch event.Type {
	case MetricEventTypeJobStart:
		r.syncRecorder.RecordJobStart(ctx, event.JobExecution)
	case MetricEventTypeJobEnd:
		r.syncRecorder.RecordJobEnd(ctx, event.JobExecution)
	case MetricEventTypeStepStart:
		r.syncRecorder.RecordStepStart(ctx, event.StepExecution)
	case MetricEventTypeStepEnd:
		r.syncRecorder.RecordStepEnd(ctx, event.StepExecution)
	case MetricEventTypeItemRead:
		r.syncRecorder.RecordItemRead(ctx, event.StepName)
	case MetricEventTypeItemProcess:
		r.syncRecorder.RecordItemProcess(ctx, event.StepName)
	case MetricEventTypeItemWrite:
		r.syncRecorder.RecordItemWrite(ctx, event.StepName, event.Count)
	case MetricEventTypeItemSkip:
		r.syncRecorder.RecordItemSkip(ctx, event.StepName, event.Reason)
	case MetricEventTypeItemRetry:
		r.syncRecorder.RecordItemRetry(ctx, event.StepName, event.Reason)
	case MetricEventTypeChunkCommit:
		r.syncRecorder.RecordChunkCommit(ctx, event.StepName, event.Count)
	case MetricEventTypeChunkRollback:
		r.syncRecorder.RecordChunkRollback(ctx, event.StepName)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.StepName, event.Duration, event.Tags)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close stops the recorder after processing all events still in the queue.
// Events recorded after Close are discarded.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() {
		logger.Debugf("AsyncMetricRecorder: Sending shutdown signal...")
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *AsyncMetricRecorder) sendEvent(ctx context.Context, event MetricEvent, id string) {
	select {
	case <-r.stopCh:
		return
	default:
	}
	event.Ctx = context.WithoutCancel(ctx)
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s, ID: %s). Event discarded.", event.Type, id)
	}
}

// The engine keeps mutating executions after recording them, so the events carry copies.
func snapshotJob(execution *model.JobExecution) *model.JobExecution {
	cp := *execution
	return &cp
}

func snapshotStep(execution *model.StepExecution) *model.StepExecution {
	cp := *execution
	return &cp
}

// RecordJobStart asynchronously records the start event of a JobExecution.
func (r *AsyncMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeJobStart, JobExecution: snapshotJob(execution)}, execution.ID)
}

// RecordJobEnd asynchronously records the end event of a JobExecution.
func (r *AsyncMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeJobEnd, JobExecution: snapshotJob(execution)}, execution.ID)
}

// RecordStepStart asynchronously records the start event of a StepExecution.
func (r *AsyncMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeStepStart, StepExecution: snapshotStep(execution)}, execution.ID)
}

// RecordStepEnd asynchronously records the end event of a StepExecution.
func (r *AsyncMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeStepEnd, StepExecution: snapshotStep(execution)}, execution.ID)
}

// RecordItemRead asynchronously records the successful item read event.
func (r *AsyncMetricRecorder) RecordItemRead(ctx context.Context, stepName string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemRead, StepName: stepName}, stepName)
}

// RecordItemProcess asynchronously records the successful item process event.
func (r *AsyncMetricRecorder) RecordItemProcess(ctx context.Context, stepName string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemProcess, StepName: stepName}, stepName)
}

// RecordItemWrite asynchronously records the successful item write event.
func (r *AsyncMetricRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemWrite, StepName: stepName, Count: count}, stepName)
}

// RecordItemSkip asynchronously records the item skip event.
func (r *AsyncMetricRecorder) RecordItemSkip(ctx context.Context, stepName string, reason string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemSkip, StepName: stepName, Reason: reason}, stepName)
}

// RecordItemRetry asynchronously records the item retry event.
func (r *AsyncMetricRecorder) RecordItemRetry(ctx context.Context, stepName string, reason string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemRetry, StepName: stepName, Reason: reason}, stepName)
}

// RecordChunkCommit asynchronously records the chunk commit event.
func (r *AsyncMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeChunkCommit, StepName: stepName, Count: count}, stepName)
}

// RecordChunkRollback asynchronously records the chunk rollback event.
func (r *AsyncMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeChunkRollback, StepName: stepName}, stepName)
}

// RecordDuration asynchronously records the execution time event of a specific operation.
func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeRecordDuration, StepName: name, Duration: duration, Tags: tags}, name)
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
