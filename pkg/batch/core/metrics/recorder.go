// Package metrics defines the recording and tracing abstractions used by the engine.
// Backends live in infrastructure/metrics.
package metrics

import (
	"context"
	"time"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
)

// MetricRecorder records metrics of job, step, item and chunk events.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)

	// RecordJobEnd records the end of a JobExecution with its final status.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)

	// RecordStepStart records the start of a StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)

	// RecordStepEnd records the end of a StepExecution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordItemRead records one record read from the source and mapped.
	RecordItemRead(ctx context.Context, stepName string)

	// RecordItemProcess records one item processed.
	RecordItemProcess(ctx context.Context, stepName string)

	// RecordItemWrite records count items written.
	RecordItemWrite(ctx context.Context, stepName string, count int)

	// RecordItemSkip records a skipped record.
	// reason is the phase of the skip ("read", "process" or "write").
	RecordItemSkip(ctx context.Context, stepName string, reason string)

	// RecordItemRetry records a retried operation.
	RecordItemRetry(ctx context.Context, stepName string, reason string)

	// RecordChunkCommit records a committed chunk of count items.
	RecordChunkCommit(ctx context.Context, stepName string, count int)

	// RecordChunkRollback records a rolled back chunk.
	RecordChunkRollback(ctx context.Context, stepName string)

	// RecordDuration records the execution time of a named operation.
	//
	// tags are attached as labels or attributes, e.g. `{"step": "step1", "status": "COMPLETED"}`.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
