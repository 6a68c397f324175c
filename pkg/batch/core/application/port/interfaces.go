// Package port defines the core interfaces (ports) for the batch application.
// These interfaces abstract the application's capabilities and dependencies,
// allowing for flexible implementation and testing.
package port

import (
	"context"
	"database/sql"
	"errors"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	metrics "github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
)

// ErrEndOfData is returned by RecordSource.Next once the source is exhausted.
var ErrEndOfData = errors.New("end of data")

// FlowElement is the basic interface representing an element (Step or Split) in a job flow.
type FlowElement interface {
	// ID returns the unique identifier of the flow element.
	ID() string
}

// JobRunner drives a Job for one JobExecution and persists the final state of the execution.
type JobRunner interface {
	// Run moves jobExecution to STARTED, runs job, and records the terminal status.
	// The returned error is the job's failure cause, if any.
	Run(ctx context.Context, job Job, jobExecution *model.JobExecution) error
}

// Job is the interface for an executable batch job.
type Job interface {
	// Run executes the entire job flow.
	//
	// Parameters:
	//   ctx: The context for the operation. Cancelling it requests a stop at the next chunk boundary.
	//   jobExecution: The current JobExecution instance.
	//   jobParameters: The job parameters for the execution.
	//
	// Returns:
	//   error: An error if the job execution fails.
	Run(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) error
	// JobName returns the logical name of the job.
	JobName() string
	// ID returns the unique ID of the job definition.
	ID() string
	// ValidateParameters validates job parameters before job execution.
	ValidateParameters(params model.JobParameters) error
	// Incrementer returns the JobParametersIncrementer applied on launch, or nil.
	Incrementer() JobParametersIncrementer
}

// StoppableJob is implemented by jobs that record a stop request on their running execution.
type StoppableJob interface {
	Job
	// RequestStop moves the running jobExecution to STOPPING and persists it.
	RequestStop(ctx context.Context, jobExecution *model.JobExecution) error
}

// Step is the interface for a single step executed within a job.
type Step interface {
	// Execute executes the business logic of the step.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   jobExecution: The current JobExecution instance.
	//   stepExecution: The current StepExecution instance.
	//
	// Returns:
	//   error: An error if the step execution encounters a fatal issue or exceeds retry/skip limits.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
	// StepName returns the logical name of the step.
	StepName() string
	// ID returns the unique ID of the step definition.
	ID() string
	// GetTransactionOptions returns the transaction options (e.g., isolation level) for this step.
	GetTransactionOptions() *sql.TxOptions

	// SetMetricRecorder sets the MetricRecorder.
	SetMetricRecorder(recorder metrics.MetricRecorder)
	// SetTracer sets the Tracer.
	SetTracer(tracer metrics.Tracer)
}

// Split is the interface for a flow element that executes multiple steps in parallel.
type Split interface {
	// Steps returns a list of Steps to be executed in parallel.
	Steps() []Step
	// ID returns the unique ID of the Split definition.
	ID() string
}

// JobParametersIncrementer derives the parameters of the next run from the previous one.
type JobParametersIncrementer interface {
	// GetNext generates the next JobParameters based on the parameters of the latest instance.
	// params is empty when the job has never run.
	GetNext(params model.JobParameters) model.JobParameters
}

// RecordSource produces raw records from an underlying resource.
type RecordSource interface {
	// Open positions the source so that the next record returned has the given offset.
	// Open may be called again after Close to restart from a checkpoint.
	Open(ctx context.Context, offset int64) error
	// Next returns the next record, or ErrEndOfData once the source is exhausted.
	Next(ctx context.Context) (model.RawRecord, error)
	// Close releases the underlying resource.
	Close(ctx context.Context) error
}

// RecordMapper converts a raw record into a typed item.
type RecordMapper interface {
	// Map returns the item for record. Malformed input is reported with a MappingError.
	Map(ctx context.Context, record model.RawRecord) (any, error)
}

// ItemProcessor transforms one item. A nil result filters the item out; a typed nil
// pointer such as (*Person)(nil) counts as nil.
type ItemProcessor interface {
	Process(ctx context.Context, item any) (any, error)
}

// ItemWriter persists a chunk of items.
type ItemWriter interface {
	// Write persists items inside t. It must not commit or roll back t.
	//
	// Parameters:
	//   ctx: The context for the operation. It carries t and the current chunk.
	//   t: The chunk transaction.
	//   items: The items of the chunk, in source order.
	//
	// Returns:
	//   error: A WriteError if writing fails.
	Write(ctx context.Context, t tx.Tx, items []any) error
}

// ItemStream is implemented by readers and writers that hold resources across chunks.
type ItemStream interface {
	// Open acquires resources. ec is the step ExecutionContext restored on restart.
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Close releases resources.
	Close(ctx context.Context) error
}

// RetryItemListener is an interface for handling item-level retry events.
type RetryItemListener interface {
	// OnRetryProcess is called before an item process is retried.
	OnRetryProcess(ctx context.Context, item any, err error)
	// OnRetryWrite is called before a chunk write is retried.
	OnRetryWrite(ctx context.Context, items []any, err error)
}

// SkipListener is an interface for handling item skip events.
type SkipListener interface {
	// OnSkipRead is called after a record is skipped because it could not be mapped.
	OnSkipRead(ctx context.Context, record model.RawRecord, err error)
	// OnSkipProcess is called after an item is skipped during processing.
	OnSkipProcess(ctx context.Context, item any, err error)
	// OnSkipWrite is called after an item is skipped during writing.
	OnSkipWrite(ctx context.Context, item any, err error)
}

// StepExecutionListener is an interface for handling step execution events.
type StepExecutionListener interface {
	// BeforeStep is called just before a step execution starts.
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	// AfterStep is called after a step execution completes (regardless of success or failure).
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// ChunkListener is an interface for handling chunk processing events.
type ChunkListener interface {
	// BeforeChunk is called just before a chunk transaction begins.
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunk is called after the chunk transaction has committed.
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunkError is called after the chunk transaction has rolled back.
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// JobExecutionListener is an interface for handling job execution events.
type JobExecutionListener interface {
	// BeforeJob is called just before the first step runs.
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	// AfterJob is called after the last step, on success or failure, with the final snapshot.
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

type contextKey string

const (
	stepExecutionKey contextKey = "stepExecution"
	chunkKey         contextKey = "chunk"
)

// GetContextWithStepExecution stores a StepExecution in the Context.
func GetContextWithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, stepExecutionKey, se)
}

// GetStepExecutionFromContext retrieves a StepExecution from the Context. Returns nil if not found.
func GetStepExecutionFromContext(ctx context.Context) *model.StepExecution {
	if se, ok := ctx.Value(stepExecutionKey).(*model.StepExecution); ok {
		return se
	}
	return nil
}

// GetContextWithChunk stores the chunk being written in the Context.
func GetContextWithChunk(ctx context.Context, c *model.Chunk) context.Context {
	return context.WithValue(ctx, chunkKey, c)
}

// GetChunkFromContext retrieves the chunk being written. Returns nil outside a write.
func GetChunkFromContext(ctx context.Context) *model.Chunk {
	if c, ok := ctx.Value(chunkKey).(*model.Chunk); ok {
		return c
	}
	return nil
}
