package item

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	repository "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	metrics "github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/engine/step/retry"
	"github.com/jiawu-lu/lubatch/pkg/batch/engine/step/skip"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// ChunkStepConfig holds the collaborators and settings of a ChunkStep.
type ChunkStepConfig struct {
	Source    port.RecordSource
	Mapper    port.RecordMapper
	Processor port.ItemProcessor // optional; items pass through unchanged when nil
	Writer    port.ItemWriter

	ChunkSize int
	Skip      skip.Config
	Retry     retry.Config
	// IsolationLevel is one of READ_UNCOMMITTED, READ_COMMITTED, REPEATABLE_READ, SERIALIZABLE.
	IsolationLevel string

	JobRepository repository.JobRepository
	TxManager     tx.TransactionManager

	StepExecutionListeners []port.StepExecutionListener
	ChunkListeners         []port.ChunkListener
	SkipListeners          []port.SkipListener
	RetryItemListeners     []port.RetryItemListener

	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
}

// ChunkStep is an implementation of port.Step for chunk-oriented processing.
//
// Records are read and mapped one at a time, processed, and gathered until ChunkSize
// items are accumulated or the source ends. The chunk is then written and the step's
// checkpoint saved inside one transaction. A stop requested through the context is
// honoured between chunks only.
type ChunkStep struct {
	id        string
	source    port.RecordSource
	mapper    port.RecordMapper
	processor port.ItemProcessor
	writer    port.ItemWriter
	chunkSize int

	skipConfig  skip.Config
	retryConfig retry.Config

	jobRepository  repository.JobRepository
	txManager      tx.TransactionManager
	isolationLevel sql.IsolationLevel

	stepExecutionListeners []port.StepExecutionListener
	chunkListeners         []port.ChunkListener
	skipListeners          []port.SkipListener
	retryItemListeners     []port.RetryItemListener

	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

var _ port.Step = (*ChunkStep)(nil)

// NewChunkStep creates a ChunkStep named name.
//
// Parameters:
//
//	name: The step name, used for StepExecutions, logs and metrics.
//	cfg: The collaborators and chunk settings. Processor and the policies are optional.
//
// Returns:
//   - *ChunkStep: The configured step.
//   - error: A ConfigurationError when a required collaborator is missing or a setting is invalid.
func NewChunkStep(name string, cfg ChunkStepConfig) (*ChunkStep, error) {
	switch {
	case name == "":
		return nil, exception.NewConfigurationError("chunk step requires a name", nil)
	case cfg.ChunkSize < 1:
		return nil, exception.NewConfigurationError(fmt.Sprintf("step '%s': chunk size must be at least 1, got %d", name, cfg.ChunkSize), nil)
	case cfg.Source == nil || cfg.Mapper == nil || cfg.Writer == nil:
		return nil, exception.NewConfigurationError(fmt.Sprintf("step '%s': source, mapper and writer are required", name), nil)
	case cfg.JobRepository == nil || cfg.TxManager == nil:
		return nil, exception.NewConfigurationError(fmt.Sprintf("step '%s': job repository and transaction manager are required", name), nil)
	}
	// Validate the policy settings once up front; Execute builds fresh policies per run.
	if _, err := skip.NewDefaultSkipPolicyFactory().Create(cfg.Skip); err != nil {
		return nil, err
	}
	if _, err := retry.NewDefaultRetryPolicyFactory().Create(cfg.Retry); err != nil {
		return nil, err
	}
	isolation, err := parseIsolationLevel(cfg.IsolationLevel)
	if err != nil {
		return nil, exception.NewConfigurationError(fmt.Sprintf("step '%s'", name), err)
	}

	s := &ChunkStep{
		id:                     name,
		source:                 cfg.Source,
		mapper:                 cfg.Mapper,
		processor:              cfg.Processor,
		writer:                 cfg.Writer,
		chunkSize:              cfg.ChunkSize,
		skipConfig:             cfg.Skip,
		retryConfig:            cfg.Retry,
		jobRepository:          cfg.JobRepository,
		txManager:              cfg.TxManager,
		isolationLevel:         isolation,
		stepExecutionListeners: cfg.StepExecutionListeners,
		chunkListeners:         cfg.ChunkListeners,
		skipListeners:          cfg.SkipListeners,
		retryItemListeners:     cfg.RetryItemListeners,
		metricRecorder:         cfg.MetricRecorder,
		tracer:                 cfg.Tracer,
	}
	if s.metricRecorder == nil {
		s.metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if s.tracer == nil {
		s.tracer = metrics.NewNoOpTracer()
	}
	// Writers that publish per chunk hook into the chunk lifecycle themselves.
	if l, ok := cfg.Writer.(port.ChunkListener); ok {
		s.chunkListeners = append(s.chunkListeners, l)
	}
	return s, nil
}

// parseIsolationLevel converts a configured isolation level name to sql.IsolationLevel.
func parseIsolationLevel(level string) (sql.IsolationLevel, error) {
	switch level {
	case "", "DEFAULT":
		return sql.LevelDefault, nil
	case "READ_UNCOMMITTED":
		return sql.LevelReadUncommitted, nil
	case "READ_COMMITTED":
		return sql.LevelReadCommitted, nil
	case "REPEATABLE_READ":
		return sql.LevelRepeatableRead, nil
	case "SERIALIZABLE":
		return sql.LevelSerializable, nil
	default:
		return sql.LevelDefault, fmt.Errorf("unknown isolation level '%s'", level)
	}
}

// ID returns the step ID.
func (s *ChunkStep) ID() string {
	return s.id
}

// StepName returns the step name.
func (s *ChunkStep) StepName() string {
	return s.id
}

// ChunkSize returns the number of items written per transaction.
func (s *ChunkStep) ChunkSize() int {
	return s.chunkSize
}

// GetTransactionOptions returns the transaction options for this step.
func (s *ChunkStep) GetTransactionOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: s.isolationLevel}
}

// SetMetricRecorder implements port.Step.
func (s *ChunkStep) SetMetricRecorder(recorder metrics.MetricRecorder) {
	s.metricRecorder = recorder
}

// SetTracer implements port.Step.
func (s *ChunkStep) SetTracer(tracer metrics.Tracer) {
	s.tracer = tracer
}

// execution is the mutable state of one Execute call.
type execution struct {
	se          *model.StepExecution
	skipPolicy  skip.SkipPolicy
	retryPolicy retry.RetryPolicy
}

// Execute runs the chunk loop for stepExecution.
//
// A restarted StepExecution resumes reading at the offset stored in its ExecutionContext.
// The returned error is the fatal cause when the step ends FAILED. A STOPPED step returns nil.
func (s *ChunkStep) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	ctx, finishSpan := s.tracer.StartStepSpan(ctx, stepExecution)
	defer finishSpan()

	// Bookkeeping after the loop must survive a stop request.
	persistCtx := context.WithoutCancel(ctx)

	skipPolicy, err := skip.NewDefaultSkipPolicyFactory().Create(s.skipConfig)
	if err != nil {
		return s.fail(persistCtx, stepExecution, err)
	}
	retryPolicy, err := retry.NewDefaultRetryPolicyFactory().Create(s.retryConfig)
	if err != nil {
		return s.fail(persistCtx, stepExecution, err)
	}
	exec := &execution{se: stepExecution, skipPolicy: skipPolicy, retryPolicy: retryPolicy}

	stepExecution.MarkAsStarted()
	s.metricRecorder.RecordStepStart(ctx, stepExecution)
	for _, l := range s.stepExecutionListeners {
		l.BeforeStep(ctx, stepExecution)
	}
	if err := s.jobRepository.UpdateStepExecution(persistCtx, stepExecution); err != nil {
		return s.finish(persistCtx, stepExecution, exception.NewBatchError(s.id, "Failed to update StepExecution status to STARTED", err, false, false), false)
	}

	offset := stepExecution.Offset()
	if offset > 0 {
		logger.Infof("ChunkStep '%s': resuming at offset %d after %d committed chunks.", s.id, offset, stepExecution.ChunkCount())
	} else {
		logger.Infof("ChunkStep '%s' executing.", s.id)
	}

	if err := s.open(ctx, stepExecution, offset); err != nil {
		return s.finish(persistCtx, stepExecution, err, false)
	}

	stopped, runErr := s.loop(ctx, exec, offset)

	if closeErr := s.close(persistCtx); closeErr != nil {
		logger.Warnf("ChunkStep '%s': %v", s.id, closeErr)
		if runErr == nil {
			runErr = closeErr
		}
	}
	return s.finish(persistCtx, stepExecution, runErr, stopped)
}

// loop runs chunks until the source ends, a fatal error occurs or a stop is requested.
func (s *ChunkStep) loop(ctx context.Context, exec *execution, offset int64) (stopped bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			logger.Warnf("ChunkStep '%s': stop requested, stopping at offset %d: %v", s.id, offset, err)
			return true, nil
		}

		// An in-flight chunk always runs to commit or rollback.
		chunkCtx := context.WithoutCancel(ctx)

		chunk, eof, err := s.readChunk(chunkCtx, exec, offset)
		if err != nil {
			s.notifyAfterChunkError(chunkCtx, exec.se, err)
			return false, err
		}
		if !chunk.Consumed() {
			return false, nil
		}

		if err := s.writeChunk(chunkCtx, exec, chunk); err != nil {
			return false, err
		}
		offset = chunk.End

		if eof {
			logger.Debugf("ChunkStep '%s': reached end of data at offset %d.", s.id, offset)
			return false, nil
		}
	}
}

// readChunk reads, maps and processes records starting at offset until the chunk is full
// or the source ends. It reports whether the source was exhausted.
func (s *ChunkStep) readChunk(ctx context.Context, exec *execution, offset int64) (*model.Chunk, bool, error) {
	se := exec.se
	chunk := model.NewChunk(offset, s.chunkSize)

	for chunk.Len() < s.chunkSize {
		record, err := s.source.Next(ctx)
		if errors.Is(err, port.ErrEndOfData) {
			return chunk, true, nil
		}
		if err != nil {
			return chunk, false, exception.NewBatchError(s.id, fmt.Sprintf("Failed to read record at offset %d", chunk.End), err, false, false)
		}
		chunk.Advance(record.Offset)

		item, err := s.mapper.Map(ctx, record)
		if err != nil {
			if !exception.IsBatchError(err) {
				err = exception.NewMappingError(record.Offset, record.Line, err)
			}
			if fatal := s.skip(ctx, exec, "read", err); fatal != nil {
				return chunk, false, fatal
			}
			se.ReadSkipCount++
			logger.Warnf("ChunkStep '%s': skipped record at offset %d (skips %d/%d): %v", s.id, record.Offset, exec.skipPolicy.GetSkipCount(), exec.skipPolicy.GetSkipLimit(), err)
			for _, l := range s.skipListeners {
				l.OnSkipRead(ctx, record, err)
			}
			continue
		}
		se.ReadCount++
		s.metricRecorder.RecordItemRead(ctx, s.id)

		processed, err := s.process(ctx, exec, item)
		if err != nil {
			if fatal := s.skip(ctx, exec, "process", err); fatal != nil {
				return chunk, false, fatal
			}
			se.ProcessSkipCount++
			logger.Warnf("ChunkStep '%s': skipped item at offset %d in processing (skips %d/%d): %v", s.id, record.Offset, exec.skipPolicy.GetSkipCount(), exec.skipPolicy.GetSkipLimit(), err)
			for _, l := range s.skipListeners {
				l.OnSkipProcess(ctx, item, err)
			}
			continue
		}
		if filtered(processed) {
			se.FilterCount++
			continue
		}
		s.metricRecorder.RecordItemProcess(ctx, s.id)
		chunk.Add(processed, record.Offset)
	}
	return chunk, false, nil
}

// filtered reports whether a processor result drops the item: a nil interface or a nil
// pointer, map, slice or func wrapped in one.
func filtered(item any) bool {
	if item == nil {
		return true
	}
	switch v := reflect.ValueOf(item); v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}

// process applies the processor, retrying transient failures.
func (s *ChunkStep) process(ctx context.Context, exec *execution, item any) (any, error) {
	if s.processor == nil {
		return item, nil
	}
	var out any
	err := retry.Do(ctx, exec.retryPolicy, func() error {
		var err error
		out, err = s.processor.Process(ctx, item)
		if err != nil && !exception.IsBatchError(err) {
			err = exception.NewProcessingError(item, err, false)
		}
		return err
	}, func(attempt int, err error) {
		logger.Warnf("ChunkStep '%s': item process failed (attempt %d/%d), retrying: %v", s.id, attempt, exec.retryPolicy.GetMaxAttempts(), err)
		s.metricRecorder.RecordItemRetry(ctx, s.id, "process")
		for _, l := range s.retryItemListeners {
			l.OnRetryProcess(ctx, item, err)
		}
	})
	return out, err
}

// skip consumes a skip for err. It returns the fatal error when err may not be skipped.
func (s *ChunkStep) skip(ctx context.Context, exec *execution, phase string, err error) error {
	if !exec.skipPolicy.ShouldSkip(err) {
		return err
	}
	if fatal := exec.skipPolicy.Skip(err); fatal != nil {
		return fatal
	}
	s.tracer.RecordError(ctx, s.id, err)
	s.metricRecorder.RecordItemSkip(ctx, s.id, phase)
	return nil
}

// writeChunk commits chunk, retrying transient failures. When the write fails with a
// skippable error the chunk is scanned item by item instead.
func (s *ChunkStep) writeChunk(ctx context.Context, exec *execution, chunk *model.Chunk) error {
	err := s.commitWithRetry(ctx, exec, chunk)
	if err == nil || !exec.skipPolicy.ShouldSkip(err) || chunk.Len() == 0 {
		return err
	}
	logger.Warnf("ChunkStep '%s': chunk [%d, %d) failed with a skippable error, writing items one by one: %v", s.id, chunk.Start, chunk.End, err)
	return s.scan(ctx, exec, chunk)
}

func (s *ChunkStep) commitWithRetry(ctx context.Context, exec *execution, chunk *model.Chunk) error {
	return retry.Do(ctx, exec.retryPolicy, func() error {
		return s.commitChunk(ctx, exec.se, chunk)
	}, func(attempt int, err error) {
		logger.Warnf("ChunkStep '%s': chunk write failed (attempt %d/%d), retrying: %v", s.id, attempt, exec.retryPolicy.GetMaxAttempts(), err)
		s.metricRecorder.RecordItemRetry(ctx, s.id, "write")
		for _, l := range s.retryItemListeners {
			l.OnRetryWrite(ctx, chunk.Items, err)
		}
	})
}

// scan re-drives a failed chunk as single-item chunks, each in its own transaction,
// skipping the items whose write fails. The committed ranges stay contiguous: a skipped
// item's range is folded into the next committed one.
func (s *ChunkStep) scan(ctx context.Context, exec *execution, chunk *model.Chunk) error {
	start := chunk.Start
	for i, item := range chunk.Items {
		end := chunk.Offsets[i] + 1
		if i == len(chunk.Items)-1 {
			end = chunk.End
		}
		single := &model.Chunk{Items: []any{item}, Offsets: []int64{chunk.Offsets[i]}, Start: start, End: end}

		err := s.commitWithRetry(ctx, exec, single)
		if err == nil {
			start = end
			continue
		}
		if fatal := s.skip(ctx, exec, "write", err); fatal != nil {
			return fatal
		}
		exec.se.WriteSkipCount++
		logger.Warnf("ChunkStep '%s': skipped item at offset %d in writing (skips %d/%d): %v", s.id, chunk.Offsets[i], exec.skipPolicy.GetSkipCount(), exec.skipPolicy.GetSkipLimit(), err)
		for _, l := range s.skipListeners {
			l.OnSkipWrite(ctx, item, err)
		}
	}
	if start < chunk.End {
		// Trailing items were skipped; commit the offset advance on its own.
		return s.commitWithRetry(ctx, exec, &model.Chunk{Start: start, End: chunk.End})
	}
	return nil
}

// checkpoint is the part of a StepExecution that a chunk transaction changes.
type checkpoint struct {
	writeCount  int
	commitCount int
	version     int
	lastUpdated time.Time
	ec          model.ExecutionContext
}

func takeCheckpoint(se *model.StepExecution) checkpoint {
	return checkpoint{
		writeCount:  se.WriteCount,
		commitCount: se.CommitCount,
		version:     se.Version,
		lastUpdated: se.LastUpdated,
		ec:          se.ExecutionContext.Copy(),
	}
}

func (c checkpoint) restore(se *model.StepExecution) {
	se.WriteCount = c.writeCount
	se.CommitCount = c.commitCount
	se.Version = c.version
	se.LastUpdated = c.lastUpdated
	se.ExecutionContext = c.ec
}

// commitChunk writes chunk and saves the advanced checkpoint in one transaction.
// On failure the transaction is rolled back and stepExecution is left at its previous checkpoint.
func (s *ChunkStep) commitChunk(ctx context.Context, se *model.StepExecution, chunk *model.Chunk) error {
	t, err := s.txManager.Begin(ctx, s.GetTransactionOptions())
	if err != nil {
		return exception.NewBatchError(s.id, "Failed to begin transaction for chunk", err, false, exception.IsTemporary(err))
	}
	txCtx := port.GetContextWithChunk(tx.WithTx(ctx, t), chunk)

	for _, l := range s.chunkListeners {
		l.BeforeChunk(txCtx, se)
	}

	before := takeCheckpoint(se)
	err = s.writeAndCheckpoint(txCtx, t, se, chunk)
	if err == nil {
		if commitErr := s.txManager.Commit(t); commitErr != nil {
			before.restore(se)
			se.RollbackCount++
			err = exception.NewBatchError(s.id, "Failed to commit transaction for chunk", commitErr, false, exception.IsTemporary(commitErr))
			s.metricRecorder.RecordChunkRollback(ctx, s.id)
			s.notifyAfterChunkError(ctx, se, err)
			return err
		}
		s.metricRecorder.RecordItemWrite(ctx, s.id, chunk.Len())
		s.metricRecorder.RecordChunkCommit(ctx, s.id, chunk.Len())
		logger.Debugf("ChunkStep '%s': committed chunk [%d, %d) with %d items.", s.id, chunk.Start, chunk.End, chunk.Len())
		// The transaction is finished; listeners that persist must not join it.
		afterCtx := port.GetContextWithChunk(ctx, chunk)
		for _, l := range s.chunkListeners {
			l.AfterChunk(afterCtx, se)
		}
		return nil
	}

	before.restore(se)
	if rbErr := s.txManager.Rollback(t); rbErr != nil {
		logger.Errorf("ChunkStep '%s': failed to roll back chunk [%d, %d): %v", s.id, chunk.Start, chunk.End, rbErr)
	}
	se.RollbackCount++
	s.metricRecorder.RecordChunkRollback(ctx, s.id)
	s.tracer.RecordError(ctx, s.id, err)
	s.notifyAfterChunkError(ctx, se, err)
	return err
}

func (s *ChunkStep) writeAndCheckpoint(ctx context.Context, t tx.Tx, se *model.StepExecution, chunk *model.Chunk) error {
	if chunk.Len() > 0 {
		if err := s.writer.Write(ctx, t, chunk.Items); err != nil {
			if !exception.IsBatchError(err) {
				err = exception.NewWriteError(chunk.Len(), err)
			}
			return err
		}
	}
	se.WriteCount += chunk.Len()
	se.CommitCount++
	se.ExecutionContext.Put(model.ChunkOffsetKey, chunk.End)
	se.ExecutionContext.Put(model.ChunkCountKey, se.ChunkCount()+1)
	if err := s.jobRepository.UpdateStepExecution(ctx, se); err != nil {
		return exception.NewBatchError(s.id, "Failed to save checkpoint", err, false, exception.IsTemporary(err))
	}
	return nil
}

func (s *ChunkStep) notifyAfterChunkError(ctx context.Context, se *model.StepExecution, err error) {
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, se, err)
	}
}

func (s *ChunkStep) open(ctx context.Context, se *model.StepExecution, offset int64) error {
	if err := s.source.Open(ctx, offset); err != nil {
		return exception.NewBatchError(s.id, fmt.Sprintf("Failed to open record source at offset %d", offset), err, false, false)
	}
	if stream, ok := s.writer.(port.ItemStream); ok {
		if err := stream.Open(ctx, se.ExecutionContext); err != nil {
			if closeErr := s.source.Close(ctx); closeErr != nil {
				logger.Warnf("ChunkStep '%s': failed to close record source: %v", s.id, closeErr)
			}
			return exception.NewBatchError(s.id, "Failed to open item writer", err, false, false)
		}
	}
	return nil
}

func (s *ChunkStep) close(ctx context.Context) error {
	var result *multierror.Error
	if err := s.source.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close record source: %w", err))
	}
	if stream, ok := s.writer.(port.ItemStream); ok {
		if err := stream.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close item writer: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func (s *ChunkStep) fail(ctx context.Context, se *model.StepExecution, err error) error {
	return s.finish(ctx, se, err, false)
}

// finish records the terminal status of the step and persists it.
func (s *ChunkStep) finish(ctx context.Context, se *model.StepExecution, runErr error, stopped bool) error {
	switch {
	case runErr != nil:
		s.tracer.RecordError(ctx, s.id, runErr)
		se.MarkAsFailed(runErr)
		logger.Errorf("ChunkStep '%s' failed at offset %d: %v", s.id, se.Offset(), runErr)
	case stopped:
		se.MarkAsStopped()
	default:
		se.MarkAsCompleted()
	}

	for _, l := range s.stepExecutionListeners {
		l.AfterStep(ctx, se)
	}
	s.metricRecorder.RecordStepEnd(ctx, se)

	if err := s.jobRepository.UpdateStepExecution(ctx, se); err != nil {
		logger.Errorf("ChunkStep '%s': failed to update final StepExecution state: %v", s.id, err)
		if runErr == nil {
			runErr = exception.NewBatchError(s.id, "Failed to update final StepExecution state", err, false, false)
		}
	}
	logger.Infof("ChunkStep '%s' finished. Status: %s, read=%d, written=%d, filtered=%d, skipped=%d, commits=%d, rollbacks=%d",
		s.id, se.Status, se.ReadCount, se.WriteCount, se.FilterCount, se.SkipCount(), se.CommitCount, se.RollbackCount)
	return runErr
}
