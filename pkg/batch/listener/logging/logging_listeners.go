// Package logging provides listeners that log job, step, chunk, skip and retry events.
package logging

import (
	"context"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// --- Job Execution Listener ---

// LoggingJobListener logs job start and end at INFO, with masked parameters.
type LoggingJobListener struct {
	maskedKeys []string
}

// NewLoggingJobListener creates a job listener. Parameter values under maskedKeys are masked in the log.
func NewLoggingJobListener(maskedKeys []string) *LoggingJobListener {
	return &LoggingJobListener{maskedKeys: maskedKeys}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.Infof("JobExecutionListener: BeforeJob - JobName: %s, ID: %s, Params: %+v",
		jobExecution.JobName, jobExecution.ID, jobExecution.Parameters.Masked(l.maskedKeys))
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	if jobExecution.Status == model.BatchStatusCompleted {
		logger.Infof("JobExecutionListener: AfterJob - JobName: %s, Status: %s, ExitStatus: %s",
			jobExecution.JobName, jobExecution.Status, jobExecution.ExitStatus)
		return
	}
	logger.Warnf("JobExecutionListener: AfterJob - JobName: %s, Status: %s, ExitStatus: %s, Failures: %v",
		jobExecution.JobName, jobExecution.Status, jobExecution.ExitStatus, jobExecution.Failures)
}

var _ port.JobExecutionListener = (*LoggingJobListener)(nil)

// --- Step Execution Listener ---

type LoggingStepListener struct{}

func NewLoggingStepListener() *LoggingStepListener {
	return &LoggingStepListener{}
}

func (l *LoggingStepListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: BeforeStep - StepName: %s, ID: %s, Offset: %d",
		stepExecution.StepName, stepExecution.ID, stepExecution.Offset())
}

func (l *LoggingStepListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: AfterStep - %s", stepExecution.DebugString())
}

var _ port.StepExecutionListener = (*LoggingStepListener)(nil)

// --- Chunk Listener ---

type LoggingChunkListener struct{}

func NewLoggingChunkListener() *LoggingChunkListener {
	return &LoggingChunkListener{}
}

func (l *LoggingChunkListener) BeforeChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: BeforeChunk - StepName: %s, Offset: %d", stepExecution.StepName, stepExecution.Offset())
}

func (l *LoggingChunkListener) AfterChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: AfterChunk - StepName: %s, Read: %d, Write: %d, Offset: %d",
		stepExecution.StepName, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.Offset())
}

func (l *LoggingChunkListener) AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	logger.Warnf("ChunkListener: AfterChunkError - StepName: %s, Rollbacks: %d, Error: %v",
		stepExecution.StepName, stepExecution.RollbackCount, err)
}

var _ port.ChunkListener = (*LoggingChunkListener)(nil)

// --- Skip Listener ---

type LoggingSkipListener struct{}

func NewLoggingSkipListener() *LoggingSkipListener {
	return &LoggingSkipListener{}
}

func (l *LoggingSkipListener) OnSkipRead(ctx context.Context, record model.RawRecord, err error) {
	logger.Warnf("SkipListener: OnSkipRead - Skipping record %d (%q): %v", record.Offset, record.Line, err)
}

func (l *LoggingSkipListener) OnSkipProcess(ctx context.Context, item any, err error) {
	logger.Warnf("SkipListener: OnSkipProcess - Skipping item: %+v, Error: %v", item, err)
}

func (l *LoggingSkipListener) OnSkipWrite(ctx context.Context, item any, err error) {
	logger.Warnf("SkipListener: OnSkipWrite - Skipping item: %+v, Error: %v", item, err)
}

var _ port.SkipListener = (*LoggingSkipListener)(nil)

// --- Retry Item Listener ---

type LoggingRetryItemListener struct{}

func NewLoggingRetryItemListener() *LoggingRetryItemListener {
	return &LoggingRetryItemListener{}
}

func (l *LoggingRetryItemListener) OnRetryProcess(ctx context.Context, item any, err error) {
	logger.Warnf("RetryItemListener: OnRetryProcess - Retrying process operation for item: %+v, Error: %v", item, err)
}

func (l *LoggingRetryItemListener) OnRetryWrite(ctx context.Context, items []any, err error) {
	logger.Warnf("RetryItemListener: OnRetryWrite - Retrying write operation for %d items, Error: %v", len(items), err)
}

var _ port.RetryItemListener = (*LoggingRetryItemListener)(nil)
