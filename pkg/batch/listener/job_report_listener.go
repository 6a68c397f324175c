// Package listener holds the job-level listeners shipped with lubatch.
// Logging, tracing and notification listeners live in the subpackages.
package listener

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// JobReportListener prints a summary of the JobExecution and its steps once the job finishes.
type JobReportListener struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJobReportListener creates a JobReportListener writing to out. A nil out writes to stdout.
func NewJobReportListener(out io.Writer) *JobReportListener {
	if out == nil {
		out = os.Stdout
	}
	return &JobReportListener{out: out}
}

// BeforeJob does nothing.
func (l *JobReportListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {}

// AfterJob writes the report.
func (l *JobReportListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.out, Report(jobExecution)); err != nil {
		logger.Warnf("JobReportListener: failed to write report of job '%s': %v", jobExecution.JobName, err)
	}
}

// Report renders the multi-line summary of jobExecution.
func Report(jobExecution *model.JobExecution) string {
	s := fmt.Sprintf("Job '%s' finished with status %s\n%s\n", jobExecution.JobName, jobExecution.Status, jobExecution.Summary())
	for _, se := range jobExecution.StepExecutions {
		s += fmt.Sprintf("  Step %s: status=%s, read=%d, written=%d, filtered=%d, skipped=%d, commits=%d, rollbacks=%d\n",
			se.StepName, se.Status, se.ReadCount, se.WriteCount, se.FilterCount, se.SkipCount(), se.CommitCount, se.RollbackCount)
	}
	for _, f := range jobExecution.Failures {
		s += "  Failure: " + f + "\n"
	}
	return s
}

var _ port.JobExecutionListener = (*JobReportListener)(nil)
