// Package notification notifies external systems about job execution results.
package notification

import (
	"context"
	"fmt"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// Notifier notifies about job completion (success/failure/stop).
type Notifier interface {
	NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) error
}

// LogNotifier is a Notifier that only logs notifications.
type LogNotifier struct{}

// NewLogNotifier creates a new instance of LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Message renders the notification text of execution.
func Message(execution *model.JobExecution) string {
	msg := fmt.Sprintf(
		"Job Notification: Job '%s' (ID: %s, run %d) finished with Status: %s, ExitStatus: %s. Duration: %s, Failures: %d",
		execution.JobName,
		execution.ID,
		execution.RunID,
		execution.Status,
		execution.ExitStatus,
		execution.Duration(),
		len(execution.Failures),
	)
	if last := execution.Failures.Last(); last != "" {
		msg += ", Last failure: " + last
	}
	return msg
}

// NotifyJobCompletion implements Notifier.
func (n *LogNotifier) NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) error {
	if execution.Status == model.BatchStatusCompleted {
		logger.Infof("%s", Message(execution))
	} else {
		logger.Warnf("%s", Message(execution))
	}
	return nil
}

var _ Notifier = (*LogNotifier)(nil)

// NotificationListener is a JobExecutionListener that sends a notification after every job.
// A failing notifier is logged and never changes the job outcome.
type NotificationListener struct {
	notifier Notifier
}

// NewNotificationListener creates a new instance of NotificationListener.
func NewNotificationListener(notifier Notifier) *NotificationListener {
	return &NotificationListener{notifier: notifier}
}

// BeforeJob does nothing.
func (l *NotificationListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
}

// AfterJob sends the completion notification.
func (l *NotificationListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	if err := l.notifier.NotifyJobCompletion(ctx, jobExecution); err != nil {
		logger.Errorf("Notification: failed to notify completion of job '%s' (ID: %s): %v", jobExecution.JobName, jobExecution.ID, err)
	}
}

var _ port.JobExecutionListener = (*NotificationListener)(nil)
