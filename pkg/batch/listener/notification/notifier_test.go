package notification_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/listener/notification"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) error {
	return m.Called(ctx, execution).Error(0)
}

func finishedExecution(err error) *model.JobExecution {
	je := model.NewJobExecution(model.NewID(), "importUserJob", model.NewJobParameters())
	je.MarkAsStarted()
	if err != nil {
		je.MarkAsFailed(err)
	} else {
		je.MarkAsCompleted()
	}
	return je
}

func TestNotificationListener_AfterJobNotifies(t *testing.T) {
	n := &mockNotifier{}
	je := finishedExecution(nil)
	n.On("NotifyJobCompletion", mock.Anything, je).Return(nil).Once()

	l := notification.NewNotificationListener(n)
	l.BeforeJob(context.Background(), je)
	l.AfterJob(context.Background(), je)

	n.AssertExpectations(t)
}

func TestNotificationListener_NotifierErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	n := &mockNotifier{}
	n.On("NotifyJobCompletion", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	notification.NewNotificationListener(n).AfterJob(context.Background(), finishedExecution(nil))
	assert.Contains(t, buf.String(), "smtp down")
}

func TestLogNotifier_Message(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	je := finishedExecution(errors.New("write failed"))
	assert.NoError(t, notification.NewLogNotifier().NotifyJobCompletion(context.Background(), je))

	msg := notification.Message(je)
	assert.Contains(t, msg, "finished with Status: FAILED")
	assert.Contains(t, msg, "Failures: 1, Last failure: write failed")
	assert.Contains(t, buf.String(), msg)
}
