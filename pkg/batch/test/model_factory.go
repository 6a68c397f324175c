package test

import (
	"time"

	"github.com/google/uuid"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
)

// NewTestJobParameters creates JobParameters for testing.
func NewTestJobParameters(params map[string]interface{}) model.JobParameters {
	jp := model.NewJobParameters()
	for k, v := range params {
		jp.Put(k, v)
	}
	return jp
}

// NewTestJobInstance creates a JobInstance for testing.
func NewTestJobInstance(jobName string, params model.JobParameters) *model.JobInstance {
	// model.NewJobInstance also computes the parameters hash and run id.
	return model.NewJobInstance(jobName, params)
}

// NewTestJobExecution creates a JobExecution for testing.
func NewTestJobExecution(jobInstanceID, jobName string, params model.JobParameters) *model.JobExecution {
	return model.NewJobExecution(jobInstanceID, jobName, params)
}

// NewTestStepExecution creates a StepExecution for testing.
func NewTestStepExecution(jobExecution *model.JobExecution, stepName string) *model.StepExecution {
	return model.NewStepExecution(uuid.New().String(), jobExecution, stepName)
}

// NewTestExecutionContext creates an ExecutionContext for testing.
func NewTestExecutionContext(data map[string]interface{}) model.ExecutionContext {
	ec := model.NewExecutionContext()
	for k, v := range data {
		ec.Put(k, v)
	}
	return ec
}

// NewTimePtr returns a pointer to time.Time.
func NewTimePtr(t time.Time) *time.Time {
	return &t
}
