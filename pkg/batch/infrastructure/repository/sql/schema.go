package sql

import (
	"time"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
)

// JobInstanceEntity is the persisted form of model.JobInstance.
type JobInstanceEntity struct {
	ID             string `gorm:"primaryKey"`
	JobName        string
	Parameters     model.JobParameters
	ParametersHash string
	RunID          int64
	CreateTime     time.Time
	Version        int
}

func (JobInstanceEntity) TableName() string {
	return "batch_job_instance"
}

// JobExecutionEntity is the persisted form of model.JobExecution. StepExecutions are
// stored in their own table and attached by the repository.
type JobExecutionEntity struct {
	ID               string `gorm:"primaryKey"`
	JobInstanceID    string
	JobName          string
	Parameters       model.JobParameters
	RunID            int64
	StartTime        time.Time
	EndTime          *time.Time
	Status           model.JobStatus
	ExitStatus       model.ExitStatus
	ExitCode         int
	Failures         model.FailureList
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
	ExecutionContext model.ExecutionContext
	CurrentStepName  string
	RestartCount     int
}

func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is the persisted form of model.StepExecution.
type StepExecutionEntity struct {
	ID               string `gorm:"primaryKey"`
	StepName         string
	JobExecutionID   string
	StartTime        time.Time
	EndTime          *time.Time
	Status           model.JobStatus
	ExitStatus       model.ExitStatus
	Failures         model.FailureList
	ReadCount        int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	FilterCount      int
	ReadSkipCount    int
	ProcessSkipCount int
	WriteSkipCount   int
	ExecutionContext model.ExecutionContext
	LastUpdated      time.Time
	Version          int
}

func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}
