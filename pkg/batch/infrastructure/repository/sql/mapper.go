package sql

import (
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
)

func fromDomainJobInstance(ji *model.JobInstance) *JobInstanceEntity {
	return &JobInstanceEntity{
		ID:             ji.ID,
		JobName:        ji.JobName,
		Parameters:     ji.Parameters,
		ParametersHash: ji.ParametersHash,
		RunID:          ji.RunID,
		CreateTime:     ji.CreateTime,
		Version:        ji.Version,
	}
}

func toDomainJobInstance(entity *JobInstanceEntity) *model.JobInstance {
	return &model.JobInstance{
		ID:             entity.ID,
		JobName:        entity.JobName,
		Parameters:     entity.Parameters,
		ParametersHash: entity.ParametersHash,
		RunID:          entity.RunID,
		CreateTime:     entity.CreateTime,
		Version:        entity.Version,
	}
}

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	return &JobExecutionEntity{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		Parameters:       je.Parameters,
		RunID:            je.RunID,
		StartTime:        je.StartTime,
		EndTime:          je.EndTime,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		ExitCode:         je.ExitCode,
		Failures:         je.Failures,
		Version:          je.Version,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		ExecutionContext: je.ExecutionContext,
		CurrentStepName:  je.CurrentStepName,
		RestartCount:     je.RestartCount,
	}
}

// toDomainJobExecution leaves StepExecutions empty; the repository attaches them.
func toDomainJobExecution(entity *JobExecutionEntity) *model.JobExecution {
	failures := entity.Failures
	if failures == nil {
		failures = make(model.FailureList, 0)
	}
	ec := entity.ExecutionContext
	if ec == nil {
		ec = model.NewExecutionContext()
	}
	return &model.JobExecution{
		ID:               entity.ID,
		JobInstanceID:    entity.JobInstanceID,
		JobName:          entity.JobName,
		Parameters:       entity.Parameters,
		RunID:            entity.RunID,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		ExitCode:         entity.ExitCode,
		Failures:         failures,
		Version:          entity.Version,
		CreateTime:       entity.CreateTime,
		LastUpdated:      entity.LastUpdated,
		ExecutionContext: ec,
		CurrentStepName:  entity.CurrentStepName,
		RestartCount:     entity.RestartCount,
		StepExecutions:   make([]*model.StepExecution, 0),
	}
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	return &StepExecutionEntity{
		ID:               se.ID,
		StepName:         se.StepName,
		JobExecutionID:   se.JobExecutionID,
		StartTime:        se.StartTime,
		EndTime:          se.EndTime,
		Status:           se.Status,
		ExitStatus:       se.ExitStatus,
		Failures:         se.Failures,
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		FilterCount:      se.FilterCount,
		ReadSkipCount:    se.ReadSkipCount,
		ProcessSkipCount: se.ProcessSkipCount,
		WriteSkipCount:   se.WriteSkipCount,
		ExecutionContext: se.ExecutionContext,
		LastUpdated:      se.LastUpdated,
		Version:          se.Version,
	}
}

func toDomainStepExecution(entity *StepExecutionEntity) *model.StepExecution {
	failures := entity.Failures
	if failures == nil {
		failures = make(model.FailureList, 0)
	}
	ec := entity.ExecutionContext
	if ec == nil {
		ec = model.NewExecutionContext()
	}
	return &model.StepExecution{
		ID:               entity.ID,
		StepName:         entity.StepName,
		JobExecutionID:   entity.JobExecutionID,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		Failures:         failures,
		ReadCount:        entity.ReadCount,
		WriteCount:       entity.WriteCount,
		CommitCount:      entity.CommitCount,
		RollbackCount:    entity.RollbackCount,
		FilterCount:      entity.FilterCount,
		ReadSkipCount:    entity.ReadSkipCount,
		ProcessSkipCount: entity.ProcessSkipCount,
		WriteSkipCount:   entity.WriteSkipCount,
		ExecutionContext: ec,
		LastUpdated:      entity.LastUpdated,
		Version:          entity.Version,
	}
}
