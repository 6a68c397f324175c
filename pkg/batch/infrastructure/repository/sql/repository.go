// Package sql provides the GORM-backed JobRepository. The schema is applied by
// adapter/database/migration.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	gormadapter "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/gorm"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	repository "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// GormJobRepository implements repository.JobRepository on a SQL database.
//
// Writes join the GORM transaction carried by the context (see tx.WithTx), so the
// checkpoint of a chunk commits with the chunk's items when both share the database.
type GormJobRepository struct {
	db *gorm.DB
}

var _ repository.JobRepository = (*GormJobRepository)(nil)

// NewGormJobRepository creates a GormJobRepository over db.
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// Close closes the underlying connection pool.
func (r *GormJobRepository) Close() error {
	return gormadapter.Close(r.db)
}

func (r *GormJobRepository) conn(ctx context.Context) *gorm.DB {
	return gormadapter.ConnFor(ctx, r.db)
}

func wrap(op, message string, err error) error {
	if gormadapter.IsTableNotExistError(err) {
		return exception.NewBatchError(op, message+": metadata schema is missing, apply the migrations first", err, false, false)
	}
	return exception.NewBatchError(op, message, err, false, exception.IsTemporary(err))
}

// --- JobInstance ---

// SaveJobInstance persists a new JobInstance.
func (r *GormJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	const op = "GormJobRepository.SaveJobInstance"
	if err := r.conn(ctx).Create(fromDomainJobInstance(instance)).Error; err != nil {
		return wrap(op, fmt.Sprintf("failed to save JobInstance (ID: %s)", instance.ID), err)
	}
	return nil
}

// FindJobInstanceByID finds a JobInstance by its ID.
func (r *GormJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	const op = "GormJobRepository.FindJobInstanceByID"
	var entity JobInstanceEntity
	err := r.conn(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobInstanceNotFound
	}
	if err != nil {
		return nil, wrap(op, fmt.Sprintf("failed to find JobInstance by ID: %s", id), err)
	}
	return toDomainJobInstance(&entity), nil
}

// FindJobInstanceByJobNameAndParameters finds a JobInstance by job name and parameter hash.
func (r *GormJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	const op = "GormJobRepository.FindJobInstanceByJobNameAndParameters"
	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewBatchError(op, "failed to calculate JobParameters hash", err, false, false)
	}

	var entities []JobInstanceEntity
	if err := r.conn(ctx).Where("job_name = ? AND parameters_hash = ?", jobName, hash).Find(&entities).Error; err != nil {
		return nil, wrap(op, "failed to find JobInstance", err)
	}
	for i := range entities {
		// The stored hash is recomputed from the decoded parameters to rule out collisions.
		stored, err := entities[i].Parameters.Hash()
		if err == nil && stored == hash {
			return toDomainJobInstance(&entities[i]), nil
		}
		logger.Warnf("%s: JobInstance (ID: %s) hash matched but parameters mismatched. Possible hash collision.", op, entities[i].ID)
	}
	return nil, repository.ErrJobInstanceNotFound
}

// FindLatestJobInstance returns the instance of jobName with the highest run id.
func (r *GormJobRepository) FindLatestJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error) {
	const op = "GormJobRepository.FindLatestJobInstance"
	var entity JobInstanceEntity
	err := r.conn(ctx).Where("job_name = ?", jobName).Order("run_id desc").Order("create_time desc").Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobInstanceNotFound
	}
	if err != nil {
		return nil, wrap(op, fmt.Sprintf("failed to find latest JobInstance of %s", jobName), err)
	}
	return toDomainJobInstance(&entity), nil
}

// GetJobNames returns the distinct job names, sorted.
func (r *GormJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	const op = "GormJobRepository.GetJobNames"
	names := make([]string, 0)
	if err := r.conn(ctx).Model(&JobInstanceEntity{}).Distinct().Order("job_name").Pluck("job_name", &names).Error; err != nil {
		return nil, wrap(op, "failed to list job names", err)
	}
	return names, nil
}

// --- JobExecution ---

// SaveJobExecution persists a new JobExecution with version 0.
func (r *GormJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "GormJobRepository.SaveJobExecution"
	jobExecution.Version = 0
	if err := r.conn(ctx).Create(fromDomainJobExecution(jobExecution)).Error; err != nil {
		return wrap(op, fmt.Sprintf("failed to save JobExecution (ID: %s)", jobExecution.ID), err)
	}
	return nil
}

// UpdateJobExecution writes jobExecution if the stored version still matches, then bumps the version.
func (r *GormJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "GormJobRepository.UpdateJobExecution"

	originalVersion := jobExecution.Version
	jobExecution.Version++
	jobExecution.LastUpdated = time.Now()
	entity := fromDomainJobExecution(jobExecution)

	err := r.updateVersioned(ctx, "JobExecution", &JobExecutionEntity{}, entity, entity.ID, originalVersion, repository.ErrJobExecutionNotFound)
	if err != nil {
		jobExecution.Version = originalVersion
		if exception.IsOptimisticLockingFailure(err) || errors.Is(err, repository.ErrJobExecutionNotFound) {
			return err
		}
		return wrap(op, fmt.Sprintf("failed to update JobExecution (ID: %s)", jobExecution.ID), err)
	}
	return nil
}

// updateVersioned updates the row of id at originalVersion with all columns of entity.
func (r *GormJobRepository) updateVersioned(ctx context.Context, name string, table, entity interface{}, id string, originalVersion int, notFound error) error {
	conn := r.conn(ctx)
	result := conn.Model(table).Where("id = ? AND version = ?", id, originalVersion).Select("*").Updates(entity)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := conn.Model(table).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return exception.NewOptimisticLockingFailureException("repository",
		fmt.Sprintf("%s (ID: %s) with version %d not found for update", name, id, originalVersion), nil)
}

// FindJobExecutionByID finds a JobExecution by its ID, with its StepExecutions.
func (r *GormJobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error) {
	const op = "GormJobRepository.FindJobExecutionByID"
	var entity JobExecutionEntity
	err := r.conn(ctx).Where("id = ?", executionID).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobExecutionNotFound
	}
	if err != nil {
		return nil, wrap(op, fmt.Sprintf("failed to find JobExecution by ID: %s", executionID), err)
	}
	return r.withSteps(ctx, &entity)
}

// FindLatestRestartableJobExecution finds the latest FAILED or STOPPED JobExecution of a JobInstance.
func (r *GormJobRepository) FindLatestRestartableJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	const op = "GormJobRepository.FindLatestRestartableJobExecution"
	var entity JobExecutionEntity
	err := r.conn(ctx).
		Where("job_instance_id = ? AND status IN ?", jobInstanceID, []model.JobStatus{model.BatchStatusFailed, model.BatchStatusStopped}).
		Order("create_time desc").
		Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobExecutionNotFound
	}
	if err != nil {
		return nil, wrap(op, fmt.Sprintf("failed to find latest JobExecution for JobInstance ID: %s", jobInstanceID), err)
	}
	return r.withSteps(ctx, &entity)
}

// FindJobExecutionsByJobInstance finds all JobExecutions of the JobInstance, newest first.
// StepExecutions are not loaded.
func (r *GormJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error) {
	const op = "GormJobRepository.FindJobExecutionsByJobInstance"
	var entities []JobExecutionEntity
	if err := r.conn(ctx).Where("job_instance_id = ?", jobInstance.ID).Order("create_time desc").Find(&entities).Error; err != nil {
		return nil, wrap(op, fmt.Sprintf("failed to find JobExecutions for JobInstance ID: %s", jobInstance.ID), err)
	}
	executions := make([]*model.JobExecution, len(entities))
	for i := range entities {
		executions[i] = toDomainJobExecution(&entities[i])
	}
	return executions, nil
}

// FindJobExecutionsByJobName finds all JobExecutions of jobName, newest first, with their StepExecutions.
func (r *GormJobRepository) FindJobExecutionsByJobName(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	const op = "GormJobRepository.FindJobExecutionsByJobName"
	var entities []JobExecutionEntity
	if err := r.conn(ctx).Where("job_name = ?", jobName).Order("create_time desc").Find(&entities).Error; err != nil {
		return nil, wrap(op, fmt.Sprintf("failed to find JobExecutions of %s", jobName), err)
	}
	executions := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		je, err := r.withSteps(ctx, &entities[i])
		if err != nil {
			return nil, err
		}
		executions = append(executions, je)
	}
	return executions, nil
}

func (r *GormJobRepository) withSteps(ctx context.Context, entity *JobExecutionEntity) (*model.JobExecution, error) {
	je := toDomainJobExecution(entity)
	steps, err := r.FindStepExecutionsByJobExecutionID(ctx, je.ID)
	if err != nil {
		return nil, err
	}
	for _, se := range steps {
		je.AddStepExecution(se)
	}
	return je, nil
}

// --- StepExecution ---

// SaveStepExecution persists a new StepExecution with version 0.
func (r *GormJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "GormJobRepository.SaveStepExecution"
	stepExecution.Version = 0
	if err := r.conn(ctx).Create(fromDomainStepExecution(stepExecution)).Error; err != nil {
		return wrap(op, fmt.Sprintf("failed to save StepExecution (ID: %s)", stepExecution.ID), err)
	}
	return nil
}

// UpdateStepExecution writes stepExecution if the stored version still matches, then bumps the version.
// Inside a chunk transaction the row changes only when that transaction commits.
func (r *GormJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "GormJobRepository.UpdateStepExecution"

	originalVersion := stepExecution.Version
	stepExecution.Version++
	stepExecution.LastUpdated = time.Now()
	entity := fromDomainStepExecution(stepExecution)

	err := r.updateVersioned(ctx, "StepExecution", &StepExecutionEntity{}, entity, entity.ID, originalVersion, repository.ErrStepExecutionNotFound)
	if err != nil {
		stepExecution.Version = originalVersion
		if exception.IsOptimisticLockingFailure(err) || errors.Is(err, repository.ErrStepExecutionNotFound) {
			return err
		}
		return wrap(op, fmt.Sprintf("failed to update StepExecution (ID: %s)", stepExecution.ID), err)
	}
	return nil
}

// FindStepExecutionByID finds a StepExecution by its ID.
func (r *GormJobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	const op = "GormJobRepository.FindStepExecutionByID"
	var entity StepExecutionEntity
	err := r.conn(ctx).Where("id = ?", executionID).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrStepExecutionNotFound
	}
	if err != nil {
		return nil, wrap(op, fmt.Sprintf("failed to find StepExecution by ID: %s", executionID), err)
	}
	return toDomainStepExecution(&entity), nil
}

// FindStepExecutionsByJobExecutionID returns the StepExecutions of a JobExecution in start order.
func (r *GormJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	const op = "GormJobRepository.FindStepExecutionsByJobExecutionID"
	var entities []StepExecutionEntity
	if err := r.conn(ctx).Where("job_execution_id = ?", jobExecutionID).Order("start_time asc").Find(&entities).Error; err != nil {
		return nil, wrap(op, fmt.Sprintf("failed to find StepExecutions by JobExecution ID: %s", jobExecutionID), err)
	}
	steps := make([]*model.StepExecution, len(entities))
	for i := range entities {
		steps[i] = toDomainStepExecution(&entities[i])
	}
	return steps, nil
}
