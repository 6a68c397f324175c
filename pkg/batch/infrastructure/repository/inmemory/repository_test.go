package inmemory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	"github.com/jiawu-lu/lubatch/pkg/batch/test"
)

func saveExecution(t *testing.T, repo *inmemory.InMemoryJobRepository, jobName string, runID int) (*model.JobInstance, *model.JobExecution) {
	t.Helper()
	ctx := context.Background()
	params := test.NewTestJobParameters(map[string]interface{}{model.RunIDKey: runID})
	ji := test.NewTestJobInstance(jobName, params)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))
	je := test.NewTestJobExecution(ji.ID, jobName, params)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	return ji, je
}

func TestInMemoryJobRepository_JobInstances(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()

	ji1, _ := saveExecution(t, repo, "importJob", 1)
	ji2, _ := saveExecution(t, repo, "importJob", 2)
	saveExecution(t, repo, "exportJob", 1)

	// Same name and parameters identify the same instance.
	dup := test.NewTestJobInstance("importJob", ji1.Parameters)
	assert.Error(t, repo.SaveJobInstance(ctx, dup))

	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "importJob", ji1.Parameters)
	require.NoError(t, err)
	assert.Equal(t, ji1.ID, found.ID)

	latest, err := repo.FindLatestJobInstance(ctx, "importJob")
	require.NoError(t, err)
	assert.Equal(t, ji2.ID, latest.ID)
	assert.Equal(t, int64(2), latest.RunID)

	_, err = repo.FindLatestJobInstance(ctx, "unknown")
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)

	names, err := repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"exportJob", "importJob"}, names)
}

func TestInMemoryJobRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	_, je := saveExecution(t, repo, "importJob", 1)

	je.Status = model.BatchStatusFailed
	stored, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarting, stored.Status, "unsaved changes must not leak into the store")

	stored.ExecutionContext.Put("k", "v")
	again, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	_, ok := again.ExecutionContext.Get("k")
	assert.False(t, ok)
}

func TestInMemoryJobRepository_OptimisticLocking(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	_, je := saveExecution(t, repo, "importJob", 1)

	stale, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)

	je.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	stale.MarkAsStarted()
	err = repo.UpdateJobExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
}

func TestInMemoryJobRepository_StepUpdateFollowsTransaction(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	tm := tx.NewResourcelessTransactionManager()
	_, je := saveExecution(t, repo, "importJob", 1)

	se := test.NewTestStepExecution(je, "step1")
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	// Rolled back: the stored step keeps its old checkpoint.
	t1, err := tm.Begin(ctx)
	require.NoError(t, err)
	se.ExecutionContext.Put(model.ChunkOffsetKey, int64(10))
	require.NoError(t, repo.UpdateStepExecution(tx.WithTx(ctx, t1), se))
	require.NoError(t, tm.Rollback(t1))

	stored, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Offset())
	se.Version = stored.Version

	// Committed: the update becomes visible.
	t2, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStepExecution(tx.WithTx(ctx, t2), se))
	stored, _ = repo.FindStepExecutionByID(ctx, se.ID)
	assert.Equal(t, int64(0), stored.Offset(), "not visible before commit")
	require.NoError(t, tm.Commit(t2))

	stored, err = repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Offset())
	assert.Equal(t, 1, stored.Version)
}

func TestInMemoryJobRepository_FindJobExecutions(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	ji, first := saveExecution(t, repo, "importJob", 1)

	s1 := test.NewTestStepExecution(first, "step1")
	s2 := test.NewTestStepExecution(first, "step2")
	s2.StartTime = s1.StartTime.Add(time.Second)
	require.NoError(t, repo.SaveStepExecution(ctx, s2))
	require.NoError(t, repo.SaveStepExecution(ctx, s1))

	first.MarkAsStarted()
	first.MarkAsFailed(assert.AnError)
	require.NoError(t, repo.UpdateJobExecution(ctx, first))

	second := test.NewTestJobExecution(ji.ID, "importJob", ji.Parameters)
	second.CreateTime = first.CreateTime.Add(time.Minute)
	require.NoError(t, repo.SaveJobExecution(ctx, second))

	loaded, err := repo.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, loaded.StepExecutions, 2)
	assert.Equal(t, "step1", loaded.StepExecutions[0].StepName)
	assert.Same(t, loaded, loaded.StepExecutions[0].JobExecution)

	restartable, err := repo.FindLatestRestartableJobExecution(ctx, ji.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, restartable.ID)

	byName, err := repo.FindJobExecutionsByJobName(ctx, "importJob")
	require.NoError(t, err)
	require.Len(t, byName, 2)
	assert.Equal(t, second.ID, byName[0].ID)

	steps, err := repo.FindStepExecutionsByJobExecutionID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"step1", "step2"}, []string{steps[0].StepName, steps[1].StepName})
}
