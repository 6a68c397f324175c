package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiawu-lu/lubatch/pkg/batch/core/application/usecase"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	repository "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/job/runner"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/support/incrementer"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/engine/step/item"
	"github.com/jiawu-lu/lubatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	"github.com/jiawu-lu/lubatch/pkg/batch/test"
)

type env struct {
	repo     *inmemory.InMemoryJobRepository
	tm       tx.TransactionManager
	launcher *usecase.SimpleJobLauncher
	operator *usecase.DefaultJobOperator
}

func newEnv() *env {
	repo := inmemory.NewInMemoryJobRepository()
	launcher := usecase.NewSimpleJobLauncher(repo, runner.NewSimpleJobRunner(repo))
	return &env{
		repo:     repo,
		tm:       tx.NewResourcelessTransactionManager(),
		launcher: launcher,
		operator: usecase.NewDefaultJobOperator(repo, launcher, usecase.NewSimpleJobExplorer(repo)),
	}
}

type stepSpec struct {
	name      string
	source    *test.LineSource
	writer    *test.RecordingWriter
	chunkSize int
	listener  *stopAfterChunk
}

func (e *env) job(t *testing.T, withIncrementer bool, specs ...stepSpec) *runner.FlowJob {
	t.Helper()
	var elems []runner.FlowElement
	for _, s := range specs {
		cfg := item.ChunkStepConfig{
			Source:        s.source,
			Mapper:        test.UpperMapper{},
			Writer:        s.writer,
			ChunkSize:     s.chunkSize,
			JobRepository: e.repo,
			TxManager:     e.tm,
		}
		if s.listener != nil {
			cfg.ChunkListeners = append(cfg.ChunkListeners, s.listener)
		}
		step, err := item.NewChunkStep(s.name, cfg)
		require.NoError(t, err)
		elems = append(elems, runner.FlowElement{Element: step})
	}
	jobCfg := runner.FlowJobConfig{Elements: elems, JobRepository: e.repo}
	if withIncrementer {
		jobCfg.Incrementer = incrementer.NewRunIDIncrementer("")
	}
	job, err := runner.NewFlowJob("importJob", jobCfg)
	require.NoError(t, err)
	return job
}

// failOnce fails the first write whose chunk contains target.
func failOnce(target string) func(items []any) error {
	var once sync.Once
	return func(items []any) error {
		var err error
		for _, it := range items {
			if it == target {
				once.Do(func() { err = errors.New("disk full") })
			}
		}
		return err
	}
}

// stopAfterChunk asks the operator to stop the running execution after the n-th commit
// and records the stored status right after the request.
type stopAfterChunk struct {
	operator   *usecase.DefaultJobOperator
	repo       repository.JobRepository
	n          int
	commits    int
	stopErr    error
	stopStatus model.JobStatus
}

func (l *stopAfterChunk) BeforeChunk(ctx context.Context, se *model.StepExecution) {}

func (l *stopAfterChunk) AfterChunk(ctx context.Context, se *model.StepExecution) {
	l.commits++
	if l.commits == l.n {
		l.stopErr = l.operator.Stop(ctx, se.JobExecutionID)
		if l.repo != nil {
			if stored, err := l.repo.FindJobExecutionByID(ctx, se.JobExecutionID); err == nil {
				l.stopStatus = stored.Status
			}
		}
	}
}

func (l *stopAfterChunk) AfterChunkError(ctx context.Context, se *model.StepExecution, err error) {}

func TestLaunch_AssignsIncreasingRunIDs(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	writer := &test.RecordingWriter{}
	job := e.job(t, true, stepSpec{name: "step1", source: test.NewLineSource("a", "b"), writer: writer, chunkSize: 10})

	params := model.NewJobParameters()
	params.Put("input", "log.txt")

	var runIDs []int64
	for i := 0; i < 3; i++ {
		je, err := e.launcher.Launch(ctx, job, params)
		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusCompleted, je.Status)
		assert.Equal(t, "log.txt", je.Parameters.Get("input"))
		runIDs = append(runIDs, je.RunID)
	}
	assert.Equal(t, []int64{1, 2, 3}, runIDs)
	assert.Equal(t, []string{"A", "B", "A", "B", "A", "B"}, writer.Strings())

	instance, err := e.repo.FindLatestJobInstance(ctx, "importJob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), instance.RunID)
}

func TestLaunch_RunIDIgnoresCallerValue(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	job := e.job(t, true, stepSpec{name: "step1", source: test.NewLineSource("a"), writer: &test.RecordingWriter{}, chunkSize: 1})

	params := model.NewJobParameters()
	params.Put(model.RunIDKey, int64(1))
	first, err := e.launcher.Launch(ctx, job, params)
	require.NoError(t, err)
	second, err := e.launcher.Launch(ctx, job, params)
	require.NoError(t, err)
	assert.Greater(t, second.RunID, first.RunID)
}

func TestLaunch_DuplicateParametersWithoutIncrementer(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	job := e.job(t, false, stepSpec{name: "step1", source: test.NewLineSource("a"), writer: &test.RecordingWriter{}, chunkSize: 1})

	params := model.NewJobParameters()
	params.Put("input", "same.txt")
	_, err := e.launcher.Launch(ctx, job, params)
	require.NoError(t, err)

	_, err = e.launcher.Launch(ctx, job, params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrJobRestart))
}

func TestRestart_ResumesFailedExecution(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	first := test.NewLineSource("a", "b")
	firstWriter := &test.RecordingWriter{}
	second := test.NewLineSource("c", "d", "e", "f", "g")
	secondWriter := &test.RecordingWriter{FailWhen: failOnce("E")}
	job := e.job(t, true,
		stepSpec{name: "step1", source: first, writer: firstWriter, chunkSize: 2},
		stepSpec{name: "step2", source: second, writer: secondWriter, chunkSize: 2},
	)

	failed, err := e.launcher.Launch(ctx, job, model.NewJobParameters())
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, failed.Status)
	assert.Equal(t, []string{"C", "D"}, secondWriter.Strings())
	assert.NotEmpty(t, failed.Failures)

	restarted, err := e.operator.Restart(ctx, job, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
	assert.Equal(t, failed.JobInstanceID, restarted.JobInstanceID)
	assert.Equal(t, failed.RunID, restarted.RunID)
	assert.Equal(t, 1, restarted.RestartCount)

	// step1 was COMPLETED and is not run again; step2 resumes at offset 2.
	assert.Equal(t, []int64{0}, first.Opens)
	assert.Equal(t, []string{"A", "B"}, firstWriter.Strings())
	assert.Equal(t, []int64{0, 2}, second.Opens)
	assert.Equal(t, []string{"C", "D", "E", "F", "G"}, secondWriter.Strings())

	old, err := e.repo.FindJobExecutionByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, old.Status)

	_, err = e.operator.Restart(ctx, job, failed.ID)
	assert.True(t, errors.Is(err, exception.ErrJobRestart), "an abandoned execution cannot be restarted")
}

func TestRestart_LatestRestartableWhenNoID(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	source := test.NewLineSource("a", "b", "c")
	writer := &test.RecordingWriter{FailWhen: failOnce("C")}
	job := e.job(t, true, stepSpec{name: "step1", source: source, writer: writer, chunkSize: 1})

	failed, err := e.launcher.Launch(ctx, job, model.NewJobParameters())
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, failed.Status)

	restarted, err := e.operator.Restart(ctx, job, "")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
	assert.Equal(t, []string{"A", "B", "C"}, writer.Strings())

	_, err = e.operator.Restart(ctx, job, "")
	assert.True(t, errors.Is(err, exception.ErrJobRestart))
}

func TestRestart_RejectsCompletedExecution(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	job := e.job(t, true, stepSpec{name: "step1", source: test.NewLineSource("a"), writer: &test.RecordingWriter{}, chunkSize: 1})

	je, err := e.launcher.Launch(ctx, job, model.NewJobParameters())
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusCompleted, je.Status)

	_, err = e.operator.Restart(ctx, job, je.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrJobRestart))

	_, err = e.operator.Restart(ctx, job, "missing")
	assert.True(t, errors.Is(err, exception.ErrJobRestart))
}

func TestStop_EndsStoppedAndRestartContinues(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	source := test.NewLineSource("a", "b", "c", "d", "e")
	writer := &test.RecordingWriter{}
	stopper := &stopAfterChunk{operator: e.operator, repo: e.repo, n: 1}
	job := e.job(t, true, stepSpec{name: "step1", source: source, writer: writer, chunkSize: 2, listener: stopper})

	stopped, err := e.launcher.Launch(ctx, job, model.NewJobParameters())
	require.NoError(t, err)
	require.NoError(t, stopper.stopErr)
	assert.Equal(t, model.BatchStatusStopping, stopper.stopStatus)
	assert.Equal(t, model.BatchStatusStopped, stopped.Status)

	stored, err := e.repo.FindJobExecutionByID(ctx, stopped.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
	assert.Equal(t, []string{"A", "B"}, writer.Strings())

	_, running := e.launcher.GetCancelFunc(stopped.ID)
	assert.False(t, running, "cancel func must be unregistered once the run ends")

	stopper.n = 0
	restarted, err := e.operator.Restart(ctx, job, stopped.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, writer.Strings())
}

func TestStop_UnknownExecution(t *testing.T) {
	e := newEnv()
	assert.Error(t, e.operator.Stop(context.Background(), "nope"))
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	writer := &test.RecordingWriter{FailWhen: func([]any) error { return errors.New("boom") }}
	job := e.job(t, true, stepSpec{name: "step1", source: test.NewLineSource("a"), writer: writer, chunkSize: 1})

	failed, err := e.launcher.Launch(ctx, job, model.NewJobParameters())
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, failed.Status)

	require.NoError(t, e.operator.Abandon(ctx, failed.ID))
	require.NoError(t, e.operator.Abandon(ctx, failed.ID), "abandoning twice is a no-op")

	_, err = e.operator.Restart(ctx, job, failed.ID)
	assert.True(t, errors.Is(err, exception.ErrJobRestart))

	executions, err := e.operator.Executions(ctx, "importJob")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, model.BatchStatusAbandoned, executions[0].Status)
}

func TestExplorer(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	explorer := usecase.NewSimpleJobExplorer(e.repo)
	job := e.job(t, true, stepSpec{name: "step1", source: test.NewLineSource("a"), writer: &test.RecordingWriter{}, chunkSize: 1})

	je, err := e.launcher.Launch(ctx, job, model.NewJobParameters())
	require.NoError(t, err)

	got, err := explorer.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	require.Len(t, got.StepExecutions, 1)
	assert.Equal(t, 1, got.StepExecutions[0].WriteCount)

	names, err := explorer.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"importJob"}, names)

	last, err := explorer.GetLastJobInstance(ctx, "importJob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), last.RunID)

	_, err = explorer.GetJobExecution(ctx, "missing")
	assert.Error(t, err)
}
