package item_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/engine/step/item"
	"github.com/jiawu-lu/lubatch/pkg/batch/engine/step/retry"
	"github.com/jiawu-lu/lubatch/pkg/batch/engine/step/skip"
	"github.com/jiawu-lu/lubatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	"github.com/jiawu-lu/lubatch/pkg/batch/test"
)

type person struct {
	FirstName string
	LastName  string
}

// personMapper splits "first,last" lines.
type personMapper struct{}

func (personMapper) Map(ctx context.Context, record model.RawRecord) (any, error) {
	fields := strings.Split(record.Line, ",")
	if len(fields) != 2 {
		return nil, exception.NewMappingError(record.Offset, record.Line, fmt.Errorf("expected 2 fields, got %d", len(fields)))
	}
	return person{FirstName: fields[0], LastName: fields[1]}, nil
}

type harness struct {
	repo *inmemory.InMemoryJobRepository
	tm   tx.TransactionManager
	je   *model.JobExecution
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	params := test.NewTestJobParameters(map[string]interface{}{model.RunIDKey: 1})
	ji := test.NewTestJobInstance("testJob", params)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))
	je := test.NewTestJobExecution(ji.ID, "testJob", params)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	return &harness{repo: repo, tm: tx.NewResourcelessTransactionManager(), je: je}
}

func (h *harness) config(source port.RecordSource, mapper port.RecordMapper, writer port.ItemWriter, chunkSize int) item.ChunkStepConfig {
	return item.ChunkStepConfig{
		Source:        source,
		Mapper:        mapper,
		Writer:        writer,
		ChunkSize:     chunkSize,
		JobRepository: h.repo,
		TxManager:     h.tm,
	}
}

func (h *harness) newStepExecution(t *testing.T) *model.StepExecution {
	t.Helper()
	se := test.NewTestStepExecution(h.je, "step1")
	require.NoError(t, h.repo.SaveStepExecution(context.Background(), se))
	return se
}

// restart creates the StepExecution of a new JobExecution resuming from prev.
func (h *harness) restart(t *testing.T, prev *model.StepExecution) *model.StepExecution {
	t.Helper()
	ctx := context.Background()
	stored, err := h.repo.FindStepExecutionByID(ctx, prev.ID)
	require.NoError(t, err)

	je := test.NewTestJobExecution(h.je.JobInstanceID, h.je.JobName, h.je.Parameters)
	require.NoError(t, h.repo.SaveJobExecution(ctx, je))
	se := stored.CopyForRestart(je.ID)
	je.AddStepExecution(se)
	require.NoError(t, h.repo.SaveStepExecution(ctx, se))
	h.je = je
	return se
}

func (h *harness) run(t *testing.T, cfg item.ChunkStepConfig, se *model.StepExecution) error {
	t.Helper()
	step, err := item.NewChunkStep("step1", cfg)
	require.NoError(t, err)
	return step.Execute(context.Background(), h.je, se)
}

func letters(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = string(rune('a' + i))
	}
	return lines
}

func upper(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.ToUpper(l)
	}
	return out
}

func TestChunkStep_SingleChunk(t *testing.T) {
	h := newHarness(t)
	writer := &test.RecordingWriter{}
	se := h.newStepExecution(t)

	err := h.run(t, h.config(test.NewLineSource("Jane,Doe", "John,Smith"), personMapper{}, writer, 10), se)
	require.NoError(t, err)

	assert.Equal(t, []any{person{"Jane", "Doe"}, person{"John", "Smith"}}, writer.Items())
	assert.Equal(t, 1, writer.Calls)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 2, se.ReadCount)
	assert.Equal(t, 2, se.WriteCount)
	assert.Equal(t, 1, se.CommitCount)
	assert.Equal(t, int64(2), se.Offset())

	stored, err := h.repo.FindStepExecutionByID(context.Background(), se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Equal(t, int64(2), stored.Offset())
}

func TestChunkStep_SkipsMalformedRecord(t *testing.T) {
	h := newHarness(t)
	writer := &test.RecordingWriter{}
	se := h.newStepExecution(t)

	var skipped []model.RawRecord
	listener := &skipRecorder{onRead: func(r model.RawRecord) { skipped = append(skipped, r) }}

	cfg := h.config(test.NewLineSource("Jane,Doe", "OnlyOneField", "John,Smith"), personMapper{}, writer, 10)
	cfg.Skip = skip.Config{SkipLimit: 1}
	cfg.SkipListeners = []port.SkipListener{listener}
	require.NoError(t, h.run(t, cfg, se))

	assert.Equal(t, []any{person{"Jane", "Doe"}, person{"John", "Smith"}}, writer.Items())
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 1, se.SkipCount())
	assert.Equal(t, 1, se.ReadSkipCount)
	assert.Equal(t, int64(3), se.Offset(), "the skipped record is consumed")
	require.Len(t, skipped, 1)
	assert.Equal(t, int64(1), skipped[0].Offset)
	assert.Empty(t, se.Failures)
}

func TestChunkStep_SkipLimitBoundary(t *testing.T) {
	lines := []string{"a", "#1", "b", "#2", "c", "#3", "d"}
	for limit := 0; limit <= 3; limit++ {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			h := newHarness(t)
			writer := &test.RecordingWriter{}
			se := h.newStepExecution(t)

			cfg := h.config(test.NewLineSource(lines...), test.UpperMapper{}, writer, 2)
			cfg.Skip = skip.Config{SkipLimit: limit}
			err := h.run(t, cfg, se)

			if limit >= 3 {
				require.NoError(t, err)
				assert.Equal(t, model.BatchStatusCompleted, se.Status)
				assert.Equal(t, 3, se.SkipCount())
				assert.Equal(t, []string{"A", "B", "C", "D"}, writer.Strings())
				return
			}
			require.Error(t, err)
			assert.Equal(t, model.BatchStatusFailed, se.Status)
			assert.Equal(t, limit, se.SkipCount(), "exactly the tolerated skips are counted")
			if limit > 0 {
				assert.ErrorIs(t, err, exception.ErrSkipLimitExceeded)
			}
			assert.ErrorIs(t, err, exception.ErrMapping)
			assert.NotEmpty(t, se.Failures)
		})
	}
}

func TestChunkStep_RestartIsIdempotent(t *testing.T) {
	lines := letters(9)

	// Uninterrupted reference run.
	ref := newHarness(t)
	refWriter := &test.RecordingWriter{}
	require.NoError(t, ref.run(t, ref.config(test.NewLineSource(lines...), test.UpperMapper{}, refWriter, 2), ref.newStepExecution(t)))

	h := newHarness(t)
	writer := &test.RecordingWriter{}
	failOnce := true
	writer.FailWhen = func(items []any) error {
		for _, it := range items {
			if it == "E" && failOnce {
				failOnce = false
				return errors.New("disk full")
			}
		}
		return nil
	}

	se := h.newStepExecution(t)
	err := h.run(t, h.config(test.NewLineSource(lines...), test.UpperMapper{}, writer, 2), se)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrWrite)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, []string{"A", "B", "C", "D"}, writer.Strings())

	stored, err := h.repo.FindStepExecutionByID(context.Background(), se.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Offset(), "checkpoint stays at the last committed chunk")
	assert.Equal(t, 2, stored.ChunkCount())
	assert.Equal(t, model.BatchStatusFailed, stored.Status)

	source := test.NewLineSource(lines...)
	restarted := h.restart(t, se)
	require.NoError(t, h.run(t, h.config(source, test.UpperMapper{}, writer, 2), restarted))

	assert.Equal(t, []int64{4}, source.Opens)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
	assert.Equal(t, refWriter.Strings(), writer.Strings())
	assert.Equal(t, 5, restarted.ReadCount, "counters start over on restart")
	assert.Equal(t, int64(9), restarted.Offset())
	assert.Equal(t, 5, restarted.ChunkCount())
}

func TestChunkStep_ChunkAtomicity(t *testing.T) {
	lines := letters(7)
	for size := 1; size <= 7; size++ {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			h := newHarness(t)
			writer := &test.RecordingWriter{FailWhen: func(items []any) error {
				for _, it := range items {
					if it == "D" {
						return errors.New("sink unavailable")
					}
				}
				return nil
			}}
			se := h.newStepExecution(t)
			err := h.run(t, h.config(test.NewLineSource(lines...), test.UpperMapper{}, writer, size), se)
			require.Error(t, err)

			committedChunks := 3 / size
			expected := upper(lines[:committedChunks*size])
			assert.Equal(t, expected, writer.Strings())
			assert.Equal(t, int64(len(expected)), se.Offset())
			assert.Equal(t, len(expected), se.WriteCount)
			assert.Equal(t, 1, se.RollbackCount)
		})
	}
}

func TestChunkStep_PreservesOrderWithFiltering(t *testing.T) {
	h := newHarness(t)
	writer := &test.RecordingWriter{}
	se := h.newStepExecution(t)

	cfg := h.config(test.NewLineSource(letters(10)...), test.UpperMapper{}, writer, 3)
	cfg.Processor = test.FuncProcessor(func(ctx context.Context, it any) (any, error) {
		if it == "C" || it == "H" {
			return nil, nil
		}
		return it.(string) + "!", nil
	})
	require.NoError(t, h.run(t, cfg, se))

	assert.Equal(t, []string{"A!", "B!", "D!", "E!", "F!", "G!", "I!", "J!"}, writer.Strings())
	assert.Equal(t, 10, se.ReadCount)
	assert.Equal(t, 2, se.FilterCount)
	assert.Equal(t, 8, se.WriteCount)
	assert.Equal(t, int64(10), se.Offset())
	assert.Equal(t, 3, se.CommitCount)
}

func TestChunkStep_TypedNilResultIsFiltered(t *testing.T) {
	h := newHarness(t)
	writer := &test.RecordingWriter{}
	se := h.newStepExecution(t)

	cfg := h.config(test.NewLineSource("Ada,Lovelace", "Bob,Nil", "Cy,Young"), personMapper{}, writer, 10)
	cfg.Processor = test.FuncProcessor(func(ctx context.Context, it any) (any, error) {
		p := it.(person)
		if p.LastName == "Nil" {
			var none *person
			return none, nil
		}
		return &p, nil
	})
	require.NoError(t, h.run(t, cfg, se))

	require.Len(t, writer.Items(), 2)
	assert.Equal(t, "Ada", writer.Items()[0].(*person).FirstName)
	assert.Equal(t, "Cy", writer.Items()[1].(*person).FirstName)
	assert.Equal(t, 3, se.ReadCount)
	assert.Equal(t, 1, se.FilterCount)
	assert.Equal(t, 2, se.WriteCount)
}

func TestChunkStep_ProcessingErrors(t *testing.T) {
	processor := test.FuncProcessor(func(ctx context.Context, it any) (any, error) {
		if it == "B" {
			return nil, exception.NewProcessingError(it, errors.New("bad value"), true)
		}
		if it == "D" {
			return nil, errors.New("unexpected")
		}
		return it, nil
	})

	t.Run("skippable processing error is skipped", func(t *testing.T) {
		h := newHarness(t)
		writer := &test.RecordingWriter{}
		se := h.newStepExecution(t)
		cfg := h.config(test.NewLineSource("a", "b", "c"), test.UpperMapper{}, writer, 5)
		cfg.Processor = processor
		cfg.Skip = skip.Config{SkipLimit: 5}
		require.NoError(t, h.run(t, cfg, se))
		assert.Equal(t, []string{"A", "C"}, writer.Strings())
		assert.Equal(t, 1, se.ProcessSkipCount)
	})

	t.Run("plain processing error is fatal", func(t *testing.T) {
		h := newHarness(t)
		writer := &test.RecordingWriter{}
		se := h.newStepExecution(t)
		cfg := h.config(test.NewLineSource("a", "c", "d", "e"), test.UpperMapper{}, writer, 2)
		cfg.Processor = processor
		cfg.Skip = skip.Config{SkipLimit: 5}
		err := h.run(t, cfg, se)
		require.Error(t, err)
		assert.ErrorIs(t, err, exception.ErrProcessing)
		assert.Equal(t, []string{"A", "C"}, writer.Strings())
		assert.Equal(t, int64(2), se.Offset())
	})

	t.Run("configured exception name makes it skippable", func(t *testing.T) {
		h := newHarness(t)
		writer := &test.RecordingWriter{}
		se := h.newStepExecution(t)
		cfg := h.config(test.NewLineSource("a", "c", "d", "e"), test.UpperMapper{}, writer, 2)
		cfg.Processor = processor
		cfg.Skip = skip.Config{SkipLimit: 5, SkippableExceptions: []string{"ProcessingError"}}
		require.NoError(t, h.run(t, cfg, se))
		assert.Equal(t, []string{"A", "C", "E"}, writer.Strings())
	})
}

func TestChunkStep_ScanSkipsFailingItem(t *testing.T) {
	h := newHarness(t)
	writer := &test.RecordingWriter{FailWhen: func(items []any) error {
		for _, it := range items {
			if it == "C" {
				return exception.NewBatchError("writer", "rejected item", nil, true, false)
			}
		}
		return nil
	}}
	var skippedWrites []any
	se := h.newStepExecution(t)
	cfg := h.config(test.NewLineSource(letters(6)...), test.UpperMapper{}, writer, 3)
	cfg.Skip = skip.Config{SkipLimit: 1}
	cfg.SkipListeners = []port.SkipListener{&skipRecorder{onWrite: func(it any) { skippedWrites = append(skippedWrites, it) }}}
	require.NoError(t, h.run(t, cfg, se))

	assert.Equal(t, []string{"A", "B", "D", "E", "F"}, writer.Strings())
	assert.Equal(t, []any{"C"}, skippedWrites)
	assert.Equal(t, 1, se.WriteSkipCount)
	assert.Equal(t, 5, se.WriteCount)
	assert.Equal(t, int64(6), se.Offset())
	// a, b, the offset advance past c, then the second chunk.
	assert.Equal(t, 4, se.CommitCount)
	assert.Equal(t, 2, se.RollbackCount)
}

func TestChunkStep_RetriesTransientWriteFailure(t *testing.T) {
	h := newHarness(t)
	failures := 2
	writer := &test.RecordingWriter{FailWhen: func(items []any) error {
		if failures > 0 {
			failures--
			return errors.New("connection reset by peer")
		}
		return nil
	}}
	retries := &retryRecorder{}
	se := h.newStepExecution(t)
	cfg := h.config(test.NewLineSource("a", "b"), test.UpperMapper{}, writer, 5)
	cfg.Retry = retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond}
	cfg.RetryItemListeners = []port.RetryItemListener{retries}
	require.NoError(t, h.run(t, cfg, se))

	assert.Equal(t, []string{"A", "B"}, writer.Strings())
	assert.Equal(t, 2, retries.writes)
	assert.Equal(t, 2, se.RollbackCount)
	assert.Equal(t, 1, se.CommitCount)
}

func TestChunkStep_StopsAtChunkBoundary(t *testing.T) {
	h := newHarness(t)
	writer := &test.RecordingWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	se := h.newStepExecution(t)
	source := test.NewLineSource(letters(6)...)
	cfg := h.config(source, test.UpperMapper{}, writer, 2)
	cfg.ChunkListeners = []port.ChunkListener{&chunkRecorder{afterChunk: cancel}}
	step, err := item.NewChunkStep("step1", cfg)
	require.NoError(t, err)

	require.NoError(t, step.Execute(ctx, h.je, se))
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, []string{"A", "B"}, writer.Strings())
	assert.Equal(t, 1, source.Closes)

	stored, err := h.repo.FindStepExecutionByID(context.Background(), se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
	assert.Equal(t, int64(2), stored.Offset())

	restarted := h.restart(t, se)
	source2 := test.NewLineSource(letters(6)...)
	require.NoError(t, h.run(t, h.config(source2, test.UpperMapper{}, writer, 2), restarted))
	assert.Equal(t, []int64{2}, source2.Opens)
	assert.Equal(t, upper(letters(6)), writer.Strings())
}

func TestChunkStep_CommitFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	writer := &test.RecordingWriter{}
	mtx := &test.MockTx{}
	tm := &test.MockTxManager{}
	tm.On("Begin", mock.Anything, mock.Anything).Return(mtx, nil)
	tm.On("Commit", mtx).Return(errors.New("deadlock detected")).Once()
	tm.On("Commit", mtx).Return(nil)

	se := h.newStepExecution(t)
	cfg := h.config(test.NewLineSource("a", "b", "c"), test.UpperMapper{}, writer, 2)
	cfg.TxManager = tm
	err := h.run(t, cfg, se)
	require.Error(t, err)

	assert.Empty(t, writer.Items())
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, int64(0), se.Offset())
	assert.Equal(t, 0, se.WriteCount)
	assert.Equal(t, 1, se.RollbackCount)
	tm.AssertNumberOfCalls(t, "Begin", 1)
	tm.AssertNotCalled(t, "Rollback", mock.Anything)
}

func TestChunkStep_SourceReadFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	writer := &test.RecordingWriter{}
	source := test.NewLineSource(letters(5)...)
	source.FailAt = 3
	source.FailErr = errors.New("io error")

	var chunkErrors int
	se := h.newStepExecution(t)
	cfg := h.config(source, test.UpperMapper{}, writer, 2)
	cfg.Skip = skip.Config{SkipLimit: 10}
	cfg.ChunkListeners = []port.ChunkListener{&chunkRecorder{afterError: func() { chunkErrors++ }}}
	err := h.run(t, cfg, se)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "io error")
	assert.Equal(t, []string{"A", "B"}, writer.Strings())
	assert.Equal(t, int64(2), se.Offset())
	assert.Equal(t, 1, chunkErrors)
	assert.Equal(t, 1, source.Closes)
}

func TestNewChunkStep_Validation(t *testing.T) {
	h := newHarness(t)
	valid := h.config(test.NewLineSource(), test.UpperMapper{}, &test.RecordingWriter{}, 1)

	tests := map[string]func(c *item.ChunkStepConfig){
		"zero chunk size":        func(c *item.ChunkStepConfig) { c.ChunkSize = 0 },
		"missing writer":         func(c *item.ChunkStepConfig) { c.Writer = nil },
		"missing repository":     func(c *item.ChunkStepConfig) { c.JobRepository = nil },
		"negative skip limit":    func(c *item.ChunkStepConfig) { c.Skip.SkipLimit = -1 },
		"unknown skippable name": func(c *item.ChunkStepConfig) { c.Skip.SkippableExceptions = []string{"NoSuchError"} },
		"unknown retryable name": func(c *item.ChunkStepConfig) { c.Retry.RetryableExceptions = []string{"NoSuchError"} },
		"unknown isolation":      func(c *item.ChunkStepConfig) { c.IsolationLevel = "SNAPSHOT" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			_, err := item.NewChunkStep("step1", cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, exception.ErrConfiguration)
		})
	}

	_, err := item.NewChunkStep("", valid)
	assert.ErrorIs(t, err, exception.ErrConfiguration)

	cfg := valid
	cfg.IsolationLevel = "SERIALIZABLE"
	step, err := item.NewChunkStep("step1", cfg)
	require.NoError(t, err)
	assert.Equal(t, "step1", step.StepName())
	assert.Equal(t, 1, step.ChunkSize())
	assert.NotNil(t, step.GetTransactionOptions())
}

type skipRecorder struct {
	mu      sync.Mutex
	onRead  func(model.RawRecord)
	onWrite func(any)
}

func (r *skipRecorder) OnSkipRead(ctx context.Context, record model.RawRecord, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onRead != nil {
		r.onRead(record)
	}
}

func (r *skipRecorder) OnSkipProcess(ctx context.Context, it any, err error) {}

func (r *skipRecorder) OnSkipWrite(ctx context.Context, it any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onWrite != nil {
		r.onWrite(it)
	}
}

type retryRecorder struct {
	processes int
	writes    int
}

func (r *retryRecorder) OnRetryProcess(ctx context.Context, it any, err error) { r.processes++ }
func (r *retryRecorder) OnRetryWrite(ctx context.Context, items []any, err error) {
	r.writes++
}

type chunkRecorder struct {
	afterChunk func()
	afterError func()
}

func (r *chunkRecorder) BeforeChunk(ctx context.Context, se *model.StepExecution) {}
func (r *chunkRecorder) AfterChunk(ctx context.Context, se *model.StepExecution) {
	if r.afterChunk != nil {
		r.afterChunk()
	}
}
func (r *chunkRecorder) AfterChunkError(ctx context.Context, se *model.StepExecution, err error) {
	if r.afterError != nil {
		r.afterError()
	}
}
