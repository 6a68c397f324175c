package jsl_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/application/usecase"
	config "github.com/jiawu-lu/lubatch/pkg/batch/core/config"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/config/jsl"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/job/runner"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/support/incrementer"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	"github.com/jiawu-lu/lubatch/pkg/batch/test"
)

const jobYAML = `
id: importUserJob
name: importUserJob
incrementer:
  ref: runIdIncrementer
listeners:
  - ref: events
flow:
  elements:
    - step:
        id: step1
        source:
          ref: lines
          properties:
            lines: "a|b|#c|d"
        mapper:
          ref: upper
        writer:
          ref: recording
        chunk:
          item-count: 2
        skip:
          skip-limit: 1
        listeners:
          - ref: events
    - split:
        id: fanout
        steps:
          - id: left
            source: {ref: lines, properties: {lines: "x"}}
            mapper: {ref: upper}
            writer: {ref: recording}
          - id: right
            source: {ref: lines, properties: {lines: "y"}}
            mapper: {ref: upper}
            writer: {ref: recording}
`

// events records job and chunk callbacks.
type events struct {
	mu     sync.Mutex
	log    []string
	chunks int
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) BeforeJob(ctx context.Context, je *model.JobExecution) { e.add("beforeJob") }
func (e *events) AfterJob(ctx context.Context, je *model.JobExecution) {
	e.add("afterJob:" + je.Status.String())
}
func (e *events) BeforeChunk(ctx context.Context, se *model.StepExecution) {}
func (e *events) AfterChunk(ctx context.Context, se *model.StepExecution) {
	e.mu.Lock()
	e.chunks++
	e.mu.Unlock()
}
func (e *events) AfterChunkError(ctx context.Context, se *model.StepExecution, err error) {}

type fixture struct {
	repo    *inmemory.InMemoryJobRepository
	builder *jsl.Builder
	writer  *test.RecordingWriter
	events  *events
}

func newFixture() *fixture {
	cfg := config.NewConfig()
	repo := inmemory.NewInMemoryJobRepository()
	f := &fixture{repo: repo, writer: &test.RecordingWriter{}, events: &events{}}
	bc := jsl.BuildContext{Config: cfg, JobRepository: repo, TxManager: tx.NewResourcelessTransactionManager()}
	f.builder = jsl.NewBuilder(bc, jsl.Components{
		Sources: map[string]jsl.SourceBuilder{
			"lines": func(bc jsl.BuildContext, props map[string]string) (port.RecordSource, error) {
				return test.NewLineSource(strings.Split(props["lines"], "|")...), nil
			},
		},
		Mappers: map[string]jsl.MapperBuilder{
			"upper": func(jsl.BuildContext, map[string]string) (port.RecordMapper, error) { return test.UpperMapper{}, nil },
		},
		Writers: map[string]jsl.WriterBuilder{
			"recording": func(jsl.BuildContext, map[string]string) (port.ItemWriter, error) { return f.writer, nil },
			"broken": func(jsl.BuildContext, map[string]string) (port.ItemWriter, error) {
				return nil, errors.New("no sink")
			},
		},
		Listeners: map[string]jsl.ListenerBuilder{
			"events":  func(jsl.BuildContext, map[string]string) (any, error) { return f.events, nil },
			"nothing": func(jsl.BuildContext, map[string]string) (any, error) { return struct{}{}, nil },
		},
		Incrementers: map[string]jsl.IncrementerBuilder{
			"runIdIncrementer": func(jsl.BuildContext, map[string]string) (port.JobParametersIncrementer, error) {
				return incrementer.NewRunIDIncrementer(""), nil
			},
		},
	})
	return f
}

func TestLoadJSLDefinitionFromBytes(t *testing.T) {
	def, err := jsl.LoadJSLDefinitionFromBytes([]byte(jobYAML))
	require.NoError(t, err)
	assert.Equal(t, "importUserJob", def.Name)
	require.Len(t, def.Flow.Elements, 2)
	assert.Equal(t, "step1", def.Flow.Elements[0].Step.ID)
	assert.Equal(t, 1, *def.Flow.Elements[0].Step.Skip.Limit)
	assert.Len(t, def.Flow.Elements[1].Split.Steps, 2)

	for name, bad := range map[string]string{
		"no id":          "flow:\n  elements:\n    - step: {id: s}\n",
		"no elements":    "id: j\nflow:\n  elements: []\n",
		"step and split": "id: j\nflow:\n  elements:\n    - step: {id: s}\n      split: {id: p}\n",
		"unknown key":    "id: j\nflwo: {}\n",
	} {
		_, err := jsl.LoadJSLDefinitionFromBytes([]byte(bad))
		assert.True(t, errors.Is(err, exception.ErrConfiguration), "%s: %v", name, err)
	}
}

func TestBuilder_BuildsRunnableJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	def, err := jsl.LoadJSLDefinitionFromBytes([]byte(jobYAML))
	require.NoError(t, err)

	job, err := f.builder.Build(def)
	require.NoError(t, err)
	assert.NotNil(t, job.Incrementer())

	launcher := usecase.NewSimpleJobLauncher(f.repo, runner.NewSimpleJobRunner(f.repo))
	je, err := launcher.Launch(ctx, job, model.NewJobParameters())
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)

	written := f.writer.Strings()
	assert.Equal(t, []string{"A", "B", "D"}, written[:3], "step1 output comes first, in order")
	assert.ElementsMatch(t, []string{"X", "Y"}, written[3:])

	step1 := je.FindStepExecution("step1")
	require.NotNil(t, step1)
	assert.Equal(t, 1, step1.ReadSkipCount)
	assert.Equal(t, 2, f.events.chunks, "step-level listener registered as chunk listener")
	assert.Equal(t, []string{"beforeJob", "afterJob:COMPLETED"}, f.events.log)
}

func TestBuilder_Errors(t *testing.T) {
	f := newFixture()
	tests := map[string]string{
		"unknown source": `
id: j
flow:
  elements:
    - step: {id: s, source: {ref: nope}, mapper: {ref: upper}, writer: {ref: recording}}
`,
		"missing writer": `
id: j
flow:
  elements:
    - step: {id: s, source: {ref: lines}, mapper: {ref: upper}}
`,
		"writer build failure": `
id: j
flow:
  elements:
    - step: {id: s, source: {ref: lines}, mapper: {ref: upper}, writer: {ref: broken}}
`,
		"listener without interface": `
id: j
flow:
  elements:
    - step: {id: s, source: {ref: lines}, mapper: {ref: upper}, writer: {ref: recording}, listeners: [{ref: nothing}]}
`,
		"unknown exception class": `
id: j
flow:
  elements:
    - step:
        id: s
        source: {ref: lines}
        mapper: {ref: upper}
        writer: {ref: recording}
        skip: {skippable-exception-classes: [Bogus]}
`,
		"duplicate step": `
id: j
flow:
  elements:
    - step: {id: s, source: {ref: lines}, mapper: {ref: upper}, writer: {ref: recording}}
    - step: {id: s, source: {ref: lines}, mapper: {ref: upper}, writer: {ref: recording}}
`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			def, err := jsl.LoadJSLDefinitionFromBytes([]byte(text))
			require.NoError(t, err)
			_, err = f.builder.Build(def)
			require.Error(t, err)
			assert.True(t, errors.Is(err, exception.ErrConfiguration), "got %v", err)
		})
	}
}
