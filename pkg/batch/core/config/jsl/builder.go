package jsl

import (
	"fmt"
	"time"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	config "github.com/jiawu-lu/lubatch/pkg/batch/core/config"
	repository "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/job/runner"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/job/split"
	metrics "github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/engine/step/item"
	"github.com/jiawu-lu/lubatch/pkg/batch/engine/step/retry"
	"github.com/jiawu-lu/lubatch/pkg/batch/engine/step/skip"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// BuildContext carries what component builders may need.
type BuildContext struct {
	Config         *config.Config
	JobRepository  repository.JobRepository
	TxManager      tx.TransactionManager
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
}

// SourceBuilder builds a RecordSource from its job definition properties.
type SourceBuilder func(bc BuildContext, properties map[string]string) (port.RecordSource, error)

// MapperBuilder builds a RecordMapper.
type MapperBuilder func(bc BuildContext, properties map[string]string) (port.RecordMapper, error)

// ProcessorBuilder builds an ItemProcessor.
type ProcessorBuilder func(bc BuildContext, properties map[string]string) (port.ItemProcessor, error)

// WriterBuilder builds an ItemWriter.
type WriterBuilder func(bc BuildContext, properties map[string]string) (port.ItemWriter, error)

// ListenerBuilder builds a listener. The result must implement at least one listener interface.
type ListenerBuilder func(bc BuildContext, properties map[string]string) (any, error)

// IncrementerBuilder builds a JobParametersIncrementer.
type IncrementerBuilder func(bc BuildContext, properties map[string]string) (port.JobParametersIncrementer, error)

// Components is the table of named component builders a job definition refers to.
type Components struct {
	Sources      map[string]SourceBuilder
	Mappers      map[string]MapperBuilder
	Processors   map[string]ProcessorBuilder
	Writers      map[string]WriterBuilder
	Listeners    map[string]ListenerBuilder
	Incrementers map[string]IncrementerBuilder
}

// Builder converts job definitions into runnable jobs.
type Builder struct {
	bc         BuildContext
	components Components
}

// NewBuilder creates a Builder resolving references against components.
func NewBuilder(bc BuildContext, components Components) *Builder {
	return &Builder{bc: bc, components: components}
}

// Build converts def into a FlowJob.
func (b *Builder) Build(def *Job) (*runner.FlowJob, error) {
	elements := make([]runner.FlowElement, 0, len(def.Flow.Elements))
	for _, e := range def.Flow.Elements {
		var fe port.FlowElement
		switch {
		case e.Step != nil:
			step, err := b.buildStep(def.ID, e.Step)
			if err != nil {
				return nil, err
			}
			fe = step
		case e.Split != nil:
			steps := make([]port.Step, 0, len(e.Split.Steps))
			for i := range e.Split.Steps {
				step, err := b.buildStep(def.ID, &e.Split.Steps[i])
				if err != nil {
					return nil, err
				}
				steps = append(steps, step)
			}
			fe = split.NewConcreteSplit(e.Split.ID, steps...)
		}
		elements = append(elements, runner.FlowElement{Element: fe, AllowFailure: e.AllowFailure})
	}

	var jobListeners []port.JobExecutionListener
	for _, ref := range def.Listeners {
		l, err := b.listener(def.ID, ref)
		if err != nil {
			return nil, err
		}
		jl, ok := l.(port.JobExecutionListener)
		if !ok {
			return nil, exception.NewConfigurationError(fmt.Sprintf("job '%s': listener '%s' is not a JobExecutionListener", def.ID, ref.Ref), nil)
		}
		jobListeners = append(jobListeners, jl)
	}

	var inc port.JobParametersIncrementer
	if def.Incrementer.Ref != "" {
		builder, ok := b.components.Incrementers[def.Incrementer.Ref]
		if !ok {
			return nil, unknownRef(def.ID, "incrementer", def.Incrementer.Ref)
		}
		var err error
		if inc, err = builder(b.bc, def.Incrementer.Properties); err != nil {
			return nil, buildFailed(def.ID, "incrementer", def.Incrementer.Ref, err)
		}
	}

	job, err := runner.NewFlowJob(def.Name, runner.FlowJobConfig{
		Elements:       elements,
		JobRepository:  b.bc.JobRepository,
		Listeners:      jobListeners,
		Incrementer:    inc,
		RequiredParams: def.RequiredParams,
		MetricRecorder: b.bc.MetricRecorder,
		Tracer:         b.bc.Tracer,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("Built job '%s' with %d flow elements.", def.Name, len(elements))
	return job, nil
}

func (b *Builder) buildStep(jobID string, def *Step) (*item.ChunkStep, error) {
	if def.ID == "" {
		return nil, exception.NewConfigurationError(fmt.Sprintf("job '%s': step requires an id", jobID), nil)
	}
	where := jobID + "/" + def.ID

	sourceBuilder, ok := b.components.Sources[def.Source.Ref]
	if !ok {
		return nil, unknownRef(where, "source", def.Source.Ref)
	}
	source, err := sourceBuilder(b.bc, def.Source.Properties)
	if err != nil {
		return nil, buildFailed(where, "source", def.Source.Ref, err)
	}

	mapperBuilder, ok := b.components.Mappers[def.Mapper.Ref]
	if !ok {
		return nil, unknownRef(where, "mapper", def.Mapper.Ref)
	}
	mapper, err := mapperBuilder(b.bc, def.Mapper.Properties)
	if err != nil {
		return nil, buildFailed(where, "mapper", def.Mapper.Ref, err)
	}

	var processor port.ItemProcessor
	if def.Processor.Ref != "" {
		processorBuilder, ok := b.components.Processors[def.Processor.Ref]
		if !ok {
			return nil, unknownRef(where, "processor", def.Processor.Ref)
		}
		if processor, err = processorBuilder(b.bc, def.Processor.Properties); err != nil {
			return nil, buildFailed(where, "processor", def.Processor.Ref, err)
		}
	}

	writerBuilder, ok := b.components.Writers[def.Writer.Ref]
	if !ok {
		return nil, unknownRef(where, "writer", def.Writer.Ref)
	}
	writer, err := writerBuilder(b.bc, def.Writer.Properties)
	if err != nil {
		return nil, buildFailed(where, "writer", def.Writer.Ref, err)
	}

	cfg := item.ChunkStepConfig{
		Source:         source,
		Mapper:         mapper,
		Processor:      processor,
		Writer:         writer,
		ChunkSize:      def.Chunk.ItemCount,
		IsolationLevel: def.Chunk.IsolationLevel,
		Skip:           b.skipConfig(def.Skip),
		Retry:          b.retryConfig(def.Retry),
		JobRepository:  b.bc.JobRepository,
		TxManager:      b.bc.TxManager,
		MetricRecorder: b.bc.MetricRecorder,
		Tracer:         b.bc.Tracer,
	}
	if cfg.ChunkSize == 0 && b.bc.Config != nil {
		cfg.ChunkSize = b.bc.Config.Lubatch.Batch.ChunkSize
	}
	for _, names := range [][]string{cfg.Skip.SkippableExceptions, cfg.Skip.NoSkipExceptions, cfg.Retry.RetryableExceptions} {
		for _, name := range names {
			if !exception.IsErrorTypeRegistered(name) {
				return nil, exception.NewConfigurationError(fmt.Sprintf("step '%s' references unknown exception class '%s'", where, name), nil)
			}
		}
	}

	for _, ref := range def.Listeners {
		l, err := b.listener(where, ref)
		if err != nil {
			return nil, err
		}
		registered := false
		if sl, ok := l.(port.StepExecutionListener); ok {
			cfg.StepExecutionListeners = append(cfg.StepExecutionListeners, sl)
			registered = true
		}
		if cl, ok := l.(port.ChunkListener); ok {
			cfg.ChunkListeners = append(cfg.ChunkListeners, cl)
			registered = true
		}
		if kl, ok := l.(port.SkipListener); ok {
			cfg.SkipListeners = append(cfg.SkipListeners, kl)
			registered = true
		}
		if rl, ok := l.(port.RetryItemListener); ok {
			cfg.RetryItemListeners = append(cfg.RetryItemListeners, rl)
			registered = true
		}
		if !registered {
			return nil, exception.NewConfigurationError(fmt.Sprintf("step '%s': listener '%s' implements no step listener interface", where, ref.Ref), nil)
		}
	}

	return item.NewChunkStep(def.ID, cfg)
}

func (b *Builder) listener(where string, ref ComponentRef) (any, error) {
	builder, ok := b.components.Listeners[ref.Ref]
	if !ok {
		return nil, unknownRef(where, "listener", ref.Ref)
	}
	l, err := builder(b.bc, ref.Properties)
	if err != nil {
		return nil, buildFailed(where, "listener", ref.Ref, err)
	}
	return l, nil
}

// skipConfig layers the step's skip settings over the configured defaults.
func (b *Builder) skipConfig(def *SkipPolicy) skip.Config {
	var sc skip.Config
	if b.bc.Config != nil {
		s := b.bc.Config.Lubatch.Batch.ItemSkip
		sc = skip.Config{SkipLimit: s.SkipLimit, SkippableExceptions: s.SkippableExceptions, NoSkipExceptions: s.NoSkipExceptions}
	}
	if def == nil {
		return sc
	}
	if def.Limit != nil {
		sc.SkipLimit = *def.Limit
	}
	if def.SkippableExceptionClasses != nil {
		sc.SkippableExceptions = def.SkippableExceptionClasses
	}
	if def.NoSkipExceptionClasses != nil {
		sc.NoSkipExceptions = def.NoSkipExceptionClasses
	}
	return sc
}

// retryConfig layers the step's retry settings over the configured defaults.
func (b *Builder) retryConfig(def *RetryPolicy) retry.Config {
	var rc retry.Config
	if b.bc.Config != nil {
		r := b.bc.Config.Lubatch.Batch.ItemRetry
		rc = retry.Config{
			MaxAttempts:         r.MaxAttempts,
			InitialInterval:     time.Duration(r.InitialInterval) * time.Millisecond,
			Multiplier:          r.Factor,
			MaxInterval:         time.Duration(r.MaxInterval) * time.Millisecond,
			RetryableExceptions: r.RetryableExceptions,
		}
	}
	if def == nil {
		return rc
	}
	if def.MaxAttempts != nil {
		rc.MaxAttempts = *def.MaxAttempts
	}
	if def.InitialIntervalMillis != nil {
		rc.InitialInterval = time.Duration(*def.InitialIntervalMillis) * time.Millisecond
	}
	if def.RetryableExceptionClasses != nil {
		rc.RetryableExceptions = def.RetryableExceptionClasses
	}
	return rc
}

func unknownRef(where, kind, ref string) error {
	if ref == "" {
		return exception.NewConfigurationError(fmt.Sprintf("'%s': %s reference is required", where, kind), nil)
	}
	return exception.NewConfigurationError(fmt.Sprintf("'%s': %s '%s' is not registered", where, kind, ref), nil)
}

func buildFailed(where, kind, ref string, err error) error {
	return exception.NewConfigurationError(fmt.Sprintf("'%s': failed to build %s '%s'", where, kind, ref), err)
}
