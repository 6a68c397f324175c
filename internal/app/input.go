package app

import (
	"context"
	"fmt"

	storage "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage"
	"github.com/jiawu-lu/lubatch/pkg/batch/component/step/reader"
	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// InputParameter is the job parameter naming the input resource of a run.
const InputParameter = "input.path"

// InputResourceKey is the step ExecutionContext key holding the resource the step reads.
// It is checkpointed with every chunk, so a restart reopens the same input.
const InputResourceKey = "batch.input.resource"

// inputSource is a port.RecordSource that picks its resource when it is opened:
// the resource checkpointed by an earlier attempt, then the InputParameter of the
// running execution, then the configured resource.
type inputSource struct {
	app      *App
	name     string
	fallback string
	cfg      reader.FlatFileSourceConfig

	current *reader.FlatFileSource
}

var _ port.RecordSource = (*inputSource)(nil)

// Open resolves the resource for the running step and opens it at offset. A source
// left open by an earlier attempt is closed first.
func (s *inputSource) Open(ctx context.Context, offset int64) error {
	if err := s.Close(ctx); err != nil {
		return err
	}

	se := port.GetStepExecutionFromContext(ctx)
	resource := s.resource(se)
	if resource == "" {
		return exception.NewConfigurationError(fmt.Sprintf("%s: no input resource configured", s.name), nil)
	}

	store, bucket, object, err := s.app.inputLocation(context.WithoutCancel(ctx), resource)
	if err != nil {
		return err
	}
	cfg := s.cfg
	cfg.Bucket, cfg.Object = bucket, object
	source, err := reader.NewFlatFileSource(s.name, store, cfg)
	if err != nil {
		return err
	}
	if err := source.Open(ctx, offset); err != nil {
		return err
	}
	s.current = source

	logger.Debugf("%s: reading '%s' from record %d.", s.name, resource, offset)
	if se != nil {
		se.ExecutionContext.Put(InputResourceKey, resource)
	}
	return nil
}

// resource returns the resource to open for se, in order of precedence.
func (s *inputSource) resource(se *model.StepExecution) string {
	if se == nil {
		return s.fallback
	}
	if r, ok := se.ExecutionContext.GetString(InputResourceKey); ok && r != "" {
		return r
	}
	if se.JobExecution != nil {
		if r, ok := se.JobExecution.Parameters.GetString(InputParameter); ok && r != "" {
			return r
		}
	}
	return s.fallback
}

func (s *inputSource) Next(ctx context.Context) (model.RawRecord, error) {
	if s.current == nil {
		return model.RawRecord{}, fmt.Errorf("%s: not open", s.name)
	}
	return s.current.Next(ctx)
}

func (s *inputSource) Close(ctx context.Context) error {
	if s.current == nil {
		return nil
	}
	err := s.current.Close(ctx)
	s.current = nil
	return err
}

// checkInputScheme rejects resources no storage connection can serve.
func checkInputScheme(resource string) error {
	switch loc := storage.ParseLocation(resource); loc.Scheme {
	case "", storage.SchemeGCS:
		return nil
	default:
		return exception.NewConfigurationError(fmt.Sprintf("input '%s': unsupported scheme '%s'", resource, loc.Scheme), nil)
	}
}
