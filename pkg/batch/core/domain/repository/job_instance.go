package repository

import (
	"context"
	"errors"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// JobInstance defines operations for persisting and retrieving job instance metadata.
type JobInstance interface {
	// SaveJobInstance persists a new JobInstance.
	SaveJobInstance(ctx context.Context, instance *model.JobInstance) error

	// FindJobInstanceByID finds a JobInstance by its ID.
	FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error)

	// FindJobInstanceByJobNameAndParameters finds a JobInstance by job name and exact parameters.
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	// FindLatestJobInstance returns the instance of jobName with the highest run id.
	FindLatestJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error)

	// GetJobNames returns a list of all distinct job names.
	GetJobNames(ctx context.Context) ([]string, error)
}

// ErrJobInstanceNotFound is returned when JobInstance is not found.
var ErrJobInstanceNotFound = errors.New("job instance not found")

func init() {
	exception.RegisterErrorType("ErrJobInstanceNotFound", ErrJobInstanceNotFound)
}
