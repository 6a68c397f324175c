package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
)

// SaveJobInstance persists a new JobInstance.
// It fails if the ID, or the (job name, run id) pair of a run-id instance, is already taken.
func (r *InMemoryJobRepository) SaveJobInstance(ctx context.Context, jobInstance *model.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobInstances[jobInstance.ID]; exists {
		return fmt.Errorf("JobInstance with ID %s already exists", jobInstance.ID)
	}
	for _, ji := range r.jobInstances {
		if ji.JobName == jobInstance.JobName && ji.ParametersHash == jobInstance.ParametersHash {
			return fmt.Errorf("JobInstance for job '%s' with identical parameters already exists (ID: %s)", ji.JobName, ji.ID)
		}
	}
	r.jobInstances[jobInstance.ID] = cloneJobInstance(jobInstance)
	return nil
}

// FindJobInstanceByID finds a JobInstance by its ID.
func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobInstance, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	return cloneJobInstance(jobInstance), nil
}

// FindJobInstanceByJobNameAndParameters finds a JobInstance by job name and exact parameters.
func (r *InMemoryJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.ParametersHash == hash {
			return cloneJobInstance(ji), nil
		}
	}
	return nil, repository.ErrJobInstanceNotFound
}

// FindLatestJobInstance returns the instance of jobName with the highest run id.
// Ties (instances launched without a run id) are broken by creation time.
func (r *InMemoryJobRepository) FindLatestJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.JobInstance
	for _, ji := range r.jobInstances {
		if ji.JobName != jobName {
			continue
		}
		if latest == nil || ji.RunID > latest.RunID || (ji.RunID == latest.RunID && ji.CreateTime.After(latest.CreateTime)) {
			latest = ji
		}
	}
	if latest == nil {
		return nil, repository.ErrJobInstanceNotFound
	}
	return cloneJobInstance(latest), nil
}

// GetJobNames returns the distinct job names, sorted.
func (r *InMemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, ji := range r.jobInstances {
		if _, ok := seen[ji.JobName]; !ok {
			seen[ji.JobName] = struct{}{}
			names = append(names, ji.JobName)
		}
	}
	sort.Strings(names)
	return names, nil
}
