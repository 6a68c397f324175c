// Package incrementer provides JobParametersIncrementer implementations used to
// make each launch of a job a distinct JobInstance.
package incrementer

import (
	"fmt"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// RunIDIncrementer sets the run id parameter to one more than the run id of the previous launch.
// It sets it to 1 when there was no previous launch.
type RunIDIncrementer struct {
	name string
}

// NewRunIDIncrementer creates a RunIDIncrementer for the parameter name (model.RunIDKey when empty).
func NewRunIDIncrementer(name string) *RunIDIncrementer {
	if name == "" {
		name = model.RunIDKey
	}
	return &RunIDIncrementer{name: name}
}

// GetNext copies params with the run id incremented.
func (i *RunIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	nextParams := params.Copy()

	currentRunID, ok := params.GetInt64(i.name)
	if !ok {
		nextParams.Put(i.name, int64(1))
		logger.Debugf("JobParametersIncrementer '%s': '%s' not found, setting to 1.", i.name, i.name)
		return nextParams
	}
	nextParams.Put(i.name, currentRunID+1)
	logger.Debugf("JobParametersIncrementer '%s': Incrementing '%s' from %d to %d.", i.name, i.name, currentRunID, currentRunID+1)
	return nextParams
}

// String returns the string representation of RunIDIncrementer.
func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[name=%s]", i.name)
}

var _ port.JobParametersIncrementer = (*RunIDIncrementer)(nil)
