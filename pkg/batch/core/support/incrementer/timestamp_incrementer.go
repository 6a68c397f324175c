package incrementer

import (
	"fmt"
	"strconv"
	"time"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// TimestampIncrementer sets a parameter to the current Unix time in milliseconds.
type TimestampIncrementer struct {
	name string
	now  func() time.Time
}

// NewTimestampIncrementer creates a TimestampIncrementer for the parameter name ("timestamp" when empty).
func NewTimestampIncrementer(name string) *TimestampIncrementer {
	if name == "" {
		name = "timestamp"
	}
	return &TimestampIncrementer{name: name, now: time.Now}
}

// GetNext copies params with the timestamp parameter set to now.
func (i *TimestampIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	nextParams := params.Copy()
	timestamp := i.now().UnixMilli()
	nextParams.Put(i.name, strconv.FormatInt(timestamp, 10))
	logger.Debugf("JobParametersIncrementer '%s': Setting '%s' to %d.", i.name, i.name, timestamp)
	return nextParams
}

// String returns the string representation of TimestampIncrementer.
func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}

var _ port.JobParametersIncrementer = (*TimestampIncrementer)(nil)
