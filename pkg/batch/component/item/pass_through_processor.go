// Package item provides generic item processors and writers.
package item

import (
	"context"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// PassThroughProcessor is an implementation of [port.ItemProcessor] that returns the input item as the output item as is.
type PassThroughProcessor struct{}

var _ port.ItemProcessor = PassThroughProcessor{}

// NewPassThroughProcessor creates a new instance of [PassThroughProcessor].
func NewPassThroughProcessor() PassThroughProcessor {
	return PassThroughProcessor{}
}

// Process returns the input item as is.
func (PassThroughProcessor) Process(ctx context.Context, item any) (any, error) {
	logger.Debugf("PassThroughProcessor: Processing item: %+v", item)
	return item, nil
}

// LoggingProcessor logs every item at INFO and passes it through.
type LoggingProcessor struct {
	format string
}

var _ port.ItemProcessor = (*LoggingProcessor)(nil)

// NewLoggingProcessor creates a LoggingProcessor. format receives the item as its only
// argument and defaults to "Processing item: %+v".
func NewLoggingProcessor(format string) *LoggingProcessor {
	if format == "" {
		format = "Processing item: %+v"
	}
	return &LoggingProcessor{format: format}
}

// Process logs item and returns it unchanged.
func (p *LoggingProcessor) Process(ctx context.Context, item any) (any, error) {
	logger.Infof(p.format, item)
	return item, nil
}
