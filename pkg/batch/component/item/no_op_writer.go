package item

import (
	"context"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// NoOpWriter is an implementation of [port.ItemWriter] that performs no operation.
type NoOpWriter struct{}

var _ port.ItemWriter = NoOpWriter{}

// NewNoOpWriter creates a new instance of [NoOpWriter].
func NewNoOpWriter() NoOpWriter {
	return NoOpWriter{}
}

// Write performs no operation, effectively discarding the items.
func (NoOpWriter) Write(ctx context.Context, t tx.Tx, items []any) error {
	logger.Debugf("NoOpWriter: Write called with %d items.", len(items))
	return nil
}
