// Package writer provides port.ItemWriter implementations for the console, GORM tables,
// parquet part files and MongoDB collections.
package writer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// ConsoleWriter prints every item of a committed chunk, one per line.
// Items of a chunk that rolls back are never printed.
type ConsoleWriter struct {
	mu     sync.Mutex
	out    io.Writer
	format string
}

var _ port.ItemWriter = (*ConsoleWriter)(nil)

// NewConsoleWriter creates a ConsoleWriter printing to out (stdout when nil).
// format receives the item and defaults to "%+v\n".
func NewConsoleWriter(out io.Writer, format string) *ConsoleWriter {
	if out == nil {
		out = os.Stdout
	}
	if format == "" {
		format = "%+v\n"
	}
	return &ConsoleWriter{out: out, format: format}
}

// Write stages items and prints them once t commits.
func (w *ConsoleWriter) Write(ctx context.Context, t tx.Tx, items []any) error {
	staged := append([]any(nil), items...)
	if !tx.OnCompletion(t, func(committed bool) {
		if committed {
			w.print(staged)
		}
	}) {
		logger.Debugf("ConsoleWriter: transaction %T does not support synchronization, printing immediately.", t)
		return w.print(staged)
	}
	return nil
}

func (w *ConsoleWriter) print(items []any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, item := range items {
		if _, err := fmt.Fprintf(w.out, w.format, item); err != nil {
			logger.Errorf("ConsoleWriter: failed to print item %+v: %v", item, err)
			return err
		}
	}
	return nil
}
