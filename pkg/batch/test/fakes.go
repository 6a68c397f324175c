// Package test provides fakes and fixtures shared by the batch package tests.
package test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// LineSource is an in-memory port.RecordSource over a slice of lines.
type LineSource struct {
	Lines []string
	// FailAt makes Next fail with FailErr when it reaches this offset. Negative disables it.
	FailAt  int64
	FailErr error

	mu     sync.Mutex
	pos    int64
	opened bool
	// Opens records the offset passed to every Open call.
	Opens []int64
	// Closes counts Close calls.
	Closes int
}

// NewLineSource creates a LineSource over lines.
func NewLineSource(lines ...string) *LineSource {
	return &LineSource{Lines: lines, FailAt: -1}
}

// Open implements port.RecordSource.
func (s *LineSource) Open(ctx context.Context, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset > int64(len(s.Lines)) {
		return fmt.Errorf("offset %d out of range", offset)
	}
	s.pos = offset
	s.opened = true
	s.Opens = append(s.Opens, offset)
	return nil
}

// Next implements port.RecordSource.
func (s *LineSource) Next(ctx context.Context) (model.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return model.RawRecord{}, errors.New("source not open")
	}
	if s.pos == s.FailAt {
		return model.RawRecord{}, s.FailErr
	}
	if s.pos >= int64(len(s.Lines)) {
		return model.RawRecord{}, port.ErrEndOfData
	}
	rec := model.RawRecord{Offset: s.pos, Line: s.Lines[s.pos]}
	s.pos++
	return rec, nil
}

// Close implements port.RecordSource.
func (s *LineSource) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	s.Closes++
	return nil
}

// UpperMapper maps a line to its upper-cased text. Lines starting with "#" are malformed.
type UpperMapper struct{}

// Map implements port.RecordMapper.
func (UpperMapper) Map(ctx context.Context, record model.RawRecord) (any, error) {
	if strings.HasPrefix(record.Line, "#") {
		return nil, exception.NewMappingError(record.Offset, record.Line, errors.New("comment line"))
	}
	return strings.ToUpper(record.Line), nil
}

// FuncProcessor adapts a function to port.ItemProcessor.
type FuncProcessor func(ctx context.Context, item any) (any, error)

// Process implements port.ItemProcessor.
func (f FuncProcessor) Process(ctx context.Context, item any) (any, error) {
	return f(ctx, item)
}

// RecordingWriter is a port.ItemWriter that keeps the items of committed chunks only.
// Items written inside a transaction are staged until it completes.
type RecordingWriter struct {
	// FailWhen, when set, is consulted for every Write call; a non-nil result fails it.
	FailWhen func(items []any) error

	mu sync.Mutex
	// Committed holds the items of committed chunks, in commit order.
	Committed []any
	// Calls counts Write calls.
	Calls int
}

// Write implements port.ItemWriter.
func (w *RecordingWriter) Write(ctx context.Context, t tx.Tx, items []any) error {
	w.mu.Lock()
	w.Calls++
	fail := w.FailWhen
	w.mu.Unlock()

	if fail != nil {
		if err := fail(items); err != nil {
			return err
		}
	}
	staged := append([]any(nil), items...)
	if !tx.OnCompletion(t, func(committed bool) {
		if committed {
			w.mu.Lock()
			w.Committed = append(w.Committed, staged...)
			w.mu.Unlock()
		}
	}) {
		w.mu.Lock()
		w.Committed = append(w.Committed, staged...)
		w.mu.Unlock()
	}
	return nil
}

// Items returns a copy of the committed items.
func (w *RecordingWriter) Items() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]any(nil), w.Committed...)
}

// Strings returns the committed items formatted with %v.
func (w *RecordingWriter) Strings() []string {
	items := w.Items()
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = fmt.Sprint(item)
	}
	return out
}

var (
	_ port.RecordSource  = (*LineSource)(nil)
	_ port.RecordMapper  = UpperMapper{}
	_ port.ItemProcessor = FuncProcessor(nil)
	_ port.ItemWriter    = (*RecordingWriter)(nil)
)
