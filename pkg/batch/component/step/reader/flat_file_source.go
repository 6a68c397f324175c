// Package reader provides port.RecordSource implementations.
package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	storage "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage"
	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// maxLineSize bounds the length of a single record line.
const maxLineSize = 1024 * 1024

// FlatFileSourceConfig holds the settings of a FlatFileSource.
type FlatFileSourceConfig struct {
	// Bucket and Object address the input inside the storage connection.
	Bucket string
	Object string
	// LinesToSkip is the number of leading physical lines (headers) ignored on every open.
	LinesToSkip int
	// Comments lists line prefixes marking lines that are not records.
	Comments []string
	// KeepBlankLines returns empty lines as records instead of skipping them.
	KeepBlankLines bool
}

// FlatFileSource is a line-oriented port.RecordSource over a storage object.
//
// Offsets number the records that are returned, so headers, blank lines and comment
// lines are not counted. Opening at offset n skips the first n records.
type FlatFileSource struct {
	name  string
	store storage.StorageExecutor
	cfg   FlatFileSourceConfig

	body    io.ReadCloser
	scanner *bufio.Scanner
	offset  int64
	line    int
}

var _ port.RecordSource = (*FlatFileSource)(nil)

// NewFlatFileSource creates a FlatFileSource reading cfg.Object from store.
//
// Parameters:
//
//	name: The component name used in logs and errors.
//	store: The storage connection holding the input.
//	cfg: The bucket, object and line handling settings.
//
// Returns:
//   - *FlatFileSource: The source. Nothing is read until Open.
//   - error: A ConfigurationError when a setting is missing or invalid.
func NewFlatFileSource(name string, store storage.StorageExecutor, cfg FlatFileSourceConfig) (*FlatFileSource, error) {
	if store == nil {
		return nil, exception.NewConfigurationError(fmt.Sprintf("flat file source '%s': storage connection is required", name), nil)
	}
	if cfg.Object == "" {
		return nil, exception.NewConfigurationError(fmt.Sprintf("flat file source '%s': resource is required", name), nil)
	}
	if cfg.LinesToSkip < 0 {
		return nil, exception.NewConfigurationError(fmt.Sprintf("flat file source '%s': lines to skip must not be negative", name), nil)
	}
	return &FlatFileSource{name: name, store: store, cfg: cfg}, nil
}

// Open downloads the resource and positions the source on the record at offset.
func (s *FlatFileSource) Open(ctx context.Context, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("flat file source '%s': negative offset %d", s.name, offset)
	}
	if s.body != nil {
		if err := s.Close(ctx); err != nil {
			return err
		}
	}

	body, err := s.store.Download(ctx, s.cfg.Bucket, s.cfg.Object)
	if err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("flat file source '%s': failed to open resource '%s'", s.name, s.cfg.Object), err, false, exception.IsTemporary(err))
	}
	s.body = body
	s.scanner = bufio.NewScanner(body)
	s.scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	s.offset = 0
	s.line = 0

	for i := 0; i < s.cfg.LinesToSkip; i++ {
		if !s.scanner.Scan() {
			break
		}
		s.line++
	}
	for s.offset < offset {
		if _, err := s.nextLine(); err != nil {
			if errors.Is(err, port.ErrEndOfData) {
				return fmt.Errorf("flat file source '%s': offset %d is beyond the %d records of '%s'", s.name, offset, s.offset, s.cfg.Object)
			}
			return err
		}
		s.offset++
	}
	if offset > 0 {
		logger.Infof("FlatFileSource '%s': resuming '%s' at record %d (line %d).", s.name, s.cfg.Object, offset, s.line+1)
	} else {
		logger.Debugf("FlatFileSource '%s': opened '%s'.", s.name, s.cfg.Object)
	}
	return nil
}

// Next returns the next record, or port.ErrEndOfData at the end of the resource.
func (s *FlatFileSource) Next(ctx context.Context) (model.RawRecord, error) {
	if s.scanner == nil {
		return model.RawRecord{}, fmt.Errorf("flat file source '%s': not open", s.name)
	}
	if err := ctx.Err(); err != nil {
		return model.RawRecord{}, err
	}
	line, err := s.nextLine()
	if err != nil {
		return model.RawRecord{}, err
	}
	rec := model.RawRecord{Offset: s.offset, Line: line}
	s.offset++
	return rec, nil
}

// nextLine returns the next line that is a record.
func (s *FlatFileSource) nextLine() (string, error) {
	for s.scanner.Scan() {
		s.line++
		line := strings.TrimSuffix(s.scanner.Text(), "\r")
		if s.ignored(line) {
			continue
		}
		return line, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", exception.NewBatchError("reader", fmt.Sprintf("flat file source '%s': failed reading line %d", s.name, s.line+1), err, false, exception.IsTemporary(err))
	}
	return "", port.ErrEndOfData
}

func (s *FlatFileSource) ignored(line string) bool {
	if !s.cfg.KeepBlankLines && strings.TrimSpace(line) == "" {
		return true
	}
	for _, prefix := range s.cfg.Comments {
		if prefix != "" && strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Close releases the downloaded resource. Closing a closed source is a no-op.
func (s *FlatFileSource) Close(ctx context.Context) error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	s.scanner = nil
	if err != nil {
		return fmt.Errorf("flat file source '%s': failed to close resource: %w", s.name, err)
	}
	return nil
}
