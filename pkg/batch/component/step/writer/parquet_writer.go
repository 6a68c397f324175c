package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage"
	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

const (
	partPrefix = "part-"
	partSuffix = ".parquet"
)

// ParquetWriterConfig holds the settings of a ParquetWriter.
type ParquetWriterConfig struct {
	// Bucket is the storage bucket; empty uses the connection default.
	Bucket string `mapstructure:"bucket"`
	// OutputDir is the directory, within the bucket, receiving the part files.
	OutputDir string `mapstructure:"outputDir"`
	// CompressionType is the compression type for Parquet files (e.g., "SNAPPY", "GZIP", "NONE").
	CompressionType string `mapstructure:"compressionType"`
}

// ParquetWriter writes every chunk as one parquet part file named after the chunk's start
// offset. A part is uploaded while the chunk transaction is open and deleted again when
// the transaction rolls back, so a retried or restarted chunk replaces the same part.
// T must carry parquet-go struct tags.
type ParquetWriter[T any] struct {
	name        string
	store       storage.StorageExecutor
	cfg         ParquetWriterConfig
	compression parquet.CompressionCodec
}

var (
	_ port.ItemWriter = (*ParquetWriter[struct{}])(nil)
	_ port.ItemStream = (*ParquetWriter[struct{}])(nil)
)

// NewParquetWriter creates a ParquetWriter uploading to store.
func NewParquetWriter[T any](name string, store storage.StorageExecutor, cfg ParquetWriterConfig) (*ParquetWriter[T], error) {
	if store == nil {
		return nil, exception.NewConfigurationError(fmt.Sprintf("parquet writer '%s': storage connection is required", name), nil)
	}
	if cfg.OutputDir == "" {
		return nil, exception.NewConfigurationError(fmt.Sprintf("parquet writer '%s': outputDir is required", name), nil)
	}
	if cfg.CompressionType == "" {
		cfg.CompressionType = "SNAPPY"
	}
	codec, err := getCompressionCodec(cfg.CompressionType)
	if err != nil {
		return nil, exception.NewConfigurationError(fmt.Sprintf("parquet writer '%s'", name), err)
	}
	return &ParquetWriter[T]{name: name, store: store, cfg: cfg, compression: codec}, nil
}

// PartName returns the object name of the part holding the chunk that starts at start.
func (w *ParquetWriter[T]) PartName(start int64) string {
	return path.Join(w.cfg.OutputDir, fmt.Sprintf("%s%012d%s", partPrefix, start, partSuffix))
}

// Open removes the parts at or beyond the restored checkpoint. They belong to chunks whose
// commit never completed.
func (w *ParquetWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	offset, _ := ec.GetInt64(model.ChunkOffsetKey)

	var stale []string
	err := w.store.ListObjects(ctx, w.cfg.Bucket, w.cfg.OutputDir+"/", func(objectName string) error {
		start, ok := partStart(objectName)
		if ok && start >= offset {
			stale = append(stale, objectName)
		}
		return nil
	})
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("parquet writer '%s': failed to list parts", w.name), err, false, exception.IsTemporary(err))
	}

	var result *multierror.Error
	for _, objectName := range stale {
		logger.Warnf("ParquetWriter '%s': removing uncommitted part '%s'.", w.name, objectName)
		if err := w.store.DeleteObject(ctx, w.cfg.Bucket, objectName); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close does nothing; parts are complete once uploaded.
func (w *ParquetWriter[T]) Close(ctx context.Context) error {
	return nil
}

// Write encodes items into one part and uploads it.
func (w *ParquetWriter[T]) Write(ctx context.Context, t tx.Tx, items []any) error {
	chunk := port.GetChunkFromContext(ctx)
	if chunk == nil {
		return exception.NewWriteError(len(items), errors.New("parquet writer needs the chunk in the context"))
	}

	buf, err := w.encode(items)
	if err != nil {
		return exception.NewWriteError(len(items), err)
	}

	objectName := w.PartName(chunk.Start)
	if err := w.store.Upload(ctx, w.cfg.Bucket, objectName, buf, "application/octet-stream"); err != nil {
		return exception.NewWriteError(len(items), fmt.Errorf("failed to upload part '%s': %w", objectName, err))
	}
	logger.Debugf("ParquetWriter '%s': uploaded %d items to '%s'.", w.name, len(items), objectName)

	// The upload cannot join the transaction; undo it if the chunk does not commit.
	tx.OnCompletion(t, func(committed bool) {
		if committed {
			return
		}
		if err := w.store.DeleteObject(context.WithoutCancel(ctx), w.cfg.Bucket, objectName); err != nil {
			logger.Errorf("ParquetWriter '%s': failed to remove part '%s' of rolled back chunk: %v", w.name, objectName, err)
		}
	})
	return nil
}

func (w *ParquetWriter[T]) encode(items []any) (buf *bytes.Buffer, err error) {
	// parquet-go panics on some schema mismatches.
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()

	buf = new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = w.compression

	for _, item := range items {
		row, ok := item.(T)
		if !ok {
			var want T
			return nil, fmt.Errorf("expected %T, got %T", want, item)
		}
		if err := pw.Write(row); err != nil {
			return nil, fmt.Errorf("failed to encode item %+v: %w", item, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet part: %w", err)
	}
	return buf, nil
}

// partStart parses the start offset out of a part object name.
func partStart(objectName string) (int64, bool) {
	base := path.Base(objectName)
	if !strings.HasPrefix(base, partPrefix) || !strings.HasSuffix(base, partSuffix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(base, partPrefix), partSuffix), 10, 64)
	return n, err == nil
}

// getCompressionCodec returns the Parquet compression codec from a string.
func getCompressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "": // NONE or empty string means uncompressed
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}
