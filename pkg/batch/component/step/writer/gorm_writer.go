package writer

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// GormWriterConfig holds the settings of a GormWriter.
type GormWriterConfig struct {
	// Table is the target table.
	Table string `mapstructure:"table"`
	// BulkSize caps the rows per INSERT statement. Zero writes the whole chunk in one statement.
	BulkSize int `mapstructure:"bulkSize"`
	// ConflictColumns and UpdateColumns turn the insert into an upsert. With conflict columns
	// but no update columns a conflicting row is left as it is.
	ConflictColumns []string `mapstructure:"conflictColumns"`
	UpdateColumns   []string `mapstructure:"updateColumns"`
	// AutoMigrate creates or alters Table from T when the writer is opened.
	AutoMigrate bool `mapstructure:"autoMigrate"`
}

// GormWriter inserts the items of a chunk into a table through the chunk transaction,
// so the rows and the step checkpoint commit together. It needs the GORM transaction
// manager over the same database as the job repository.
type GormWriter[T any] struct {
	name string
	db   *gorm.DB
	cfg  GormWriterConfig
}

var (
	_ port.ItemWriter = (*GormWriter[struct{}])(nil)
	_ port.ItemStream = (*GormWriter[struct{}])(nil)
)

// NewGormWriter creates a GormWriter writing T rows into cfg.Table.
// db is only used for AutoMigrate; rows are always written through the chunk transaction.
func NewGormWriter[T any](name string, db *gorm.DB, cfg GormWriterConfig) (*GormWriter[T], error) {
	if cfg.Table == "" {
		return nil, exception.NewConfigurationError(fmt.Sprintf("gorm writer '%s': table is required", name), nil)
	}
	if cfg.BulkSize < 0 {
		return nil, exception.NewConfigurationError(fmt.Sprintf("gorm writer '%s': bulk size must not be negative", name), nil)
	}
	if cfg.AutoMigrate && db == nil {
		return nil, exception.NewConfigurationError(fmt.Sprintf("gorm writer '%s': autoMigrate needs a database", name), nil)
	}
	return &GormWriter[T]{name: name, db: db, cfg: cfg}, nil
}

// Open migrates the target table when configured.
func (w *GormWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	if !w.cfg.AutoMigrate {
		return nil
	}
	var prototype T
	if err := w.db.WithContext(ctx).Table(w.cfg.Table).AutoMigrate(&prototype); err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("gorm writer '%s': failed to migrate table '%s'", w.name, w.cfg.Table), err, false, false)
	}
	logger.Debugf("GormWriter '%s': table '%s' migrated.", w.name, w.cfg.Table)
	return nil
}

// Close does nothing; the writer holds no resources between chunks.
func (w *GormWriter[T]) Close(ctx context.Context) error {
	return nil
}

// Write inserts items inside t in batches of BulkSize.
func (w *GormWriter[T]) Write(ctx context.Context, t tx.Tx, items []any) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]T, 0, len(items))
	for _, item := range items {
		row, ok := item.(T)
		if !ok {
			var want T
			return exception.NewWriteError(len(items), fmt.Errorf("gorm writer '%s': expected %T, got %T", w.name, want, item))
		}
		rows = append(rows, row)
	}

	bulk := w.cfg.BulkSize
	if bulk == 0 {
		bulk = len(rows)
	}
	for i := 0; i < len(rows); i += bulk {
		end := min(i+bulk, len(rows))
		batch := rows[i:end]

		var err error
		if len(w.cfg.ConflictColumns) > 0 {
			_, err = t.ExecuteUpsert(ctx, &batch, w.cfg.Table, w.cfg.ConflictColumns, w.cfg.UpdateColumns)
		} else {
			_, err = t.ExecuteUpdate(ctx, &batch, "CREATE", w.cfg.Table, nil)
		}
		if err != nil {
			return exception.NewWriteError(len(items), fmt.Errorf("gorm writer '%s': rows %d to %d of table '%s': %w", w.name, i, end, w.cfg.Table, err))
		}
		logger.Debugf("GormWriter '%s': wrote %d rows (start index %d).", w.name, len(batch), i)
	}
	return nil
}
