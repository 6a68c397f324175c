package writer_test

import (
	"context"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
)

type person struct {
	FirstName string `gorm:"column:first_name" bson:"first_name" parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastName  string `gorm:"column:last_name" bson:"last_name" parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// chunkOf builds the chunk [start, start+len(items)) and a context carrying it.
func chunkOf(ctx context.Context, start int64, items ...any) (context.Context, *model.Chunk) {
	c := model.NewChunk(start, len(items))
	for i, item := range items {
		c.Add(item, start+int64(i))
		c.Advance(start + int64(i))
	}
	return port.GetContextWithChunk(ctx, c), c
}

// plainTx is a transaction without completion callbacks.
type plainTx struct{}

func (plainTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, nil
}

func (plainTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, nil
}

func (plainTx) Savepoint(name string) error           { return nil }
func (plainTx) RollbackToSavepoint(name string) error { return nil }

var _ tx.Tx = plainTx{}
