package tx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrNotSupported is returned by the resourceless transaction for SQL operations.
var ErrNotSupported = errors.New("operation not supported by resourceless transaction")

// ResourcelessTransactionManager manages transactions that hold no database resource.
// It is used with the in-memory job repository and non-SQL writers; participants
// that need atomicity hook into completion through Synchronizer.
type ResourcelessTransactionManager struct {
	mu     sync.Mutex
	active map[*ResourcelessTx]struct{}
}

// NewResourcelessTransactionManager creates a ResourcelessTransactionManager.
func NewResourcelessTransactionManager() *ResourcelessTransactionManager {
	return &ResourcelessTransactionManager{active: make(map[*ResourcelessTx]struct{})}
}

// ResourcelessTx is the transaction handed out by ResourcelessTransactionManager.
type ResourcelessTx struct {
	Synchronizations
}

// Begin implements TransactionManager.
func (m *ResourcelessTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := &ResourcelessTx{}
	m.mu.Lock()
	m.active[t] = struct{}{}
	m.mu.Unlock()
	return t, nil
}

func (m *ResourcelessTransactionManager) complete(t Tx, committed bool) error {
	rt, ok := t.(*ResourcelessTx)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *ResourcelessTx, got %T", t)
	}
	m.mu.Lock()
	_, active := m.active[rt]
	delete(m.active, rt)
	m.mu.Unlock()
	if !active {
		return errors.New("transaction already completed")
	}
	rt.Fire(committed)
	return nil
}

// Commit implements TransactionManager.
func (m *ResourcelessTransactionManager) Commit(t Tx) error {
	return m.complete(t, true)
}

// Rollback implements TransactionManager.
func (m *ResourcelessTransactionManager) Rollback(t Tx) error {
	return m.complete(t, false)
}

// ExecuteUpdate implements TxExecutor.
func (t *ResourcelessTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, ErrNotSupported
}

// ExecuteUpsert implements TxExecutor.
func (t *ResourcelessTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, ErrNotSupported
}

// Savepoint implements Tx.
func (t *ResourcelessTx) Savepoint(name string) error { return nil }

// RollbackToSavepoint implements Tx.
func (t *ResourcelessTx) RollbackToSavepoint(name string) error { return nil }

var (
	_ TransactionManager = (*ResourcelessTransactionManager)(nil)
	_ Synchronizer       = (*ResourcelessTx)(nil)
)
