package test

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
)

// MockTx is a mock implementation of the tx.Tx interface.
// It records the calls made by writers so tests can assert on them.
type MockTx struct {
	mock.Mock
	tx.Synchronizations
}

// ExecuteUpdate mocks the ExecuteUpdate method of tx.TxExecutor.
func (m *MockTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error) {
	args := m.Called(ctx, model, operation, tableName, query)
	return args.Get(0).(int64), args.Error(1)
}

// ExecuteUpsert mocks the ExecuteUpsert method of tx.TxExecutor.
func (m *MockTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error) {
	args := m.Called(ctx, model, tableName, conflictColumns, updateColumns)
	return args.Get(0).(int64), args.Error(1)
}

// Savepoint mocks the Savepoint method of tx.Tx.
func (m *MockTx) Savepoint(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

// RollbackToSavepoint mocks the RollbackToSavepoint method of tx.Tx.
func (m *MockTx) RollbackToSavepoint(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

// MockTxManager is a mock implementation of the tx.TransactionManager interface.
// Commit and Rollback fire the synchronizations of a *MockTx after the recorded call,
// using the error configured for the call to decide whether the commit happened.
type MockTxManager struct {
	mock.Mock
}

// Begin mocks the Begin method of tx.TransactionManager.
func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

// Commit mocks the Commit method of tx.TransactionManager.
func (m *MockTxManager) Commit(t tx.Tx) error {
	args := m.Called(t)
	if mt, ok := t.(*MockTx); ok {
		mt.Fire(args.Error(0) == nil)
	}
	return args.Error(0)
}

// Rollback mocks the Rollback method of tx.TransactionManager.
func (m *MockTxManager) Rollback(t tx.Tx) error {
	args := m.Called(t)
	if mt, ok := t.(*MockTx); ok {
		mt.Fire(false)
	}
	return args.Error(0)
}

var (
	_ tx.Tx                 = (*MockTx)(nil)
	_ tx.Synchronizer       = (*MockTx)(nil)
	_ tx.TransactionManager = (*MockTxManager)(nil)
)
