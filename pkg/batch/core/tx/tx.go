// Package tx provides the transaction abstraction used by the chunk executor.
// A chunk's writes and its checkpoint are issued through the same Tx, so they are
// committed or rolled back together.
package tx

import (
	"context"
	"database/sql"
)

// TxExecutor defines the write operations executable within a transaction.
type TxExecutor interface {
	// ExecuteUpdate performs an INSERT ("CREATE"), "UPDATE" or "DELETE" of model on tableName.
	// query holds column/value conditions for UPDATE and DELETE, combined with AND.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, updating updateColumns when conflictColumns collide.
	// With no updateColumns a conflict is ignored.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)
}

// Tx represents an ongoing transaction.
type Tx interface {
	TxExecutor

	// Savepoint creates a named savepoint.
	Savepoint(name string) error
	// RollbackToSavepoint undoes changes made after the named savepoint.
	RollbackToSavepoint(name string) error
}

// Synchronizer is implemented by transactions that can notify participants
// once they complete. committed is false after a rollback.
type Synchronizer interface {
	RegisterSynchronization(fn func(committed bool))
}

// TransactionManager manages the lifecycle of transactions.
type TransactionManager interface {
	// Begin starts a new transaction.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits t.
	Commit(t Tx) error
	// Rollback rolls t back.
	Rollback(t Tx) error
}

type txContextKey struct{}

// WithTx returns a context carrying t. Repositories and writers pick it up
// to join the chunk transaction.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, t)
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txContextKey{}).(Tx)
	return t, ok && t != nil
}

// OnCompletion registers fn on t when t supports synchronization, and reports whether it did.
func OnCompletion(t Tx, fn func(committed bool)) bool {
	s, ok := t.(Synchronizer)
	if !ok {
		return false
	}
	s.RegisterSynchronization(fn)
	return true
}

// Synchronizations is an embeddable list of completion callbacks.
type Synchronizations struct {
	fns []func(committed bool)
}

// RegisterSynchronization implements Synchronizer.
func (s *Synchronizations) RegisterSynchronization(fn func(committed bool)) {
	s.fns = append(s.fns, fn)
}

// Fire runs and clears the registered callbacks in registration order.
func (s *Synchronizations) Fire(committed bool) {
	fns := s.fns
	s.fns = nil
	for _, fn := range fns {
		fn(committed)
	}
}
