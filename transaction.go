package bulkbatch

import (
	"context"
	"database/sql"
)

// TransactionManager opens the transaction each job invocation and each engine operation runs in.
type TransactionManager interface {
	BeginTx(ctx context.Context) (Tx, BatchError)
	Commit(tx Tx) BatchError
	Rollback(tx Tx) BatchError
}

// DefaultTxManager default TransactionManager implementation
type DefaultTxManager struct {
	db *sql.DB
}

// NewTransactionManager create a TransactionManager instance
func NewTransactionManager(db *sql.DB) TransactionManager {
	return &DefaultTxManager{
		db: db,
	}
}

// BeginTx begin a transaction
func (tm *DefaultTxManager) BeginTx(ctx context.Context) (Tx, BatchError) {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "start transaction failed", err)
	}
	return &sqlTx{tx: tx}, nil
}

// Commit commit a transaction
func (tm *DefaultTxManager) Commit(tx Tx) BatchError {
	tx1, ok := tx.(*sqlTx)
	if !ok {
		return NewBatchError(ErrCodeGeneral, "unsupported transaction type:%T", tx)
	}
	if err := tx1.tx.Commit(); err != nil {
		return classify("transaction commit failed", err)
	}
	return nil
}

// Rollback rollback a transaction
func (tm *DefaultTxManager) Rollback(tx Tx) BatchError {
	tx1, ok := tx.(*sqlTx)
	if !ok {
		return NewBatchError(ErrCodeGeneral, "unsupported transaction type:%T", tx)
	}
	if err := tx1.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return NewBatchError(ErrCodeDbFail, "transaction rollback failed", err)
	}
	return nil
}
