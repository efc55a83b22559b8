package txn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/chararch/bgmigration"
)

// DefaultTxManager default TransactionManager implementation
type DefaultTxManager struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewTransactionManager create a TransactionManager instance
func NewTransactionManager(db *sql.DB) bgmigration.TransactionManager {
	return &DefaultTxManager{
		db: db,
	}
}

// NewTransactionManagerWithOptions create a TransactionManager beginning transactions with opts
func NewTransactionManagerWithOptions(db *sql.DB, opts *sql.TxOptions) bgmigration.TransactionManager {
	return &DefaultTxManager{
		db:   db,
		opts: opts,
	}
}

// BeginTx begin a transaction
func (tm *DefaultTxManager) BeginTx(ctx context.Context) (interface{}, bgmigration.BatchError) {
	tx, err := tm.db.BeginTx(ctx, tm.opts)
	if err != nil {
		return nil, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "start transaction failed", err)
	}
	return tx, nil
}

// Commit commit a transaction
func (tm *DefaultTxManager) Commit(tx interface{}) bgmigration.BatchError {
	tx1 := tx.(*sql.Tx)
	err := tx1.Commit()
	if err != nil {
		return bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "transaction commit failed", err)
	}
	return nil
}

// Rollback rollback a transaction
func (tm *DefaultTxManager) Rollback(tx interface{}) bgmigration.BatchError {
	tx1 := tx.(*sql.Tx)
	err := tx1.Rollback()
	if err != nil {
		return bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "transaction rollback failed", err)
	}
	return nil
}

// Inspector checks descriptor columns against the columns of an empty result set
type Inspector struct {
	db      *sql.DB
	dialect bgmigration.Dialect
}

// NewInspector create a SchemaInspector
func NewInspector(db *sql.DB, dialect bgmigration.Dialect) *Inspector {
	return &Inspector{db: db, dialect: dialect}
}

// HasColumns fails when the table or one of the columns does not exist
func (i *Inspector) HasColumns(ctx context.Context, table string, columns []string) bgmigration.BatchError {
	if table == "" {
		return bgmigration.NewBatchError(bgmigration.ErrCodeInvalidDescriptor, "table name must not be empty")
	}
	existing, err := i.Columns(ctx, table)
	if err != nil {
		return bgmigration.NewBatchError(bgmigration.ErrCodeInvalidDescriptor, "can not read columns of table:%v", table, err)
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c] = true
	}
	for _, c := range columns {
		if !known[strings.ToLower(c)] {
			return bgmigration.NewBatchError(bgmigration.ErrCodeInvalidDescriptor, "table:%v does not have a column of %v", table, c)
		}
	}
	return nil
}

// Columns lists the columns of table in select order
func (i *Inspector) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", i.dialect.QuoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	for n, c := range cols {
		cols[n] = strings.ToLower(c)
	}
	return cols, nil
}
