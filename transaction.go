package bgmigration

import "context"

// TransactionManager used by the batch executor to run one range in a transaction.
type TransactionManager interface {
	BeginTx(ctx context.Context) (tx interface{}, err BatchError)
	Commit(tx interface{}) BatchError
	Rollback(tx interface{}) BatchError
}

// SchemaInspector checks that the columns named by a descriptor exist
type SchemaInspector interface {
	HasColumns(ctx context.Context, table string, columns []string) BatchError
}
