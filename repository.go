package bgmigration

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mock_test.go -package=bgmigration . TransactionManager,ProgressRepository

// ProgressRepository persists ProgressRecords. It is the only writer of progress state.
type ProgressRepository interface {
	// Load returns nil when the job has no record
	Load(ctx context.Context, jobName string) (*ProgressRecord, BatchError)
	// Create inserts a pending record, an existing record is left untouched
	Create(ctx context.Context, record *ProgressRecord) BatchError
	// Advance moves the high-water mark to cursor and adds deltaRows. It is a no-op returning false
	// when cursor is not ahead of the stored mark or the job is not running. tx may be nil.
	Advance(ctx context.Context, tx interface{}, jobName string, cursor Cursor, deltaRows int64) (bool, BatchError)
	// Mark changes the status, rejecting illegal transitions
	Mark(ctx context.Context, jobName string, status Status, message string) BatchError
	// RecordFailure counts consecutive failures of the range starting at start
	RecordFailure(ctx context.Context, jobName string, start Cursor, message string) (int, BatchError)
	// Restart begins a new logical run of a terminal job
	Restart(ctx context.Context, jobName string, runID string, keepCursor bool) BatchError
	List(ctx context.Context, status Status) ([]*ProgressRecord, BatchError)
	// Purge deletes succeeded records last updated before olderThan
	Purge(ctx context.Context, olderThan time.Time) (int64, BatchError)
}

// TxProgressWriter is implemented by repositories that can advance progress inside the transaction
// of the data mutation. When the repository lacks it, progress is written right after commit.
type TxProgressWriter interface {
	SupportsTx(tx interface{}) bool
}
