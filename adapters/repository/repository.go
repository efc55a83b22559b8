package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/chararch/bgmigration"
)

const progressTable = "batched_migration_progress"

const progressColumns = "job_name, run_id, feature_tag, status, cursor_len, cursor_outer, cursor_inner, " +
	"stop_len, stop_outer, stop_inner, rows_processed, failure_count, failure_len, failure_outer, failure_inner, " +
	"last_error, created_at, updated_at"

var allStatuses = []bgmigration.Status{
	bgmigration.StatusPending, bgmigration.StatusRunning, bgmigration.StatusSucceeded, bgmigration.StatusFailed,
}

// Option configures the SQL repository
type Option func(r *SQLRepository)

// WithSeparateStore declares that the progress table lives in another database than the migrated tables,
// so progress is advanced right after the data transaction commits instead of inside it
func WithSeparateStore() Option {
	return func(r *SQLRepository) { r.shareTx = false }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *SQLRepository) { r.now = now }
}

// SQLRepository stores progress records in the batched_migration_progress table
type SQLRepository struct {
	db      *sql.DB
	dialect bgmigration.Dialect
	logger  bgmigration.Logger
	shareTx bool
	now     func() time.Time
}

// New create a progress repository over db
func New(db *sql.DB, dialect bgmigration.Dialect, logger bgmigration.Logger, opts ...Option) *SQLRepository {
	if logger == nil {
		logger = bgmigration.DefaultLogger
	}
	r := &SQLRepository{
		db:      db,
		dialect: dialect,
		logger:  logger,
		shareTx: true,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SupportsTx reports whether Advance can join the data transaction tx
func (r *SQLRepository) SupportsTx(tx interface{}) bool {
	_, ok := tx.(*sql.Tx)
	return ok && r.shareTx
}

// rebind rewrites ? placeholders for the dialect
func (r *SQLRepository) rebind(query string) string {
	if r.dialect.Placeholder(1) == "?" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteString(r.dialect.Placeholder(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

func (r *SQLRepository) millis() int64 {
	return r.now().UnixMilli()
}

func splitCursor(c bgmigration.Cursor) (n int, outer, inner int64) {
	switch len(c) {
	case 0:
		return 0, 0, 0
	case 1:
		return 1, c[0], 0
	}
	return 2, c[0], c[1]
}

func joinCursor(n int, outer, inner int64) bgmigration.Cursor {
	switch n {
	case 0:
		return nil
	case 1:
		return bgmigration.Cursor{outer}
	}
	return bgmigration.Cursor{outer, inner}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*bgmigration.ProgressRecord, error) {
	var rec bgmigration.ProgressRecord
	var status string
	var lastError sql.NullString
	var cursorLen, stopLen, failureLen int
	var cursorOuter, cursorInner, stopOuter, stopInner int64
	var failureOuter, failureInner, createdAt, updatedAt int64
	err := row.Scan(&rec.JobName, &rec.RunID, &rec.FeatureTag, &status, &cursorLen, &cursorOuter, &cursorInner,
		&stopLen, &stopOuter, &stopInner, &rec.RowsProcessed, &rec.FailureCount, &failureLen, &failureOuter, &failureInner,
		&lastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = bgmigration.Status(status)
	rec.LastCompletedCursor = joinCursor(cursorLen, cursorOuter, cursorInner)
	rec.StopCursor = joinCursor(stopLen, stopOuter, stopInner)
	rec.FailureCursor = joinCursor(failureLen, failureOuter, failureInner)
	rec.LastError = lastError.String
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

// Load load the progress record of a job
func (r *SQLRepository) Load(ctx context.Context, jobName string) (*bgmigration.ProgressRecord, bgmigration.BatchError) {
	row := r.db.QueryRowContext(ctx, r.rebind("SELECT "+progressColumns+" FROM "+progressTable+" WHERE job_name = ?"), jobName)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error(ctx, "load progress failed, jobName:%v, err:%v", jobName, err)
		return nil, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "load progress of job:%v failed", jobName, err)
	}
	return rec, nil
}

// Create insert a pending progress record unless the job already has one
func (r *SQLRepository) Create(ctx context.Context, record *bgmigration.ProgressRecord) bgmigration.BatchError {
	existing, err := r.Load(ctx, record.JobName)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	now := r.millis()
	cursorLen, cursorOuter, cursorInner := splitCursor(record.LastCompletedCursor)
	stopLen, stopOuter, stopInner := splitCursor(record.StopCursor)
	status := record.Status
	if status == "" {
		status = bgmigration.StatusPending
	}
	_, er := r.db.ExecContext(ctx, r.rebind("INSERT INTO "+progressTable+" ("+progressColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, NULL, ?, ?)"),
		record.JobName, record.RunID, record.FeatureTag, string(status), cursorLen, cursorOuter, cursorInner,
		stopLen, stopOuter, stopInner, record.RowsProcessed, now, now)
	if er != nil {
		// a concurrent scheduler may have created it first
		if again, _ := r.Load(ctx, record.JobName); again != nil {
			return nil
		}
		r.logger.Error(ctx, "create progress failed, jobName:%v, err:%v", record.JobName, er)
		return bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "create progress of job:%v failed", record.JobName, er)
	}
	r.logger.Debug(ctx, "progress created, jobName:%v, runId:%v, stop:%v", record.JobName, record.RunID, record.StopCursor)
	return nil
}

// Advance advance the high-water mark of a running job, ignoring cursors that are not ahead of it
func (r *SQLRepository) Advance(ctx context.Context, tx interface{}, jobName string, cursor bgmigration.Cursor, deltaRows int64) (bool, bgmigration.BatchError) {
	var exec bgmigration.SQLExecutor = r.db
	if sqlTx, ok := tx.(*sql.Tx); ok && r.shareTx {
		exec = sqlTx
	}
	n, outer, inner := splitCursor(cursor)
	res, err := exec.ExecContext(ctx, r.rebind("UPDATE "+progressTable+
		" SET cursor_len = ?, cursor_outer = ?, cursor_inner = ?, rows_processed = rows_processed + ?,"+
		" failure_count = 0, failure_len = 0, failure_outer = 0, failure_inner = 0, last_error = NULL, updated_at = ?"+
		" WHERE job_name = ? AND status = ? AND (cursor_len = 0 OR cursor_outer < ? OR (cursor_outer = ? AND cursor_inner < ?))"),
		n, outer, inner, deltaRows, r.millis(), jobName, string(bgmigration.StatusRunning), outer, outer, inner)
	if err != nil {
		r.logger.Error(ctx, "advance progress failed, jobName:%v, cursor:%v, err:%v", jobName, cursor, err)
		return false, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "advance progress of job:%v failed", jobName, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "advance progress of job:%v failed", jobName, err)
	}
	return affected > 0, nil
}

// Mark change the status of a job
func (r *SQLRepository) Mark(ctx context.Context, jobName string, status bgmigration.Status, message string) bgmigration.BatchError {
	from := make([]interface{}, 0, len(allStatuses))
	for _, s := range allStatuses {
		if s.CanTransitionTo(status) {
			from = append(from, string(s))
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	var lastError interface{}
	if message != "" {
		lastError = message
	}
	args := append([]interface{}{string(status), lastError, r.millis(), jobName}, from...)
	res, err := r.db.ExecContext(ctx, r.rebind("UPDATE "+progressTable+
		" SET status = ?, last_error = COALESCE(?, last_error), updated_at = ? WHERE job_name = ? AND status IN ("+placeholders+")"), args...)
	if err != nil {
		r.logger.Error(ctx, "mark progress failed, jobName:%v, status:%v, err:%v", jobName, status, err)
		return bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "mark job:%v as %v failed", jobName, status, err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}
	rec, er := r.Load(ctx, jobName)
	if er != nil {
		return er
	}
	if rec == nil {
		return bgmigration.NewBatchError(bgmigration.ErrCodeJobNotFound, "job:%v has no progress record", jobName)
	}
	if rec.Status == status {
		return nil
	}
	return bgmigration.NewBatchError(bgmigration.ErrCodeTerminal, "job:%v can not transition from %v to %v", jobName, rec.Status, status)
}

// RecordFailure count consecutive failures of the range starting at start
func (r *SQLRepository) RecordFailure(ctx context.Context, jobName string, start bgmigration.Cursor, message string) (int, bgmigration.BatchError) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "start transaction failed", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	var (
		count, failureLen          int
		failureOuter, failureInner int64
	)
	err = tx.QueryRowContext(ctx, r.rebind("SELECT failure_count, failure_len, failure_outer, failure_inner FROM "+progressTable+" WHERE job_name = ?"), jobName).
		Scan(&count, &failureLen, &failureOuter, &failureInner)
	if err == sql.ErrNoRows {
		return 0, bgmigration.NewBatchError(bgmigration.ErrCodeJobNotFound, "job:%v has no progress record", jobName)
	}
	if err != nil {
		return 0, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "load failures of job:%v failed", jobName, err)
	}
	if joinCursor(failureLen, failureOuter, failureInner).Equal(start) {
		count++
	} else {
		count = 1
	}
	n, outer, inner := splitCursor(start)
	_, err = tx.ExecContext(ctx, r.rebind("UPDATE "+progressTable+
		" SET failure_count = ?, failure_len = ?, failure_outer = ?, failure_inner = ?, last_error = ?, updated_at = ? WHERE job_name = ?"),
		count, n, outer, inner, message, r.millis(), jobName)
	if err != nil {
		return 0, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "record failure of job:%v failed", jobName, err)
	}
	if err = tx.Commit(); err != nil {
		return 0, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "record failure of job:%v failed", jobName, err)
	}
	return count, nil
}

// Restart begin a new run of a terminal job
func (r *SQLRepository) Restart(ctx context.Context, jobName string, runID string, keepCursor bool) bgmigration.BatchError {
	reset := ""
	if !keepCursor {
		reset = ", cursor_len = 0, cursor_outer = 0, cursor_inner = 0, rows_processed = 0"
	}
	res, err := r.db.ExecContext(ctx, r.rebind("UPDATE "+progressTable+
		" SET run_id = ?, status = ?, failure_count = 0, failure_len = 0, failure_outer = 0, failure_inner = 0, last_error = NULL, updated_at = ?"+reset+
		" WHERE job_name = ? AND status IN (?, ?)"),
		runID, string(bgmigration.StatusPending), r.millis(), jobName, string(bgmigration.StatusSucceeded), string(bgmigration.StatusFailed))
	if err != nil {
		return bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "restart job:%v failed", jobName, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return bgmigration.NewBatchError(bgmigration.ErrCodeTerminal, "job:%v is not in a terminal status, can not restart", jobName)
	}
	return nil
}

// List list progress records with status, all records when status is empty
func (r *SQLRepository) List(ctx context.Context, status bgmigration.Status) ([]*bgmigration.ProgressRecord, bgmigration.BatchError) {
	query := "SELECT " + progressColumns + " FROM " + progressTable
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(query+" ORDER BY job_name"), args...)
	if err != nil {
		return nil, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "list progress failed", err)
	}
	defer rows.Close()
	records := make([]*bgmigration.ProgressRecord, 0)
	for rows.Next() {
		rec, er := scanRecord(rows)
		if er != nil {
			return nil, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "scan progress failed", er)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "list progress failed", err)
	}
	return records, nil
}

// Purge delete succeeded records not updated since olderThan; incomplete jobs are never deleted
func (r *SQLRepository) Purge(ctx context.Context, olderThan time.Time) (int64, bgmigration.BatchError) {
	res, err := r.db.ExecContext(ctx, r.rebind("DELETE FROM "+progressTable+" WHERE status = ? AND updated_at < ?"),
		string(bgmigration.StatusSucceeded), olderThan.UnixMilli())
	if err != nil {
		return 0, bgmigration.NewBatchError(bgmigration.ErrCodeDbFail, "purge progress failed", err)
	}
	n, _ := res.RowsAffected()
	r.logger.Info(ctx, "purged succeeded progress records, count:%v, olderThan:%v", n, olderThan)
	return n, nil
}
