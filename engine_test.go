package bgmigration_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chararch/bgmigration"
	"github.com/chararch/bgmigration/adapters/repository"
	"github.com/chararch/bgmigration/adapters/txn"
)

func TestMain(m *testing.M) {
	bgmigration.SetLogger(bgmigration.NewLogger(io.Discard, bgmigration.Error))
	os.Exit(m.Run())
}

type fixture struct {
	db       *sql.DB
	dialect  bgmigration.Dialect
	registry *bgmigration.Registry
	repo     *repository.SQLRepository
	txMgr    bgmigration.TransactionManager
}

func newFixture(t *testing.T, repoOpts ...repository.Option) *fixture {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "engine.db") + "?_pragma=busy_timeout(5000)"
	db, dialect, err := txn.Open(txn.Config{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = repository.MigrateSchema(db, dialect)
	require.NoError(t, err)

	_, err = db.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, v INTEGER, v2 INTEGER, w INTEGER, w2 INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE events (tenant_id INTEGER, id INTEGER, v INTEGER, v2 INTEGER, PRIMARY KEY (tenant_id, id))")
	require.NoError(t, err)
	tx, err := db.Begin()
	require.NoError(t, err)
	for id := 1; id <= 500; id++ {
		_, err = tx.Exec("INSERT INTO items (id, v, w) VALUES (?, ?, ?)", id, id*10, id*100)
		require.NoError(t, err)
	}
	for tenant := 1; tenant <= 3; tenant++ {
		for id := 1; id <= 50; id++ {
			_, err = tx.Exec("INSERT INTO events (tenant_id, id, v) VALUES (?, ?, ?)", tenant, id, tenant*1000+id)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tx.Commit())

	return &fixture{
		db:       db,
		dialect:  dialect,
		registry: bgmigration.NewRegistry(dialect),
		repo:     repository.New(db, dialect, nil, repoOpts...),
		txMgr:    txn.NewTransactionManager(db),
	}
}

func (f *fixture) engine(opts ...bgmigration.Option) bgmigration.Engine {
	return bgmigration.NewEngine(f.registry, f.repo, f.txMgr, opts...)
}

func (f *fixture) count(t *testing.T, query string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(query).Scan(&n))
	return n
}

func (f *fixture) registerCopy(t *testing.T, name string, batchSize int) {
	t.Helper()
	err := bgmigration.NewJobBuilderFactory(f.registry).Get(name).
		FeatureTag("items").
		Table("items").
		CopyColumn("v", "v2").
		BatchSize(batchSize).
		Register()
	require.Nil(t, err)
}

// failingRange makes every mutation fail on the range holding id, after writing its rows.
// A negative budget fails forever.
type failingRange struct {
	id     int64
	budget atomic.Int64
}

func newFailingRange(id, budget int64) *failingRange {
	f := &failingRange{id: id}
	f.budget.Store(budget)
	return f
}

func (f *failingRange) Extend(desc *bgmigration.JobDescriptor, base bgmigration.Mutation) (bgmigration.Mutation, bool) {
	return bgmigration.MutationFunc(func(ctx context.Context, tx interface{}, d *bgmigration.JobDescriptor, r bgmigration.Range) (int64, error) {
		n, err := base.Apply(ctx, tx, d, r)
		if err != nil {
			return n, err
		}
		if r.Contains(bgmigration.Cursor{f.id}) && f.budget.Load() != 0 {
			f.budget.Add(-1)
			return 0, errors.New("constraint violated")
		}
		return n, nil
	}), true
}

type batchHook struct {
	after func(ctx context.Context, desc *bgmigration.JobDescriptor, result *bgmigration.BatchResult)
}

func (h *batchHook) BeforeBatch(context.Context, *bgmigration.JobDescriptor, bgmigration.Range) {}

func (h *batchHook) AfterBatch(ctx context.Context, desc *bgmigration.JobDescriptor, result *bgmigration.BatchResult) {
	h.after(ctx, desc, result)
}

func (h *batchHook) OnBatchError(context.Context, *bgmigration.JobDescriptor, bgmigration.Range, bgmigration.BatchError) {
}

func TestEngine_NoopJobRunsEveryBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.Nil(t, bgmigration.NewJobBuilderFactory(f.registry).Get("superseded").Noop().Register())
	engine := f.engine()

	summary, err := engine.Run(ctx, "superseded", bgmigration.Cursor{1}, bgmigration.Cursor{10000})
	require.Nil(t, err)
	assert.Equal(t, 10, summary.Batches)
	assert.Equal(t, int64(0), summary.RowsAffected)
	assert.Equal(t, bgmigration.StatusSucceeded, summary.Status)

	record, er := engine.Status(ctx, "superseded")
	require.NoError(t, er)
	assert.Equal(t, bgmigration.Cursor{10000}, record.LastCompletedCursor)
	assert.NotEmpty(t, record.RunID)
}

func TestEngine_CopiesColumnAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	engine := f.engine()

	summary, err := engine.Run(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.Equal(t, 5, summary.Batches)
	assert.Equal(t, int64(500), summary.RowsAffected)
	assert.Equal(t, 500, f.count(t, "SELECT COUNT(*) FROM items WHERE v2 = v"))

	summary, err = engine.Run(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.Equal(t, 0, summary.Batches)
	assert.Equal(t, bgmigration.StatusSucceeded, summary.Status)

	result, err := engine.Perform(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.True(t, result.Done)

	record, er := engine.Status(ctx, "copy")
	require.NoError(t, er)
	assert.Equal(t, int64(500), record.RowsProcessed)
}

func TestBatchExecutor_RerunIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// a value written before the migration must survive it
	_, err := f.db.Exec("UPDATE items SET v2 = -1 WHERE id <= 10")
	require.NoError(t, err)
	factory := bgmigration.NewJobBuilderFactory(f.registry)
	require.Nil(t, factory.Get("copy_pair").Table("items").CopyColumn("v", "v2").CopyColumn("w", "w2").BatchSize(100).Register())
	require.Nil(t, factory.Get("fill").Table("events").Cursor("tenant_id", "id").InnerBounds(1, 50).
		Backfill("v2", "v * 2").BatchSize(50).Register())
	executor := bgmigration.NewBatchExecutor(f.registry, f.txMgr, f.repo)

	desc, ok := f.registry.Lookup("copy_pair")
	require.True(t, ok)
	r := bgmigration.Range{Start: bgmigration.Cursor{1}, End: bgmigration.Cursor{100}}
	result, berr := executor.RunBatch(ctx, desc, r)
	require.Nil(t, berr)
	assert.Equal(t, int64(100), result.RowsAffected)
	assert.Equal(t, 90, f.count(t, "SELECT COUNT(*) FROM items WHERE v2 = v AND w2 = w"))
	assert.Equal(t, 10, f.count(t, "SELECT COUNT(*) FROM items WHERE v2 = -1 AND w2 = w"))
	assert.Equal(t, 100, f.count(t, "SELECT COUNT(*) FROM items WHERE w2 IS NOT NULL"))

	result, berr = executor.RunBatch(ctx, desc, r)
	require.Nil(t, berr)
	assert.Equal(t, int64(0), result.RowsAffected)
	assert.Equal(t, 90, f.count(t, "SELECT COUNT(*) FROM items WHERE v2 = v AND w2 = w"))
	assert.Equal(t, 10, f.count(t, "SELECT COUNT(*) FROM items WHERE v2 = -1 AND w2 = w"))
	assert.Equal(t, 100, f.count(t, "SELECT COUNT(*) FROM items WHERE w2 IS NOT NULL"))

	desc, ok = f.registry.Lookup("fill")
	require.True(t, ok)
	r = bgmigration.Range{Start: bgmigration.Cursor{1, 1}, End: bgmigration.Cursor{1, 50}}
	result, berr = executor.RunBatch(ctx, desc, r)
	require.Nil(t, berr)
	assert.Equal(t, int64(50), result.RowsAffected)
	result, berr = executor.RunBatch(ctx, desc, r)
	require.Nil(t, berr)
	assert.Equal(t, int64(0), result.RowsAffected)
	assert.Equal(t, 50, f.count(t, "SELECT COUNT(*) FROM events WHERE tenant_id = 1 AND v2 = v * 2"))
	assert.Equal(t, 0, f.count(t, "SELECT COUNT(*) FROM events WHERE tenant_id <> 1 AND v2 IS NOT NULL"))
}

func TestEngine_CancelDuringBatchStillCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	f.registry.Extend(bgmigration.ExtensionFunc(func(desc *bgmigration.JobDescriptor, base bgmigration.Mutation) (bgmigration.Mutation, bool) {
		return bgmigration.MutationFunc(func(ctx context.Context, tx interface{}, d *bgmigration.JobDescriptor, r bgmigration.Range) (int64, error) {
			cancel()
			return base.Apply(ctx, tx, d, r)
		}), true
	}))
	engine := f.engine()

	summary, err := engine.Run(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.NotNil(t, err)
	assert.Equal(t, bgmigration.ErrCodeJobStopped, err.Code())
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, int64(100), summary.RowsAffected)
	assert.Equal(t, 100, f.count(t, "SELECT COUNT(*) FROM items WHERE v2 = v"))

	record, er := engine.Status(context.Background(), "copy")
	require.NoError(t, er)
	assert.Equal(t, bgmigration.StatusRunning, record.Status)
	assert.Equal(t, bgmigration.Cursor{100}, record.LastCompletedCursor)
	assert.Equal(t, int64(100), record.RowsProcessed)
}

func TestEngine_ResumesAfterStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.Nil(t, bgmigration.NewJobBuilderFactory(f.registry).Get("superseded").Noop().Register())

	var engine bgmigration.Engine
	batches := 0
	hook := &batchHook{after: func(ctx context.Context, desc *bgmigration.JobDescriptor, result *bgmigration.BatchResult) {
		batches++
		if batches == 3 {
			require.NoError(t, engine.Stop(ctx, desc.Name))
		}
	}}
	engine = f.engine(bgmigration.WithListener(hook))

	summary, err := engine.Run(ctx, "superseded", bgmigration.Cursor{1}, bgmigration.Cursor{10000})
	require.NotNil(t, err)
	assert.Equal(t, bgmigration.ErrCodeJobStopped, err.Code())
	assert.Equal(t, 3, summary.Batches)

	record, er := engine.Status(ctx, "superseded")
	require.NoError(t, er)
	assert.Equal(t, bgmigration.StatusRunning, record.Status)
	assert.Equal(t, bgmigration.Cursor{3000}, record.LastCompletedCursor)

	summary, err = engine.Run(ctx, "superseded", bgmigration.Cursor{1}, bgmigration.Cursor{10000})
	require.Nil(t, err)
	assert.Equal(t, 7, summary.Batches)
	assert.Equal(t, bgmigration.StatusSucceeded, summary.Status)
}

func TestEngine_FailedBatchIsIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	failure := newFailingRange(250, -1)
	f.registry.Extend(failure)
	engine := f.engine(bgmigration.WithMaxBatchAttempts(1))

	summary, err := engine.Run(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.NotNil(t, err)
	assert.Equal(t, bgmigration.ErrCodeJobFailed, err.Code())
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, bgmigration.StatusFailed, summary.Status)

	// the rows of the failed batch were rolled back
	assert.Equal(t, 200, f.count(t, "SELECT COUNT(*) FROM items WHERE v2 IS NOT NULL"))
	record, er := engine.Status(ctx, "copy")
	require.NoError(t, er)
	assert.Equal(t, bgmigration.Cursor{200}, record.LastCompletedCursor)
	assert.Equal(t, int64(200), record.RowsProcessed)
	assert.Equal(t, 1, record.FailureCount)
	assert.Contains(t, record.LastError, "constraint violated")

	_, err = engine.Perform(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.NotNil(t, err)
	assert.Equal(t, bgmigration.ErrCodeJobFailed, err.Code())

	// a restart of a failed job resumes after the high-water mark
	failure.budget.Store(0)
	require.NoError(t, engine.Restart(ctx, "copy"))
	summary, err = engine.Run(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, bgmigration.StatusSucceeded, summary.Status)
	assert.Equal(t, 500, f.count(t, "SELECT COUNT(*) FROM items WHERE v2 = v"))
}

func TestEngine_MarksFailedAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	f.registry.Extend(newFailingRange(1, -1))
	engine := f.engine(bgmigration.WithMaxBatchAttempts(3))

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := engine.Perform(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
		require.NotNil(t, err)
		assert.Equal(t, bgmigration.ErrCodeMutation, err.Code())
		assert.True(t, bgmigration.IsRetryable(err))
		record, _ := engine.Status(ctx, "copy")
		assert.Equal(t, bgmigration.StatusRunning, record.Status)
		assert.Equal(t, attempt, record.FailureCount)
	}
	_, err := engine.Perform(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.NotNil(t, err)
	assert.Equal(t, bgmigration.ErrCodeJobFailed, err.Code())
	assert.False(t, bgmigration.IsRetryable(err))

	record, er := engine.Status(ctx, "copy")
	require.NoError(t, er)
	assert.Equal(t, bgmigration.StatusFailed, record.Status)
	assert.Empty(t, record.LastCompletedCursor)
}

func TestEngine_PermanentErrorFailsJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	var calls atomic.Int64
	f.registry.Extend(bgmigration.OverrideMutation(bgmigration.MutationFunc(func(context.Context, interface{}, *bgmigration.JobDescriptor, bgmigration.Range) (int64, error) {
		calls.Add(1)
		return 0, bgmigration.NewBatchError(bgmigration.ErrCodeInvalidDescriptor, "column v2 was dropped")
	}), "copy"))
	engine := f.engine(bgmigration.WithMaxBatchAttempts(5))

	_, err := engine.Perform(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.NotNil(t, err)
	assert.Equal(t, bgmigration.ErrCodeInvalidDescriptor, err.Code())

	record, er := engine.Status(ctx, "copy")
	require.NoError(t, er)
	assert.Equal(t, bgmigration.StatusFailed, record.Status)
	assert.Contains(t, record.LastError, "column v2 was dropped")

	_, err = engine.Perform(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.NotNil(t, err)
	assert.Equal(t, bgmigration.ErrCodeJobFailed, err.Code())
	assert.Equal(t, int64(1), calls.Load())

	require.NoError(t, engine.Restart(ctx, "copy"))
	record, er = engine.Status(ctx, "copy")
	require.NoError(t, er)
	assert.Equal(t, bgmigration.StatusPending, record.Status)
}

func TestEngine_FinalizeRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	f.registry.Extend(newFailingRange(301, 2))
	engine := f.engine(bgmigration.WithRetryBackoff(time.Millisecond, 5*time.Millisecond))

	summary, err := engine.Finalize(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.Equal(t, 5, summary.Batches)
	assert.Equal(t, bgmigration.StatusSucceeded, summary.Status)
	assert.Equal(t, 500, f.count(t, "SELECT COUNT(*) FROM items WHERE v2 = v"))
}

func TestEngine_RestartSucceededJobStartsOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.Nil(t, bgmigration.NewJobBuilderFactory(f.registry).Get("superseded").Noop().BatchSize(100).Register())
	engine := f.engine()

	_, err := engine.Run(ctx, "superseded", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	before, _ := engine.Status(ctx, "superseded")

	require.NoError(t, engine.Restart(ctx, "superseded"))
	after, er := engine.Status(ctx, "superseded")
	require.NoError(t, er)
	assert.Equal(t, bgmigration.StatusPending, after.Status)
	assert.Empty(t, after.LastCompletedCursor)
	assert.NotEqual(t, before.RunID, after.RunID)

	summary, err := engine.Run(ctx, "superseded", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.Equal(t, 5, summary.Batches)
}

func TestEngine_RestartRejectsIncompleteJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	engine := f.engine()

	assert.True(t, bgmigration.HasCode(engine.Restart(ctx, "copy"), bgmigration.ErrCodeJobNotFound))

	_, err := engine.Perform(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.True(t, bgmigration.HasCode(engine.Restart(ctx, "copy"), bgmigration.ErrCodeJobRunning))
}

func TestEngine_CompositeCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	factory := bgmigration.NewJobBuilderFactory(f.registry)
	require.Nil(t, factory.Get("bounded").Table("events").Cursor("tenant_id", "id").InnerBounds(1, 50).
		CopyColumn("v", "v2").BatchSize(20).Register())
	engine := f.engine()

	summary, err := engine.Run(ctx, "bounded", bgmigration.Cursor{1, 1}, bgmigration.Cursor{3, 50})
	require.Nil(t, err)
	assert.Equal(t, 9, summary.Batches)
	assert.Equal(t, int64(150), summary.RowsAffected)
	assert.Equal(t, 150, f.count(t, "SELECT COUNT(*) FROM events WHERE v2 = v"))

	record, er := engine.Status(ctx, "bounded")
	require.NoError(t, er)
	assert.Equal(t, bgmigration.Cursor{3, 50}, record.LastCompletedCursor)
}

func TestEngine_CompositeCursorUnboundedInner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.Nil(t, bgmigration.NewJobBuilderFactory(f.registry).Get("unbounded").Table("events").Cursor("tenant_id", "id").
		Backfill("v2", "v + 1").BatchSize(20).Register())
	engine := f.engine()

	summary, err := engine.Run(ctx, "unbounded", bgmigration.Cursor{1, 10}, bgmigration.Cursor{3, 20})
	require.Nil(t, err)
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 41+50+20, f.count(t, "SELECT COUNT(*) FROM events WHERE v2 = v + 1"))
}

func TestEngine_AliasKeepsOwnProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	require.Nil(t, f.registry.Alias("copy_v1", "copy"))
	engine := f.engine()

	summary, err := engine.Run(ctx, "copy_v1", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.Equal(t, bgmigration.StatusSucceeded, summary.Status)
	assert.Equal(t, 500, f.count(t, "SELECT COUNT(*) FROM items WHERE v2 = v"))

	_, er := engine.Status(ctx, "copy")
	assert.True(t, bgmigration.HasCode(er, bgmigration.ErrCodeJobNotFound))
}

func TestEngine_SlicesCompleteOnlyAtStopCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	engine := f.engine()
	require.Nil(t, f.repo.Create(ctx, &bgmigration.ProgressRecord{JobName: "copy", RunID: "scheduled", StopCursor: bgmigration.Cursor{500}}))

	summary, err := engine.Run(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{300})
	require.Nil(t, err)
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, bgmigration.StatusRunning, summary.Status)

	summary, err = engine.Run(ctx, "copy", bgmigration.Cursor{301}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, bgmigration.StatusSucceeded, summary.Status)
}

func TestEngine_SchemaMismatchFailsJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.Nil(t, bgmigration.NewJobBuilderFactory(f.registry).Get("broken").Table("items").CopyColumn("missing", "v2").Register())
	engine := f.engine(bgmigration.WithSchemaInspector(txn.NewInspector(f.db, f.dialect)))

	_, err := engine.Perform(ctx, "broken", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.NotNil(t, err)
	assert.Equal(t, bgmigration.ErrCodeInvalidDescriptor, err.Code())

	record, er := engine.Status(ctx, "broken")
	require.NoError(t, er)
	assert.Equal(t, bgmigration.StatusFailed, record.Status)
}

func TestEngine_RejectsMismatchedCursor(t *testing.T) {
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	_, err := f.engine().Perform(context.Background(), "copy", bgmigration.Cursor{1, 1}, bgmigration.Cursor{5, 5})
	require.NotNil(t, err)
	assert.Equal(t, bgmigration.ErrCodeInvalidDescriptor, err.Code())

	_, err = f.engine().Perform(context.Background(), "missing", bgmigration.Cursor{1}, bgmigration.Cursor{5})
	require.NotNil(t, err)
	assert.Equal(t, bgmigration.ErrCodeJobNotFound, err.Code())
}

func TestEngine_RunIsExclusivePerJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.Nil(t, bgmigration.NewJobBuilderFactory(f.registry).Get("superseded").Noop().Register())

	var engine bgmigration.Engine
	var concurrent bgmigration.BatchError
	hook := &batchHook{after: func(ctx context.Context, desc *bgmigration.JobDescriptor, result *bgmigration.BatchResult) {
		if concurrent == nil {
			_, concurrent = engine.Run(ctx, desc.Name, bgmigration.Cursor{1}, bgmigration.Cursor{2000})
		}
	}}
	engine = f.engine(bgmigration.WithListener(hook))

	_, err := engine.Run(ctx, "superseded", bgmigration.Cursor{1}, bgmigration.Cursor{2000})
	require.Nil(t, err)
	require.NotNil(t, concurrent)
	assert.Equal(t, bgmigration.ErrCodeJobRunning, concurrent.Code())
}

func TestEngine_StartWithParameters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	engine := f.engine()

	summary, err := engine.Start(ctx, "copy", `{"start_id": 1, "stop_id": 500}`)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Batches)
	assert.Equal(t, bgmigration.StatusSucceeded, summary.Status)

	_, err = engine.Start(ctx, "copy", `{"start_id": 1}`)
	assert.Error(t, err)
	_, err = engine.StartAsync(ctx, "missing", bgmigration.RangeParameters(bgmigration.Cursor{1}, bgmigration.Cursor{2}).ToString())
	assert.True(t, bgmigration.HasCode(err, bgmigration.ErrCodeJobNotFound))
}

func TestEngine_SeparateProgressStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, repository.WithSeparateStore())
	f.registerCopy(t, "copy", 250)

	summary, err := f.engine().Run(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, bgmigration.StatusSucceeded, summary.Status)
}

func TestEngine_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerCopy(t, "copy", 100)
	metrics := bgmigration.NewMetrics("test")
	engine := f.engine(bgmigration.WithMetrics(metrics))

	_, err := engine.Run(ctx, "copy", bgmigration.Cursor{1}, bgmigration.Cursor{500})
	require.Nil(t, err)
	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.Batches.WithLabelValues("copy", "items", "succeeded")))
	assert.Equal(t, float64(500), testutil.ToFloat64(metrics.RowsAffected.WithLabelValues("copy", "items")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobsFinished.WithLabelValues("copy", "succeeded")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.RunningJobs))
}
