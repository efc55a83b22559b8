package bgmigration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// txRepository shares the batch transaction
type txRepository struct {
	*MockProgressRepository
}

func (txRepository) SupportsTx(tx interface{}) bool {
	return tx == "tx"
}

func countingMutation(calls *[]Range) Mutation {
	return MutationFunc(func(ctx context.Context, tx interface{}, desc *JobDescriptor, r Range) (int64, error) {
		*calls = append(*calls, r)
		return r.Span(), nil
	})
}

func TestRunBatch_AdvancesAfterCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	txMgr := NewMockTransactionManager(ctrl)
	repo := NewMockProgressRepository(ctrl)
	desc := &JobDescriptor{Name: "job", CursorColumns: []string{"id"}, BatchSize: 100, SubBatchSize: 25}
	r := Range{Start: Cursor{1}, End: Cursor{100}}

	gomock.InOrder(
		txMgr.EXPECT().BeginTx(gomock.Any()).Return("tx", nil),
		txMgr.EXPECT().Commit("tx").Return(nil),
		repo.EXPECT().Advance(gomock.Any(), nil, "job", Cursor{100}, int64(100)).Return(true, nil),
	)

	var calls []Range
	result, err := NewBatchExecutor(nil, txMgr, repo).runBatch(context.Background(), desc, countingMutation(&calls), r)
	require.Nil(t, err)
	assert.Equal(t, int64(100), result.RowsAffected)
	assert.True(t, result.Succeeded)
	assert.Equal(t, r, *result.Range)
	require.Len(t, calls, 4)
	assert.Equal(t, Range{Start: Cursor{76}, End: Cursor{100}}, calls[3])
}

func TestRunBatch_AdvancesInsideTransaction(t *testing.T) {
	ctrl := gomock.NewController(t)
	txMgr := NewMockTransactionManager(ctrl)
	repo := txRepository{NewMockProgressRepository(ctrl)}
	desc := &JobDescriptor{Name: "job", CursorColumns: []string{"id"}, BatchSize: 10}

	gomock.InOrder(
		txMgr.EXPECT().BeginTx(gomock.Any()).Return("tx", nil),
		repo.EXPECT().Advance(gomock.Any(), "tx", "job", Cursor{10}, int64(10)).Return(true, nil),
		txMgr.EXPECT().Commit("tx").Return(nil),
	)

	var calls []Range
	_, err := NewBatchExecutor(nil, txMgr, repo).runBatch(context.Background(), desc, countingMutation(&calls), Range{Start: Cursor{1}, End: Cursor{10}})
	require.Nil(t, err)
	assert.Len(t, calls, 1)
}

func TestRunBatch_RollsBackOnMutationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	txMgr := NewMockTransactionManager(ctrl)
	repo := txRepository{NewMockProgressRepository(ctrl)}
	desc := &JobDescriptor{Name: "job", CursorColumns: []string{"id"}, BatchSize: 10}

	txMgr.EXPECT().BeginTx(gomock.Any()).Return("tx", nil)
	txMgr.EXPECT().Rollback("tx").Return(nil)

	failing := MutationFunc(func(context.Context, interface{}, *JobDescriptor, Range) (int64, error) {
		return 0, errors.New("deadlock detected")
	})
	result, err := NewBatchExecutor(nil, txMgr, repo).runBatch(context.Background(), desc, failing, Range{Start: Cursor{1}, End: Cursor{10}})
	assert.Nil(t, result)
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeMutation, err.Code())
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.True(t, IsRetryable(err))
}

func TestRunBatch_RollsBackOnPanic(t *testing.T) {
	ctrl := gomock.NewController(t)
	txMgr := NewMockTransactionManager(ctrl)
	repo := NewMockProgressRepository(ctrl)
	desc := &JobDescriptor{Name: "job", CursorColumns: []string{"id"}, BatchSize: 10}

	txMgr.EXPECT().BeginTx(gomock.Any()).Return("tx", nil)
	txMgr.EXPECT().Rollback("tx").Return(nil)

	panicking := MutationFunc(func(context.Context, interface{}, *JobDescriptor, Range) (int64, error) {
		panic("index out of range")
	})
	_, err := NewBatchExecutor(nil, txMgr, repo).runBatch(context.Background(), desc, panicking, Range{Start: Cursor{1}, End: Cursor{10}})
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeMutation, err.Code())
}

func TestRunBatch_RollsBackWhenProgressWriteFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	txMgr := NewMockTransactionManager(ctrl)
	repo := txRepository{NewMockProgressRepository(ctrl)}
	desc := &JobDescriptor{Name: "job", CursorColumns: []string{"id"}, BatchSize: 10}

	txMgr.EXPECT().BeginTx(gomock.Any()).Return("tx", nil)
	repo.EXPECT().Advance(gomock.Any(), "tx", "job", Cursor{10}, int64(0)).
		Return(false, NewBatchError(ErrCodeDbFail, "lock wait timeout"))
	txMgr.EXPECT().Rollback("tx").Return(nil)

	_, err := NewBatchExecutor(nil, txMgr, repo).runBatch(context.Background(), desc, NoopMutation, Range{Start: Cursor{1}, End: Cursor{10}})
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeDbFail, err.Code())
}

func TestRunBatch_CommitFailureLeavesProgress(t *testing.T) {
	ctrl := gomock.NewController(t)
	txMgr := NewMockTransactionManager(ctrl)
	repo := NewMockProgressRepository(ctrl)
	desc := &JobDescriptor{Name: "job", CursorColumns: []string{"id"}, BatchSize: 10}

	txMgr.EXPECT().BeginTx(gomock.Any()).Return("tx", nil)
	txMgr.EXPECT().Commit("tx").Return(NewBatchError(ErrCodeDbFail, "connection lost"))
	// no Advance expected

	_, err := NewBatchExecutor(nil, txMgr, repo).runBatch(context.Background(), desc, NoopMutation, Range{Start: Cursor{1}, End: Cursor{10}})
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeDbFail, err.Code())
}

func TestRunBatch_BeginFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	txMgr := NewMockTransactionManager(ctrl)
	desc := &JobDescriptor{Name: "job", CursorColumns: []string{"id"}, BatchSize: 10}

	txMgr.EXPECT().BeginTx(gomock.Any()).Return(nil, NewBatchError(ErrCodeDbFail, "too many connections"))

	_, err := NewBatchExecutor(nil, txMgr, NewMockProgressRepository(ctrl)).runBatch(context.Background(), desc, NoopMutation, Range{Start: Cursor{1}, End: Cursor{10}})
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeDbFail, err.Code())
}

func TestRunBatch_ResolvesMutationFromRegistry(t *testing.T) {
	ctrl := gomock.NewController(t)
	txMgr := NewMockTransactionManager(ctrl)
	repo := NewMockProgressRepository(ctrl)
	registry := NewRegistry(SQLite)
	require.Nil(t, NewJobBuilderFactory(registry).Get("job").BatchSize(10).Register())

	var calls []Range
	registry.Extend(OverrideMutation(countingMutation(&calls), "job"))

	txMgr.EXPECT().BeginTx(gomock.Any()).Return("tx", nil)
	txMgr.EXPECT().Commit("tx").Return(nil)
	repo.EXPECT().Advance(gomock.Any(), nil, "job", Cursor{10}, int64(10)).Return(true, nil)

	desc, ok := registry.Lookup("job")
	require.True(t, ok)
	_, err := NewBatchExecutor(registry, txMgr, repo).RunBatch(context.Background(), desc, Range{Start: Cursor{1}, End: Cursor{10}})
	require.Nil(t, err)
	assert.Len(t, calls, 1)
}
