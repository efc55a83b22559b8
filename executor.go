package bgmigration

import (
	"context"
	"time"
)

// BatchExecutor runs one range of a job in one transaction and advances its progress
type BatchExecutor struct {
	registry   *Registry
	txMgr      TransactionManager
	repository ProgressRepository
}

// NewBatchExecutor create a BatchExecutor
func NewBatchExecutor(registry *Registry, txMgr TransactionManager, repository ProgressRepository) *BatchExecutor {
	return &BatchExecutor{
		registry:   registry,
		txMgr:      txMgr,
		repository: repository,
	}
}

// RunBatch applies the mutation of desc to r. Data changes and the new high-water mark are committed together
// when the repository can share the transaction; otherwise the mark is written right after commit.
// On any error the transaction is rolled back and the mark is left unchanged.
func (e *BatchExecutor) RunBatch(ctx context.Context, desc *JobDescriptor, r Range) (*BatchResult, BatchError) {
	_, m, err := e.registry.Resolve(desc.Name)
	if err != nil {
		return nil, err
	}
	return e.runBatch(ctx, desc, m, r)
}

func (e *BatchExecutor) runBatch(ctx context.Context, desc *JobDescriptor, m Mutation, r Range) (result *BatchResult, err BatchError) {
	// once begun a batch runs to commit or rollback, cancellation is observed between batches
	ctx = context.WithoutCancel(ctx)
	tx, err := e.txMgr.BeginTx(ctx)
	if err != nil {
		DefaultLogger.Error(ctx, "begin transaction failed, jobName:%v, range:%v, err:%v", desc.Name, r, err)
		return nil, err
	}
	finished := false
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = NewBatchError(ErrCodeMutation, "panic on running batch, jobName:%v, range:%v, panic:%v", desc.Name, r, p)
			DefaultLogger.Error(ctx, "%v", err)
		}
		if !finished {
			if rbErr := e.txMgr.Rollback(tx); rbErr != nil {
				DefaultLogger.Error(ctx, "rollback transaction failed, jobName:%v, range:%v, err:%v", desc.Name, r, rbErr)
			}
		}
	}()

	start := time.Now()
	var rows int64
	for _, sub := range Ranges(desc, r.Start, r.End, desc.EffectiveSubBatchSize()) {
		n, er := m.Apply(ctx, tx, desc, sub)
		if er != nil {
			if be, ok := er.(BatchError); ok {
				return nil, be
			}
			return nil, NewBatchError(ErrCodeMutation, "apply mutation of job:%v on range:%v failed", desc.Name, sub, er)
		}
		rows += n
	}

	advancedInTx := false
	if w, ok := e.repository.(TxProgressWriter); ok && w.SupportsTx(tx) {
		advanced, er := e.repository.Advance(ctx, tx, desc.Name, r.End, rows)
		if er != nil {
			return nil, er
		}
		if !advanced {
			DefaultLogger.Warn(ctx, "progress not advanced, a later range already completed, jobName:%v, range:%v", desc.Name, r)
		}
		advancedInTx = true
	}

	finished = true
	if er := e.txMgr.Commit(tx); er != nil {
		DefaultLogger.Error(ctx, "commit batch failed, jobName:%v, range:%v, err:%v", desc.Name, r, er)
		return nil, er
	}

	if !advancedInTx {
		// data is committed; a failure here only makes the range run once more
		if _, er := e.repository.Advance(ctx, nil, desc.Name, r.End, rows); er != nil {
			DefaultLogger.Error(ctx, "advance progress after commit failed, jobName:%v, range:%v, err:%v", desc.Name, r, er)
			return nil, er
		}
	}

	DefaultLogger.Debug(ctx, "batch committed, jobName:%v, range:%v, rows:%v, cost:%v", desc.Name, r, rows, time.Since(start))
	return &BatchResult{
		JobName:      desc.Name,
		Range:        &r,
		RowsAffected: rows,
		Succeeded:    true,
	}, nil
}
