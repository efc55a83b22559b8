package bgmigration

import "context"

// BatchListener is notified around every batch run by the engine
type BatchListener interface {
	BeforeBatch(ctx context.Context, desc *JobDescriptor, r Range)
	AfterBatch(ctx context.Context, desc *JobDescriptor, result *BatchResult)
	OnBatchError(ctx context.Context, desc *JobDescriptor, r Range, err BatchError)
}

// JobListener is notified when a job reaches a terminal status
type JobListener interface {
	OnJobFinished(ctx context.Context, record *ProgressRecord)
}
