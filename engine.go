package bgmigration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Engine runs batched migrations registered in its Registry
type Engine interface {
	Registry() *Registry
	// Perform runs the next batch of the job inside [start, stop], resuming from the persisted high-water mark
	Perform(ctx context.Context, jobName string, start, stop Cursor) (*BatchResult, BatchError)
	// Run performs batches until [start, stop] is exhausted, the job is stopped or a batch fails
	Run(ctx context.Context, jobName string, start, stop Cursor) (*RunSummary, BatchError)
	// Finalize runs all remaining batches inline, retrying transient failures
	Finalize(ctx context.Context, jobName string, start, stop Cursor) (*RunSummary, BatchError)
	Start(ctx context.Context, jobName string, params string) (*RunSummary, error)
	StartAsync(ctx context.Context, jobName string, params string) (*Future, error)
	Stop(ctx context.Context, jobName string) error
	Restart(ctx context.Context, jobName string) error
	Status(ctx context.Context, jobName string) (*ProgressRecord, error)
}

// Option configures an Engine
type Option func(e *engine)

// WithMetrics records batch metrics into m
func WithMetrics(m *Metrics) Option {
	return func(e *engine) { e.metrics = m }
}

// WithListener adds BatchListener and/or JobListener implementations
func WithListener(listeners ...interface{}) Option {
	return func(e *engine) {
		for _, l := range listeners {
			valid := false
			if bl, ok := l.(BatchListener); ok {
				e.batchListeners = append(e.batchListeners, bl)
				valid = true
			}
			if jl, ok := l.(JobListener); ok {
				e.jobListeners = append(e.jobListeners, jl)
				valid = true
			}
			if !valid {
				panic("not supported listener")
			}
		}
	}
}

// WithSchemaInspector validates descriptor columns against the store when a job starts
func WithSchemaInspector(inspector SchemaInspector) Option {
	return func(e *engine) { e.inspector = inspector }
}

// WithMaxBatchAttempts sets the number of consecutive failures of one range after which a job fails
func WithMaxBatchAttempts(n int) Option {
	return func(e *engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the backoff used by Start, StartAsync and Finalize between retries of a failed batch
func WithRetryBackoff(initial, max time.Duration) Option {
	return func(e *engine) {
		e.backoff = initial
		e.maxBackoff = max
	}
}

// NewEngine create an Engine
func NewEngine(registry *Registry, repository ProgressRepository, txMgr TransactionManager, opts ...Option) Engine {
	e := &engine{
		registry:    registry,
		repository:  repository,
		executor:    NewBatchExecutor(registry, txMgr, repository),
		running:     map[string]*runState{},
		maxAttempts: DefaultMaxBatchAttempts,
		backoff:     DefaultRetryBackoff,
		maxBackoff:  DefaultMaxRetryBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type runState struct {
	stopping atomic.Bool
}

type engine struct {
	registry       *Registry
	repository     ProgressRepository
	executor       *BatchExecutor
	inspector      SchemaInspector
	metrics        *Metrics
	batchListeners []BatchListener
	jobListeners   []JobListener
	maxAttempts    int
	backoff        time.Duration
	maxBackoff     time.Duration

	mu      sync.Mutex
	running map[string]*runState
}

func (e *engine) Registry() *Registry {
	return e.registry
}

// Perform perform the next batch of a job
func (e *engine) Perform(ctx context.Context, jobName string, start, stop Cursor) (*BatchResult, BatchError) {
	desc, m, err := e.registry.Resolve(jobName)
	if err != nil {
		DefaultLogger.Error(ctx, "resolve job error, jobName:%v, err:%v", jobName, err)
		return nil, err
	}
	if err = desc.ValidateCursor(start); err != nil {
		return nil, err
	}
	if err = desc.ValidateCursor(stop); err != nil {
		return nil, err
	}
	record, err := e.loadOrCreate(ctx, desc, stop)
	if err != nil {
		return nil, err
	}
	switch record.Status {
	case StatusSucceeded:
		return &BatchResult{JobName: jobName, Succeeded: true, Done: true}, nil
	case StatusFailed:
		return nil, NewBatchError(ErrCodeJobFailed, "job:%v has failed and requires a restart, last error:%v", jobName, record.LastError)
	case StatusPending:
		if err = e.begin(ctx, desc); err != nil {
			return nil, err
		}
	}

	var r *Range
	if lower, ok := record.ResumeFrom(desc, start); ok {
		r = NextRange(desc, lower, stop, desc.BatchSize)
	}
	if r == nil {
		return e.complete(ctx, desc, record, stop)
	}

	for _, l := range e.batchListeners {
		l.BeforeBatch(ctx, desc, *r)
	}
	begin := time.Now()
	result, err := e.executor.runBatch(ctx, desc, m, *r)
	if err != nil {
		e.metrics.observeBatch(desc, "failed", 0, time.Since(begin).Seconds())
		for _, l := range e.batchListeners {
			l.OnBatchError(ctx, desc, *r, err)
		}
		return nil, e.fail(ctx, desc, *r, err)
	}
	e.metrics.observeBatch(desc, "succeeded", result.RowsAffected, time.Since(begin).Seconds())
	for _, l := range e.batchListeners {
		l.AfterBatch(ctx, desc, result)
	}
	return result, nil
}

func (e *engine) loadOrCreate(ctx context.Context, desc *JobDescriptor, stop Cursor) (*ProgressRecord, BatchError) {
	record, err := e.repository.Load(ctx, desc.Name)
	if err != nil {
		DefaultLogger.Error(ctx, "load progress error, jobName:%v, err:%v", desc.Name, err)
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	record = &ProgressRecord{
		JobName:    desc.Name,
		RunID:      uuid.NewString(),
		FeatureTag: desc.FeatureTag,
		StopCursor: stop,
		Status:     StatusPending,
	}
	if err = e.repository.Create(ctx, record); err != nil {
		DefaultLogger.Error(ctx, "create progress error, jobName:%v, err:%v", desc.Name, err)
		return nil, err
	}
	return e.repository.Load(ctx, desc.Name)
}

// begin moves a pending job to running after checking its columns
func (e *engine) begin(ctx context.Context, desc *JobDescriptor) BatchError {
	if e.inspector != nil && desc.MutationKind() != MutationNoop {
		if err := e.inspector.HasColumns(ctx, desc.TargetTable, desc.Columns()); err != nil {
			DefaultLogger.Error(ctx, "job descriptor does not match the schema, jobName:%v, err:%v", desc.Name, err)
			if er := e.repository.Mark(ctx, desc.Name, StatusFailed, err.Error()); er != nil {
				return er
			}
			e.finished(ctx, desc.Name)
			return NewBatchError(ErrCodeInvalidDescriptor, "job:%v does not match table:%v", desc.Name, desc.TargetTable, err)
		}
	}
	if err := e.repository.Mark(ctx, desc.Name, StatusRunning, ""); err != nil {
		return err
	}
	DefaultLogger.Info(ctx, "job started, jobName:%v, feature:%v", desc.Name, desc.FeatureTag)
	return nil
}

func (e *engine) complete(ctx context.Context, desc *JobDescriptor, record *ProgressRecord, stop Cursor) (*BatchResult, BatchError) {
	if stop.Compare(record.StopCursor) < 0 {
		// only a slice of the job was requested
		return &BatchResult{JobName: desc.Name, Succeeded: true, Done: true}, nil
	}
	if err := e.repository.Mark(ctx, desc.Name, StatusSucceeded, ""); err != nil {
		return nil, err
	}
	DefaultLogger.Info(ctx, "job succeeded, jobName:%v, rows:%v", desc.Name, record.RowsProcessed)
	e.finished(ctx, desc.Name)
	return &BatchResult{JobName: desc.Name, Succeeded: true, Done: true}, nil
}

func (e *engine) fail(ctx context.Context, desc *JobDescriptor, r Range, cause BatchError) BatchError {
	if !IsRetryable(cause) {
		if HasCode(cause, ErrCodeJobStopped) || HasCode(cause, ErrCodeJobRunning) {
			return cause
		}
		// retrying can not help, the job needs a restart
		DefaultLogger.Error(ctx, "batch failed with a permanent error, job is marked as failed, jobName:%v, range:%v, err:%v", desc.Name, r, cause)
		if err := e.repository.Mark(ctx, desc.Name, StatusFailed, cause.Error()); err != nil {
			DefaultLogger.Error(ctx, "mark job as failed error, jobName:%v, err:%v", desc.Name, err)
			return cause
		}
		e.finished(ctx, desc.Name)
		return cause
	}
	attempts, err := e.repository.RecordFailure(ctx, desc.Name, r.Start, cause.Error())
	if err != nil {
		DefaultLogger.Error(ctx, "record batch failure error, jobName:%v, range:%v, err:%v", desc.Name, r, err)
		return cause
	}
	if attempts < e.maxAttempts {
		DefaultLogger.Warn(ctx, "batch failed, will be retried, jobName:%v, range:%v, attempts:%v, err:%v", desc.Name, r, attempts, cause)
		return cause
	}
	DefaultLogger.Error(ctx, "batch failed %v times, job is marked as failed, jobName:%v, range:%v, err:%v", attempts, desc.Name, r, cause)
	if err = e.repository.Mark(ctx, desc.Name, StatusFailed, cause.Error()); err != nil {
		return err
	}
	e.finished(ctx, desc.Name)
	return NewBatchError(ErrCodeJobFailed, "job:%v failed on range:%v after %v attempts", desc.Name, r, attempts, cause)
}

func (e *engine) finished(ctx context.Context, jobName string) {
	if len(e.jobListeners) == 0 && e.metrics == nil {
		return
	}
	record, err := e.repository.Load(ctx, jobName)
	if err != nil || record == nil {
		return
	}
	e.metrics.observeFinished(jobName, record.Status)
	for _, l := range e.jobListeners {
		l.OnJobFinished(ctx, record)
	}
}

// Run run batches of a job until it is exhausted
func (e *engine) Run(ctx context.Context, jobName string, start, stop Cursor) (*RunSummary, BatchError) {
	state, err := e.acquire(jobName)
	if err != nil {
		return nil, err
	}
	defer e.release(jobName)
	summary := &RunSummary{JobName: jobName}
	return summary, e.run(ctx, state, summary, start, stop)
}

func (e *engine) run(ctx context.Context, state *runState, summary *RunSummary, start, stop Cursor) BatchError {
	ctx = WithLogFields(ctx, map[string]interface{}{"job": summary.JobName})
	desc, ok := e.registry.Lookup(summary.JobName)
	if !ok {
		return NewBatchError(ErrCodeJobNotFound, "can not find job with name:%v", summary.JobName)
	}
	for {
		if ctx.Err() != nil || state.stopping.Load() {
			DefaultLogger.Info(ctx, "job stopped between batches, jobName:%v, batches:%v", summary.JobName, summary.Batches)
			return NewBatchError(ErrCodeJobStopped, "job:%v was stopped", summary.JobName)
		}
		result, err := e.Perform(ctx, summary.JobName, start, stop)
		if err != nil {
			if record, er := e.repository.Load(ctx, summary.JobName); er == nil && record != nil {
				summary.Status = record.Status
			}
			return err
		}
		if result.Done {
			record, er := e.repository.Load(ctx, summary.JobName)
			if er != nil {
				return er
			}
			if record != nil {
				summary.Status = record.Status
			}
			return nil
		}
		summary.Batches++
		summary.RowsAffected += result.RowsAffected
		if desc.PauseInterval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(desc.PauseInterval):
			}
		}
	}
}

// runWithRetry retries transient failures with exponential backoff until the job completes or fails
func (e *engine) runWithRetry(ctx context.Context, jobName string, start, stop Cursor) (*RunSummary, BatchError) {
	state, err := e.acquire(jobName)
	if err != nil {
		return nil, err
	}
	defer e.release(jobName)
	summary := &RunSummary{JobName: jobName}
	backoff := e.backoff
	for {
		err = e.run(ctx, state, summary, start, stop)
		if err == nil || !IsRetryable(err) {
			return summary, err
		}
		DefaultLogger.Warn(ctx, "job will be retried after %v, jobName:%v, err:%v", backoff, jobName, err)
		select {
		case <-ctx.Done():
			return summary, NewBatchError(ErrCodeJobStopped, "job:%v was stopped while waiting for retry", jobName, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > e.maxBackoff {
			backoff = e.maxBackoff
		}
	}
}

func (e *engine) acquire(jobName string) (*runState, BatchError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[jobName]; ok {
		return nil, NewBatchError(ErrCodeJobRunning, "the job is in executing, jobName:%v", jobName)
	}
	state := &runState{}
	e.running[jobName] = state
	if e.metrics != nil {
		e.metrics.RunningJobs.Inc()
	}
	return state, nil
}

func (e *engine) release(jobName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, jobName)
	if e.metrics != nil {
		e.metrics.RunningJobs.Dec()
	}
}

// Finalize run all remaining batches of a job in the calling goroutine
func (e *engine) Finalize(ctx context.Context, jobName string, start, stop Cursor) (*RunSummary, BatchError) {
	DefaultLogger.Info(ctx, "finalizing job, jobName:%v, start:%v, stop:%v", jobName, start, stop)
	return e.runWithRetry(ctx, jobName, start, stop)
}

// Start start job by job name and params
func (e *engine) Start(ctx context.Context, jobName string, params string) (*RunSummary, error) {
	future, err := e.StartAsync(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	ret, err := future.Get()
	summary, _ := ret.(*RunSummary)
	return summary, err
}

// StartAsync start job by job name and params asynchronously
func (e *engine) StartAsync(ctx context.Context, jobName string, params string) (*Future, error) {
	if _, ok := e.registry.Lookup(jobName); !ok {
		DefaultLogger.Error(ctx, "can not find job with name:%v", jobName)
		return nil, NewBatchError(ErrCodeJobNotFound, "can not find job with name:%v", jobName)
	}
	jobParams, err := ParseJobParams(params)
	if err != nil {
		DefaultLogger.Error(ctx, "parse job params error, jobName:%v, params:%v, err:%v", jobName, params, err)
		return nil, NewBatchError(ErrCodeGeneral, "parse job params error, jobName:%v", jobName, err)
	}
	start, err := jobParams.Cursor(ParamStartID)
	if err != nil {
		return nil, NewBatchError(ErrCodeGeneral, "invalid params of job:%v", jobName, err)
	}
	stop, err := jobParams.Cursor(ParamStopID)
	if err != nil {
		return nil, NewBatchError(ErrCodeGeneral, "invalid params of job:%v", jobName, err)
	}
	e.mu.Lock()
	_, running := e.running[jobName]
	e.mu.Unlock()
	if running {
		DefaultLogger.Error(ctx, "the job is in executing, can not start, jobName:%v", jobName)
		return nil, errors.Errorf("the job is in executing, can not start, jobName:%v", jobName)
	}
	future := jobPool.Submit(ctx, func() (interface{}, error) {
		summary, er := e.runWithRetry(ctx, jobName, start, stop)
		if er != nil {
			return summary, er
		}
		return summary, nil
	})
	DefaultLogger.Info(ctx, "job submitted, jobName:%v, start:%v, stop:%v", jobName, start, stop)
	return future, nil
}

// Stop stop a job running in this process; the batch in flight completes first
func (e *engine) Stop(ctx context.Context, jobName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.running[jobName]
	if !ok {
		DefaultLogger.Error(ctx, "there is no running job instance with name:%v to stop", jobName)
		return errors.Errorf("there is no running job instance with name:%v to stop", jobName)
	}
	state.stopping.Store(true)
	DefaultLogger.Info(ctx, "job will be stopped, jobName:%v", jobName)
	return nil
}

// Restart starts a new logical run of a terminal job. A failed job resumes from its high-water mark,
// a succeeded job starts over.
func (e *engine) Restart(ctx context.Context, jobName string) error {
	e.mu.Lock()
	_, running := e.running[jobName]
	e.mu.Unlock()
	if running {
		return NewBatchError(ErrCodeJobRunning, "the job is in executing, can not restart, jobName:%v", jobName)
	}
	record, err := e.repository.Load(ctx, jobName)
	if err != nil {
		return err
	}
	if record == nil {
		return NewBatchError(ErrCodeJobNotFound, "job:%v has never been scheduled", jobName)
	}
	if !record.Status.Terminal() {
		return NewBatchError(ErrCodeJobRunning, "job:%v is %v, only succeeded or failed jobs can be restarted", jobName, record.Status)
	}
	runID := uuid.NewString()
	if err = e.repository.Restart(ctx, jobName, runID, record.Status == StatusFailed); err != nil {
		return err
	}
	DefaultLogger.Info(ctx, "job restarted, jobName:%v, runId:%v, previous status:%v", jobName, runID, record.Status)
	return nil
}

// Status returns the progress record of a job
func (e *engine) Status(ctx context.Context, jobName string) (*ProgressRecord, error) {
	record, err := e.repository.Load(ctx, jobName)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, NewBatchError(ErrCodeJobNotFound, "job:%v has never been scheduled", jobName)
	}
	return record, nil
}
