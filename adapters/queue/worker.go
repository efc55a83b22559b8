package queue

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"github.com/chararch/bgmigration"
)

// Performer runs the next batch of a job, bgmigration.Engine implements it
type Performer interface {
	Perform(ctx context.Context, jobName string, start, stop bgmigration.Cursor) (*bgmigration.BatchResult, bgmigration.BatchError)
}

// WorkerOptions tunes a Worker
type WorkerOptions struct {
	PollInterval time.Duration
	// ClaimLimit the max number of entries claimed per poll
	ClaimLimit  int
	Concurrency int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func (o *WorkerOptions) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ClaimLimit <= 0 {
		o.ClaimLimit = 100
	}
	if o.Concurrency <= 0 {
		o.Concurrency = bgmigration.DefaultJobPoolSize
	}
	if o.Backoff <= 0 {
		o.Backoff = bgmigration.DefaultRetryBackoff
	}
	if o.MaxBackoff < o.Backoff {
		o.MaxBackoff = bgmigration.DefaultMaxRetryBackoff
	}
}

// Worker polls the queue and performs due batches. Entries of different jobs run concurrently,
// entries of one job run in cursor order.
type Worker struct {
	queue     *Queue
	performer Performer
	opts      WorkerOptions
	pool      *ants.Pool
}

// NewWorker create a Worker
func NewWorker(queue *Queue, performer Performer, opts WorkerOptions) (*Worker, error) {
	opts.withDefaults()
	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	return &Worker{queue: queue, performer: performer, opts: opts, pool: pool}, nil
}

// Run polls until ctx is done
func (w *Worker) Run(ctx context.Context) error {
	defer w.pool.Release()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	bgmigration.DefaultLogger.Info(ctx, "worker started, poll interval:%v, concurrency:%v", w.opts.PollInterval, w.opts.Concurrency)
	for {
		if _, err := w.ProcessDue(ctx); err != nil {
			bgmigration.DefaultLogger.Error(ctx, "process due batches error:%v", err)
		}
		select {
		case <-ctx.Done():
			bgmigration.DefaultLogger.Info(ctx, "worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessDue claims the due entries and performs them, returning how many were claimed
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	entries, err := w.queue.Claim(ctx, w.queue.now(), w.opts.ClaimLimit)
	if err != nil {
		return 0, err
	}
	byJob := map[string][]Entry{}
	var order []string
	for _, e := range entries {
		if _, ok := byJob[e.JobName]; !ok {
			order = append(order, e.JobName)
		}
		byJob[e.JobName] = append(byJob[e.JobName], e)
	}
	var wg sync.WaitGroup
	for _, name := range order {
		group := byJob[name]
		wg.Add(1)
		err = w.pool.Submit(func() {
			defer wg.Done()
			for _, e := range group {
				w.process(ctx, e)
			}
		})
		if err != nil {
			wg.Done()
			bgmigration.DefaultLogger.Error(ctx, "submit batches of job:%v to worker pool failed, err:%v", name, err)
			for _, e := range group {
				w.retry(ctx, e, err)
			}
		}
	}
	wg.Wait()
	return len(entries), nil
}

func (w *Worker) process(ctx context.Context, e Entry) {
	ctx = bgmigration.WithLogFields(ctx, map[string]interface{}{"job": e.JobName, "entry": e.ID})
	earlier, err := w.hasEarlier(ctx, e)
	if err != nil {
		w.retry(ctx, e, err)
		return
	}
	if earlier {
		// the high-water mark would skip the earlier slice if this one ran first
		if er := w.queue.Enqueue(ctx, e, w.queue.now().Add(w.opts.Backoff)); er != nil {
			bgmigration.DefaultLogger.Error(ctx, "defer queued batch error:%v", er)
		}
		return
	}
	for {
		if ctx.Err() != nil {
			w.retry(ctx, e, ctx.Err())
			return
		}
		result, er := w.performer.Perform(ctx, e.JobName, e.Start, e.Stop)
		if er != nil {
			if !bgmigration.IsRetryable(er) {
				bgmigration.DefaultLogger.Error(ctx, "drop queued batch, jobName:%v, range:[%v..%v], err:%v", e.JobName, e.Start, e.Stop, er)
				return
			}
			w.retry(ctx, e, er)
			return
		}
		if result.Done {
			return
		}
	}
}

func (w *Worker) hasEarlier(ctx context.Context, e Entry) (bool, error) {
	pending, err := w.queue.Pending(ctx, e.JobName)
	if err != nil {
		return false, err
	}
	for _, p := range pending {
		if p.Start.Compare(e.Start) < 0 {
			return true, nil
		}
	}
	return false, nil
}

// retry re-enqueues e with exponential backoff
func (w *Worker) retry(ctx context.Context, e Entry, cause error) {
	ctx = context.WithoutCancel(ctx)
	e.Attempts++
	delay := w.opts.Backoff
	for i := 1; i < e.Attempts && delay < w.opts.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > w.opts.MaxBackoff {
		delay = w.opts.MaxBackoff
	}
	bgmigration.DefaultLogger.Warn(ctx, "batch will be retried after %v, jobName:%v, attempts:%v, err:%v", delay, e.JobName, e.Attempts, cause)
	if err := w.queue.Enqueue(ctx, e, w.queue.now().Add(delay)); err != nil {
		bgmigration.DefaultLogger.Error(ctx, "re-enqueue batch error, jobName:%v, err:%v", e.JobName, err)
	}
}
