package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chararch/bgmigration"
)

// MinimumInterval the smallest delay between two scheduled batches of one job
const MinimumInterval = 2 * time.Minute

// Scheduler splits a key range into batch-sized slices and queues one Perform per slice
type Scheduler struct {
	queue      *Queue
	registry   *bgmigration.Registry
	repository bgmigration.ProgressRepository
}

// NewScheduler create a Scheduler
func NewScheduler(queue *Queue, registry *bgmigration.Registry, repository bgmigration.ProgressRepository) *Scheduler {
	return &Scheduler{queue: queue, registry: registry, repository: repository}
}

// ScheduleByRange queues the batches of [start, stop], the first one after initialDelay+interval and
// each following one interval later. It returns the delay of the last queued batch, zero when nothing was queued.
func (s *Scheduler) ScheduleByRange(ctx context.Context, jobName string, start, stop bgmigration.Cursor, interval, initialDelay time.Duration) (time.Duration, error) {
	desc, ok := s.registry.Lookup(jobName)
	if !ok {
		return 0, bgmigration.NewBatchError(bgmigration.ErrCodeJobNotFound, "can not find job with name:%v", jobName)
	}
	if err := desc.ValidateCursor(start); err != nil {
		return 0, err
	}
	if err := desc.ValidateCursor(stop); err != nil {
		return 0, err
	}
	if interval < MinimumInterval {
		interval = MinimumInterval
	}
	ranges := bgmigration.Ranges(desc, start, stop, desc.BatchSize)
	if len(ranges) == 0 {
		return 0, nil
	}
	if err := s.track(ctx, jobName, desc.FeatureTag, stop); err != nil {
		return 0, err
	}
	now := s.queue.now()
	delay := initialDelay
	for _, r := range ranges {
		delay += interval
		e := Entry{JobName: jobName, Start: r.Start, Stop: r.End}
		if err := s.queue.Enqueue(ctx, e, now.Add(delay)); err != nil {
			return 0, err
		}
	}
	bgmigration.DefaultLogger.Info(ctx, "job scheduled, jobName:%v, batches:%v, range:[%v..%v], last delay:%v", jobName, len(ranges), start, stop, delay)
	return delay, nil
}

// Requeue drops the queued batches of a job and queues what is left of [start, stop] after its high-water mark.
// The first batch is due immediately, the rest interval apart. It returns the delay of the last queued batch.
func (s *Scheduler) Requeue(ctx context.Context, jobName string, start, stop bgmigration.Cursor, interval time.Duration) (time.Duration, error) {
	desc, ok := s.registry.Lookup(jobName)
	if !ok {
		return 0, bgmigration.NewBatchError(bgmigration.ErrCodeJobNotFound, "can not find job with name:%v", jobName)
	}
	if err := desc.ValidateCursor(start); err != nil {
		return 0, err
	}
	if err := desc.ValidateCursor(stop); err != nil {
		return 0, err
	}
	record, err := s.repository.Load(ctx, jobName)
	if err != nil {
		return 0, err
	}
	if record != nil && record.Status == bgmigration.StatusSucceeded {
		return 0, nil
	}
	if _, er := s.queue.DeleteQueued(ctx, jobName); er != nil {
		return 0, er
	}
	lower, ok := record.ResumeFrom(desc, start)
	if !ok {
		return 0, nil
	}
	if interval < MinimumInterval {
		interval = MinimumInterval
	}
	ranges := bgmigration.Ranges(desc, lower, stop, desc.BatchSize)
	if len(ranges) == 0 {
		return 0, nil
	}
	if record == nil {
		if er := s.track(ctx, jobName, desc.FeatureTag, stop); er != nil {
			return 0, er
		}
	}
	now := s.queue.now()
	var delay time.Duration
	for i, r := range ranges {
		delay = time.Duration(i) * interval
		if er := s.queue.Enqueue(ctx, Entry{JobName: jobName, Start: r.Start, Stop: r.End}, now.Add(delay)); er != nil {
			return 0, er
		}
	}
	bgmigration.DefaultLogger.Info(ctx, "job requeued, jobName:%v, batches:%v, from:%v", jobName, len(ranges), lower)
	return delay, nil
}

// DeleteQueued removes the queued batches of a job, the progress record is kept
func (s *Scheduler) DeleteQueued(ctx context.Context, jobName string) (int, error) {
	n, err := s.queue.DeleteQueued(ctx, jobName)
	if err != nil {
		return n, err
	}
	bgmigration.DefaultLogger.Info(ctx, "queued batches deleted, jobName:%v, count:%v", jobName, n)
	return n, nil
}

// track creates the pending progress record of a scheduled job
func (s *Scheduler) track(ctx context.Context, jobName, featureTag string, stop bgmigration.Cursor) error {
	record, err := s.repository.Load(ctx, jobName)
	if err != nil {
		return err
	}
	if record != nil {
		return nil
	}
	err = s.repository.Create(ctx, &bgmigration.ProgressRecord{
		JobName:    jobName,
		RunID:      uuid.NewString(),
		FeatureTag: featureTag,
		StopCursor: stop,
		Status:     bgmigration.StatusPending,
	})
	if err != nil {
		return errors.Wrapf(err, "track scheduled job:%v", jobName)
	}
	return nil
}
