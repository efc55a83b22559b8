package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/chararch/bgmigration"
)

// DefaultKey the sorted set holding scheduled batch jobs
const DefaultKey = "bgmigration:queue"

// Entry one scheduled invocation of Engine.Perform over [Start, Stop]
type Entry struct {
	ID       string             `json:"id"`
	JobName  string             `json:"job"`
	Start    bgmigration.Cursor `json:"start"`
	Stop     bgmigration.Cursor `json:"stop"`
	Attempts int                `json:"attempts,omitempty"`
}

// Queue a delayed job queue stored in a redis sorted set scored by due time in milliseconds
type Queue struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

// New create a Queue
func New(client redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: client, key: key, now: time.Now}
}

// WithClock overrides the time source of the queue, used by tests
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Enqueue schedules e to become due at at
func (q *Queue) Enqueue(ctx context.Context, e Entry, at time.Time) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	member, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode queue entry")
	}
	err = q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(at.UnixMilli()), Member: string(member)}).Err()
	if err != nil {
		return errors.Wrapf(err, "enqueue job:%v", e.JobName)
	}
	return nil
}

// Claim removes and returns up to limit entries due at now. An entry is returned to exactly one caller.
func (q *Queue) Claim(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read due entries")
	}
	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		removed, err := q.client.ZRem(ctx, q.key, m).Result()
		if err != nil {
			return entries, errors.Wrap(err, "claim entry")
		}
		if removed == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			bgmigration.DefaultLogger.Error(ctx, "drop undecodable queue entry:%v, err:%v", m, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ScheduledEntry an entry with its due time
type ScheduledEntry struct {
	Entry
	At time.Time
}

// Pending lists scheduled entries of a job in due order, all jobs when jobName is empty
func (q *Queue) Pending(ctx context.Context, jobName string) ([]ScheduledEntry, error) {
	zs, err := q.client.ZRangeWithScores(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list queue")
	}
	ret := make([]ScheduledEntry, 0, len(zs))
	for _, z := range zs {
		m, _ := z.Member.(string)
		var e Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			continue
		}
		if jobName != "" && e.JobName != jobName {
			continue
		}
		ret = append(ret, ScheduledEntry{Entry: e, At: time.UnixMilli(int64(z.Score))})
	}
	return ret, nil
}

// DeleteQueued removes every scheduled entry of a job
func (q *Queue) DeleteQueued(ctx context.Context, jobName string) (int, error) {
	zs, err := q.client.ZRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return 0, errors.Wrap(err, "list queue")
	}
	deleted := 0
	for _, m := range zs {
		var e Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil || e.JobName != jobName {
			continue
		}
		n, err := q.client.ZRem(ctx, q.key, m).Result()
		if err != nil {
			return deleted, errors.Wrapf(err, "delete queued job:%v", jobName)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// Len number of scheduled entries
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
