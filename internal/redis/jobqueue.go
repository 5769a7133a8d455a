package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/domain"
)

const (
	jobScheduleKey = "jobs:schedule"
	jobPayloadKey  = "jobs:payload"
)

// JobQueue is a durable delayed-job queue on a Redis sorted set: the score
// is the fire time, the member is the job's idempotency key and payloads
// live in a companion hash. Jobs survive process restarts; delivery is at
// least once (a handler failure requeues the job), so handlers must
// re-check preconditions before acting.
type JobQueue struct {
	client *redis.Client
}

// NewJobQueue creates a new JobQueue.
func NewJobQueue(client *redis.Client) *JobQueue {
	return &JobQueue{client: client}
}

// Enqueue schedules the job at its fire time. Re-enqueueing the same
// idempotency key overwrites the previous entry, so arming is idempotent.
func (q *JobQueue) Enqueue(ctx context.Context, job domain.CheckpointJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := q.client.Pipeline()
	pipe.HSet(ctx, jobPayloadKey, job.Key(), data)
	pipe.ZAdd(ctx, jobScheduleKey, redis.Z{
		Score:  float64(job.FireAt.UnixMilli()),
		Member: job.Key(),
	})
	_, err = pipe.Exec(ctx)
	return err
}

// Cancel removes a scheduled job. Best effort: a job already claimed by a
// worker is not recalled, which is why handlers re-check state.
func (q *JobQueue) Cancel(ctx context.Context, key string) error {
	pipe := q.client.Pipeline()
	pipe.ZRem(ctx, jobScheduleKey, key)
	pipe.HDel(ctx, jobPayloadKey, key)
	_, err := pipe.Exec(ctx)
	return err
}

// Due returns the keys of jobs whose fire time has passed.
func (q *JobQueue) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return q.client.ZRangeByScore(ctx, jobScheduleKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatScore(now),
		Count: limit,
	}).Result()
}

// Claim atomically takes ownership of a due job. ZREM returns the number of
// members removed, so exactly one of any number of concurrent claimers sees
// 1 and gets the payload.
func (q *JobQueue) Claim(ctx context.Context, key string) (*domain.CheckpointJob, bool, error) {
	removed, err := q.client.ZRem(ctx, jobScheduleKey, key).Result()
	if err != nil {
		return nil, false, err
	}
	if removed == 0 {
		return nil, false, nil
	}

	data, err := q.client.HGet(ctx, jobPayloadKey, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	if err := q.client.HDel(ctx, jobPayloadKey, key).Err(); err != nil {
		return nil, false, err
	}

	var job domain.CheckpointJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, false, err
	}
	return &job, true, nil
}

// Requeue puts a claimed job back with a delay, for handler retries.
func (q *JobQueue) Requeue(ctx context.Context, job domain.CheckpointJob, delay time.Duration) error {
	job.FireAt = time.Now().Add(delay)
	return q.Enqueue(ctx, job)
}

// formatScore renders a time as a ZRANGEBYSCORE bound.
func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
