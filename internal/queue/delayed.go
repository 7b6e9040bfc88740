package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// promoteScript moves due jobs from the schedule into the job stream. It runs
// atomically, so a job is either still scheduled (and cancellable) or already
// in the stream, never both.
//
// KEYS[1] schedule zset, KEYS[2] payload hash, KEYS[3] job stream
// ARGV[1] now (unix ms), ARGV[2] batch size
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, key in ipairs(due) do
	local payload = redis.call('HGET', KEYS[2], key)
	redis.call('ZREM', KEYS[1], key)
	redis.call('HDEL', KEYS[2], key)
	if payload then
		redis.call('XADD', KEYS[3], '*', 'key', key, 'payload', payload)
	end
end
return #due
`)

type DelayedQueueConfig struct {
	Prefix       string // Key prefix, e.g. "relay"
	Stream       string // Stream the promoter moves due jobs into
	PromoteBatch int64  // Max jobs moved per promotion
}

// ScheduledJob is a job waiting in the schedule.
type ScheduledJob struct {
	Job
	DueAt time.Time
}

type RedisDelayedQueue struct {
	client *redis.Client
	cfg    DelayedQueueConfig
	now    func() time.Time
}

func NewRedisDelayedQueue(client *redis.Client, cfg DelayedQueueConfig) *RedisDelayedQueue {
	if cfg.PromoteBatch <= 0 {
		cfg.PromoteBatch = 100
	}
	return &RedisDelayedQueue{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (q *RedisDelayedQueue) scheduleKey() string {
	return q.cfg.Prefix + ":timers:schedule"
}

func (q *RedisDelayedQueue) payloadKey() string {
	return q.cfg.Prefix + ":timers:payload"
}

// Schedule upserts job to fire after delay. Scheduling an existing key moves
// its due time and replaces its payload.
func (q *RedisDelayedQueue) Schedule(ctx context.Context, job Job, delay time.Duration) error {
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = q.now()
	}
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	due := q.now().Add(delay).UnixMilli()

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, q.scheduleKey(), redis.Z{Score: float64(due), Member: job.Key()})
		pipe.HSet(ctx, q.payloadKey(), job.Key(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", job.Key(), err)
	}

	slog.DebugContext(ctx, "job scheduled", "job_key", job.Key(), "delay", delay, "attempt", job.Attempt)
	return nil
}

// ScheduleIfAbsent schedules job only if its key is not already scheduled.
// Used for retries so a retry never overrides a fresher schedule.
func (q *RedisDelayedQueue) ScheduleIfAbsent(ctx context.Context, job Job, delay time.Duration) (bool, error) {
	payload, err := encodeJob(job)
	if err != nil {
		return false, err
	}
	due := q.now().Add(delay).UnixMilli()

	var added *redis.IntCmd
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.ZAddNX(ctx, q.scheduleKey(), redis.Z{Score: float64(due), Member: job.Key()})
		pipe.HSetNX(ctx, q.payloadKey(), job.Key(), payload)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("scheduling retry %s: %w", job.Key(), err)
	}
	return added.Val() == 1, nil
}

// Cancel removes a scheduled job. Cancelling an unknown key is a no-op.
func (q *RedisDelayedQueue) Cancel(ctx context.Context, key string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.scheduleKey(), key)
		pipe.HDel(ctx, q.payloadKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancelling %s: %w", key, err)
	}
	return nil
}

// Promote moves every job due at now into the job stream and returns how
// many were moved.
func (q *RedisDelayedQueue) Promote(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.scheduleKey(), q.payloadKey(), q.cfg.Stream},
		now.UnixMilli(), q.cfg.PromoteBatch,
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("promoting due jobs: %w", err)
	}
	return n, nil
}

// DueAt returns when key fires, or false when it is not scheduled.
func (q *RedisDelayedQueue) DueAt(ctx context.Context, key string) (time.Time, bool, error) {
	score, err := q.client.ZScore(ctx, q.scheduleKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading schedule for %s: %w", key, err)
	}
	return time.UnixMilli(int64(score)), true, nil
}

// List returns up to limit scheduled jobs ordered by due time.
func (q *RedisDelayedQueue) List(ctx context.Context, limit int64) ([]ScheduledJob, error) {
	entries, err := q.client.ZRangeWithScores(ctx, q.scheduleKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing schedule: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, fmt.Sprint(e.Member))
	}
	payloads, err := q.client.HMGet(ctx, q.payloadKey(), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading payloads: %w", err)
	}

	jobs := make([]ScheduledJob, 0, len(entries))
	for i, e := range entries {
		raw, ok := payloads[i].(string)
		if !ok {
			continue
		}
		job, err := decodeJob(raw)
		if err != nil {
			slog.WarnContext(ctx, "skipping undecodable scheduled job", "job_key", keys[i], "error", err)
			continue
		}
		jobs = append(jobs, ScheduledJob{Job: job, DueAt: time.UnixMilli(int64(e.Score))})
	}
	return jobs, nil
}
