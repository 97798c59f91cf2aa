package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// priorityWeight separates priority bands in the wait set. Millisecond
// timestamps stay below it until the 2280s.
const priorityWeight = 1e13

// KEYS: wait, delayed, active, jobs, scores
// ARGV: now (ms), lease deadline (ms)
var dequeueScript = redis.NewScript(`
local function requeue(set)
	local ids = redis.call('ZRANGEBYSCORE', set, '-inf', ARGV[1])
	for _, id in ipairs(ids) do
		redis.call('ZREM', set, id)
		local score = redis.call('HGET', KEYS[5], id)
		if score then
			redis.call('ZADD', KEYS[1], score, id)
		end
	end
end

requeue(KEYS[2])
requeue(KEYS[3])

local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
	return false
end

local id = head[1]
redis.call('ZREM', KEYS[1], id)

local payload = redis.call('HGET', KEYS[4], id)
if not payload then
	redis.call('HDEL', KEYS[5], id)
	return false
end

redis.call('ZADD', KEYS[3], ARGV[2], id)
return payload
`)

type RedisQueue struct {
	rdb  *redis.Client
	opts Options
	now  func() time.Time
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(rdb *redis.Client, opts Options) *RedisQueue {
	return &RedisQueue{
		rdb:  rdb,
		opts: opts.withDefaults(),
		now:  time.Now,
	}
}

func (q *RedisQueue) key(name string) string {
	return q.opts.Prefix + ":" + name
}

func waitScore(priority int, enqueuedAt time.Time) int64 {
	return int64(priority)*int64(priorityWeight) + enqueuedAt.UnixMilli()
}

// Enqueue fills in id, enqueue time and retry settings that the caller left
// unset and stores the job as waiting.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (Job, error) {
	if job.Id == "" {
		job.Id = uuid.NewString()
	}
	if job.Priority <= 0 {
		job.Priority = PriorityNormal
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.opts.MaxAttempts
	}
	if job.Backoff.Delay <= 0 {
		job.Backoff.Delay = q.opts.Backoff
	}
	job.EnqueuedAt = q.now().UTC()

	payload, err := json.Marshal(job)
	if err != nil {
		return Job{}, fmt.Errorf("marshal job: %w", err)
	}

	score := waitScore(job.Priority, job.EnqueuedAt)
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("jobs"), job.Id, payload)
		pipe.HSet(ctx, q.key("scores"), job.Id, score)
		pipe.ZAdd(ctx, q.key("wait"), redis.Z{Score: float64(score), Member: job.Id})
		return nil
	})
	if err != nil {
		return Job{}, unavailable("enqueue", err)
	}

	return job, nil
}

// Dequeue leases the best waiting job. It returns false when nothing is ready.
func (q *RedisQueue) Dequeue(ctx context.Context) (Job, bool, error) {
	now := q.now()
	keys := []string{
		q.key("wait"),
		q.key("delayed"),
		q.key("active"),
		q.key("jobs"),
		q.key("scores"),
	}

	payload, err := dequeueScript.Run(ctx, q.rdb, keys,
		now.UnixMilli(),
		now.Add(q.opts.Lease).UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, unavailable("dequeue", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return Job{}, false, fmt.Errorf("unmarshal job: %w", err)
	}

	return job, true, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job Job) error {
	if err := q.remove(ctx, job.Id); err != nil {
		return unavailable("ack", err)
	}

	return nil
}

func (q *RedisQueue) remove(ctx context.Context, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.key("active"), id)
		pipe.ZRem(ctx, q.key("wait"), id)
		pipe.ZRem(ctx, q.key("delayed"), id)
		pipe.HDel(ctx, q.key("jobs"), id)
		pipe.HDel(ctx, q.key("scores"), id)
		return nil
	})
	return err
}

func (q *RedisQueue) Retry(ctx context.Context, job Job) (bool, error) {
	job.Attempts++

	if job.Attempts >= job.MaxAttempts {
		if err := q.remove(ctx, job.Id); err != nil {
			return false, unavailable("retry", err)
		}
		return true, nil
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}

	readyAt := q.now().Add(job.Backoff.Next(job.Attempts))
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("jobs"), job.Id, payload)
		pipe.ZRem(ctx, q.key("active"), job.Id)
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.Id})
		return nil
	})
	if err != nil {
		return false, unavailable("retry", err)
	}

	return false, nil
}

func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	var waiting, delayed, active *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.ZCard(ctx, q.key("wait"))
		delayed = pipe.ZCard(ctx, q.key("delayed"))
		active = pipe.ZCard(ctx, q.key("active"))
		return nil
	})
	if err != nil {
		return Counts{}, unavailable("counts", err)
	}

	return Counts{
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Active:  active.Val(),
	}, nil
}
