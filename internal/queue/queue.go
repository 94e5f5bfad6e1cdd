// Package queue is a durable delayed job queue on Redis.
//
// Jobs live in a per-job hash and move between four keys: a delayed ZSET
// scored by run time, a wait LIST, an active ZSET scored by lease deadline and
// a failed ZSET scored by failure time. Every transition is a Lua script so a
// job is held by at most one consumer at a time. A consumer that dies while
// holding a job loses its lease; the next Reserve call redelivers the job.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ecommerce-admin/internal/apperr"
)

const (
	DefaultMaxAttempts = 4
	DefaultBackoff     = 10 * time.Second
	DefaultVisibility  = 60 * time.Second
	DefaultMaxStalls   = 1

	promoteBatch = 100
)

// Config controls retry and redelivery policy.
type Config struct {
	Name        string
	MaxAttempts int
	Backoff     time.Duration
	// Visibility is the lease length of a reserved job. It must exceed the
	// longest handler run or jobs get delivered twice.
	Visibility time.Duration
	// MaxStalls is how many lease expiries a job survives before it is failed.
	MaxStalls int

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	out := c
	if out.Name == "" {
		out.Name = "ivr-calls"
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.Backoff <= 0 {
		out.Backoff = DefaultBackoff
	}
	if out.Visibility <= 0 {
		out.Visibility = DefaultVisibility
	}
	if out.MaxStalls < 0 {
		out.MaxStalls = 0
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Options override the queue defaults for one job.
type Options struct {
	Delay       time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Job is a reserved delivery. Attempt is 1-based and counts deliveries that
// reached a handler; stalled deliveries are not counted.
type Job struct {
	ID          string
	Token       string
	Payload     []byte
	Attempt     int
	MaxAttempts int
	Backoff     time.Duration
}

// FailedJob is a job that exhausted its attempts or was buried.
type FailedJob struct {
	ID        string
	Payload   []byte
	Attempts  int
	LastError string
	FailedAt  time.Time
}

// Stats counts jobs per state.
type Stats struct {
	Delayed int64
	Waiting int64
	Active  int64
	Failed  int64
}

var ErrLeaseLost = errors.New("queue: job lease lost")

type Queue struct {
	rdb redis.UniversalClient
	cfg Config

	delayedKey string
	waitKey    string
	activeKey  string
	failedKey  string
	jobPrefix  string
}

func New(rdb redis.UniversalClient, cfg Config) *Queue {
	cfg = cfg.withDefaults()
	// hash tag keeps every key of one queue on the same cluster slot
	base := "q:{" + cfg.Name + "}:"
	return &Queue{
		rdb:        rdb,
		cfg:        cfg,
		delayedKey: base + "delayed",
		waitKey:    base + "wait",
		activeKey:  base + "active",
		failedKey:  base + "failed",
		jobPrefix:  base + "job:",
	}
}

func (q *Queue) Name() string { return q.cfg.Name }

func (q *Queue) jobKey(id string) string { return q.jobPrefix + id }

func (q *Queue) nowMs() int64 { return q.cfg.Now().UnixMilli() }

var enqueueScript = redis.NewScript(`
-- KEYS[1] = delayed zset, KEYS[2] = job hash
-- ARGV: id, payload, max_attempts, backoff_ms, run_at_ms, now_ms
redis.call('HSET', KEYS[2],
  'payload', ARGV[2],
  'attempts', '0',
  'max_attempts', ARGV[3],
  'backoff_ms', ARGV[4],
  'stalls', '0',
  'state', 'delayed',
  'created_ms', ARGV[6])
redis.call('ZADD', KEYS[1], ARGV[5], ARGV[1])
return 1
`)

// Enqueue stores payload and schedules its first delivery after opts.Delay.
func (q *Queue) Enqueue(ctx context.Context, payload []byte, opts Options) (string, error) {
	if opts.Delay < 0 {
		return "", apperr.Validation("delay must be >= 0")
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = q.cfg.Backoff
	}

	id := uuid.NewString()
	now := q.nowMs()
	runAt := now + opts.Delay.Milliseconds()

	err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.delayedKey, q.jobKey(id)},
		id, payload, maxAttempts, backoff.Milliseconds(), runAt, now,
	).Err()
	if err != nil {
		return "", &apperr.QueueError{Op: "enqueue", Err: err}
	}
	return id, nil
}

// EnqueueImmediate enqueues payload for delivery as soon as a consumer is free.
func (q *Queue) EnqueueImmediate(ctx context.Context, payload []byte) (string, error) {
	return q.Enqueue(ctx, payload, Options{})
}

var reserveScript = redis.NewScript(`
-- KEYS[1] = delayed, KEYS[2] = wait, KEYS[3] = active, KEYS[4] = failed
-- ARGV: job_prefix, now_ms, lease_ms, token, max_stalls, batch
local now = tonumber(ARGV[2])

-- expired leases: redeliver, or fail once the stall budget is spent
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now, 'LIMIT', 0, tonumber(ARGV[6]))
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[3], id)
  local jk = ARGV[1] .. id
  if redis.call('EXISTS', jk) == 1 then
    local stalls = redis.call('HINCRBY', jk, 'stalls', 1)
    redis.call('HINCRBY', jk, 'attempts', -1)
    redis.call('HDEL', jk, 'token')
    if stalls > tonumber(ARGV[5]) then
      redis.call('HSET', jk, 'state', 'failed', 'last_error', 'job stalled more than allowable limit', 'failed_ms', ARGV[2])
      redis.call('ZADD', KEYS[4], ARGV[2], id)
    else
      redis.call('HSET', jk, 'state', 'waiting')
      redis.call('RPUSH', KEYS[2], id)
    end
  end
end

-- due delayed jobs
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, tonumber(ARGV[6]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('HSET', ARGV[1] .. id, 'state', 'waiting')
  redis.call('LPUSH', KEYS[2], id)
end

while true do
  local id = redis.call('RPOP', KEYS[2])
  if not id then
    return false
  end
  local jk = ARGV[1] .. id
  if redis.call('EXISTS', jk) == 1 then
    local attempts = redis.call('HINCRBY', jk, 'attempts', 1)
    redis.call('HSET', jk, 'state', 'active', 'token', ARGV[4])
    redis.call('ZADD', KEYS[3], tostring(now + tonumber(ARGV[3])), id)
    local f = redis.call('HMGET', jk, 'payload', 'max_attempts', 'backoff_ms')
    return {id, f[1], tostring(attempts), f[2], f[3]}
  end
end
`)

// Reserve leases the next due job. It returns nil, nil when nothing is due.
func (q *Queue) Reserve(ctx context.Context) (*Job, error) {
	token := uuid.NewString()
	res, err := reserveScript.Run(ctx, q.rdb,
		[]string{q.delayedKey, q.waitKey, q.activeKey, q.failedKey},
		q.jobPrefix, q.nowMs(), q.cfg.Visibility.Milliseconds(), token, q.cfg.MaxStalls, promoteBatch,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &apperr.QueueError{Op: "reserve", Err: err}
	}
	if len(res) != 5 {
		return nil, &apperr.QueueError{Op: "reserve", Err: fmt.Errorf("unexpected reply length %d", len(res))}
	}

	attempt, _ := strconv.Atoi(res[2])
	maxAttempts, _ := strconv.Atoi(res[3])
	backoffMs, _ := strconv.ParseInt(res[4], 10, 64)
	return &Job{
		ID:          res[0],
		Token:       token,
		Payload:     []byte(res[1]),
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Backoff:     time.Duration(backoffMs) * time.Millisecond,
	}, nil
}

var completeScript = redis.NewScript(`
-- KEYS[1] = active, KEYS[2] = job hash; ARGV: id, token
if redis.call('HGET', KEYS[2], 'token') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

// Complete acknowledges a job and deletes it.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	ok, err := completeScript.Run(ctx, q.rdb, []string{q.activeKey, q.jobKey(job.ID)}, job.ID, job.Token).Int()
	if err != nil {
		return &apperr.QueueError{Op: "complete", Err: err}
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

var retryScript = redis.NewScript(`
-- KEYS[1] = active, KEYS[2] = delayed, KEYS[3] = job hash
-- ARGV: id, token, run_at_ms, error
if redis.call('HGET', KEYS[3], 'token') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[3], 'token')
redis.call('HSET', KEYS[3], 'state', 'delayed', 'last_error', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

var buryScript = redis.NewScript(`
-- KEYS[1] = active, KEYS[2] = failed, KEYS[3] = job hash
-- ARGV: id, token, now_ms, error
if redis.call('HGET', KEYS[3], 'token') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[3], 'token')
redis.call('HSET', KEYS[3], 'state', 'failed', 'last_error', ARGV[4], 'failed_ms', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// BackoffDelay is base * 2^(attempt-1).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Outcome says what Fail did with a job.
type Outcome struct {
	Retried bool
	Delay   time.Duration
}

// Fail records a handler failure. The job is scheduled again with exponential
// backoff unless cause is permanent or the job has used all its attempts, in
// which case it moves to the failed set.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (Outcome, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	if IsPermanent(cause) || job.Attempt >= job.MaxAttempts {
		ok, err := buryScript.Run(ctx, q.rdb,
			[]string{q.activeKey, q.failedKey, q.jobKey(job.ID)},
			job.ID, job.Token, q.nowMs(), msg,
		).Int()
		if err != nil {
			return Outcome{}, &apperr.QueueError{Op: "bury", Err: err}
		}
		if ok == 0 {
			return Outcome{}, ErrLeaseLost
		}
		return Outcome{}, nil
	}

	delay := BackoffDelay(job.Backoff, job.Attempt)
	ok, err := retryScript.Run(ctx, q.rdb,
		[]string{q.activeKey, q.delayedKey, q.jobKey(job.ID)},
		job.ID, job.Token, q.nowMs()+delay.Milliseconds(), msg,
	).Int()
	if err != nil {
		return Outcome{}, &apperr.QueueError{Op: "retry", Err: err}
	}
	if ok == 0 {
		return Outcome{}, ErrLeaseLost
	}
	return Outcome{Retried: true, Delay: delay}, nil
}

var removeScript = redis.NewScript(`
-- KEYS[1] = delayed, KEYS[2] = wait, KEYS[3] = job hash; ARGV: id
local state = redis.call('HGET', KEYS[3], 'state')
if state ~= 'delayed' and state ~= 'waiting' then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('DEL', KEYS[3])
return 1
`)

// Remove deletes a pending (delayed or waiting) job. Active jobs belong to a
// consumer and failed jobs stay in the failed set for inspection. It reports
// whether anything was removed.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	n, err := removeScript.Run(ctx, q.rdb, []string{q.delayedKey, q.waitKey, q.jobKey(id)}, id).Int()
	if err != nil {
		return false, &apperr.QueueError{Op: "remove", Err: err}
	}
	return n == 1, nil
}

// Failed lists the most recently failed jobs, newest first.
func (q *Queue) Failed(ctx context.Context, limit int) ([]FailedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.rdb.ZRevRange(ctx, q.failedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, &apperr.QueueError{Op: "failed", Err: err}
	}

	pipe := q.rdb.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, q.jobKey(id), "payload", "attempts", "last_error", "failed_ms")
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, &apperr.QueueError{Op: "failed", Err: err}
		}
	}

	out := make([]FailedJob, 0, len(ids))
	for i, id := range ids {
		vals := cmds[i].Val()
		fj := FailedJob{ID: id}
		if s, ok := vals[0].(string); ok {
			fj.Payload = []byte(s)
		}
		if s, ok := vals[1].(string); ok {
			fj.Attempts, _ = strconv.Atoi(s)
		}
		if s, ok := vals[2].(string); ok {
			fj.LastError = s
		}
		if s, ok := vals[3].(string); ok {
			ms, _ := strconv.ParseInt(s, 10, 64)
			fj.FailedAt = time.UnixMilli(ms).UTC()
		}
		out = append(out, fj)
	}
	return out, nil
}

// Stats reads the size of every state set.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	delayed := pipe.ZCard(ctx, q.delayedKey)
	waiting := pipe.LLen(ctx, q.waitKey)
	active := pipe.ZCard(ctx, q.activeKey)
	failed := pipe.ZCard(ctx, q.failedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, &apperr.QueueError{Op: "stats", Err: err}
	}
	return Stats{
		Delayed: delayed.Val(),
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Failed:  failed.Val(),
	}, nil
}
