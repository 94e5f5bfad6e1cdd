package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CheckResult is the outcome of comparing a code against the pending one.
type CheckResult int

const (
	CheckMissing  CheckResult = 0
	CheckOK       CheckResult = 1
	CheckMismatch CheckResult = -1
	CheckLocked   CheckResult = -2
)

// Store keeps at most one pending code per key.
type Store interface {
	// Put replaces the pending code for key unless the send limit for the
	// window is used up; it reports whether the code was stored.
	Put(ctx context.Context, key, codeHash string, ttl time.Duration, limit int, window time.Duration) (bool, error)
	// Check consumes the pending code on a match. After maxAttempts
	// mismatches the code is discarded.
	Check(ctx context.Context, key, codeHash string, maxAttempts int) (CheckResult, error)
}

var putScript = redis.NewScript(`
-- KEYS[1] = code hash key
-- KEYS[2] = send counter key
-- ARGV[1] = code hash
-- ARGV[2] = code ttl_ms
-- ARGV[3] = send limit
-- ARGV[4] = window_ms
local sent = redis.call('INCR', KEYS[2])
if sent == 1 or redis.call('PTTL', KEYS[2]) < 0 then
  redis.call('PEXPIRE', KEYS[2], ARGV[4])
end
if sent > tonumber(ARGV[3]) then
  redis.call('DECR', KEYS[2])
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'hash', ARGV[1], 'attempts', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

var checkScript = redis.NewScript(`
-- KEYS[1] = code hash key
-- ARGV[1] = code hash
-- ARGV[2] = max attempts
local stored = redis.call('HGET', KEYS[1], 'hash')
if not stored then
  return 0
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
if attempts >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  return -2
end
return -1
`)

// RedisStore is the Redis-backed Store. Expiry is left to Redis TTLs, so
// codes survive restarts and are shared by every API replica.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "otp"}
}

func (s *RedisStore) codeKey(key string) string  { return s.prefix + ":code:" + key }
func (s *RedisStore) sendsKey(key string) string { return s.prefix + ":sends:" + key }

func (s *RedisStore) Put(ctx context.Context, key, codeHash string, ttl time.Duration, limit int, window time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("otp: key is required")
	}
	if ttl <= 0 || window <= 0 || limit <= 0 {
		return false, fmt.Errorf("otp: ttl, window and limit must be > 0")
	}
	res, err := putScript.Run(ctx, s.rdb, []string{s.codeKey(key), s.sendsKey(key)},
		codeHash, ttl.Milliseconds(), limit, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("otp: put: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) Check(ctx context.Context, key, codeHash string, maxAttempts int) (CheckResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	res, err := checkScript.Run(ctx, s.rdb, []string{s.codeKey(key)}, codeHash, maxAttempts).Int()
	if err != nil {
		return CheckMissing, fmt.Errorf("otp: check: %w", err)
	}
	return CheckResult(res), nil
}
