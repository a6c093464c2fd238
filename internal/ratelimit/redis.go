package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/artisanmart/notifier/internal/models"
)

const defaultKeyPrefix = "notifier:ratelimit:"

// bucketScript refills and optionally consumes in one round trip so that
// concurrent processes can never both take the last token.
//
// KEYS[1] bucket key
// ARGV[1] capacity, ARGV[2] interval ms, ARGV[3] now ms, ARGV[4] consume (0|1)
var bucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'refilled_at')
local tokens = tonumber(state[1])
local refilled = tonumber(state[2])
if tokens == nil or refilled == nil or now - refilled >= interval then
  tokens = capacity
  refilled = now
end

local allowed = 0
if tokens > 0 then
  allowed = 1
  if consume == 1 then
    tokens = tokens - 1
  end
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'refilled_at', refilled)
redis.call('PEXPIRE', KEYS[1], interval * 2)
return {allowed, tokens, refilled}
`)

// RedisLimiter shares channel buckets between processes through Redis.
type RedisLimiter struct {
	rdb        redis.UniversalClient
	prefix     string
	interval   time.Duration
	now        func() time.Time
	capacities map[models.Channel]int
}

// NewRedisLimiter constructs a Redis backed limiter.
func NewRedisLimiter(rdb redis.UniversalClient, capacities map[models.Channel]int, interval time.Duration) (*RedisLimiter, error) {
	if rdb == nil {
		return nil, fmt.Errorf("ratelimit: redis client is required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	caps := make(map[models.Channel]int, len(capacities))
	for ch, c := range capacities {
		if c <= 0 {
			return nil, fmt.Errorf("ratelimit: capacity for %s must be positive, got %d", ch, c)
		}
		caps[ch] = c
	}
	return &RedisLimiter{
		rdb:        rdb,
		prefix:     defaultKeyPrefix,
		interval:   interval,
		now:        time.Now,
		capacities: caps,
	}, nil
}

// WithKeyPrefix scopes bucket keys, e.g. per deployment.
func (l *RedisLimiter) WithKeyPrefix(prefix string) *RedisLimiter {
	if prefix != "" {
		l.prefix = prefix
	}
	return l
}

func (l *RedisLimiter) run(ctx context.Context, ch models.Channel, consume bool) (bool, int, time.Time, error) {
	capacity, ok := l.capacities[ch]
	if !ok {
		return false, 0, time.Time{}, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	flag := 0
	if consume {
		flag = 1
	}
	res, err := bucketScript.Run(ctx, l.rdb, []string{l.prefix + string(ch)},
		capacity, l.interval.Milliseconds(), l.now().UnixMilli(), flag).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("ratelimit: run bucket script: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	return res[0] == 1, int(res[1]), time.UnixMilli(res[2]), nil
}

// CanSend reports whether a token is available.
func (l *RedisLimiter) CanSend(ctx context.Context, ch models.Channel) (bool, error) {
	ok, _, _, err := l.run(ctx, ch, false)
	return ok, err
}

// Consume atomically takes a token.
func (l *RedisLimiter) Consume(ctx context.Context, ch models.Channel) (bool, error) {
	ok, _, _, err := l.run(ctx, ch, true)
	return ok, err
}

// Info returns the remaining quota.
func (l *RedisLimiter) Info(ctx context.Context, ch models.Channel) (Info, error) {
	_, remaining, refilled, err := l.run(ctx, ch, false)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Channel:   ch,
		Capacity:  l.capacities[ch],
		Remaining: remaining,
		ResetTime: refilled.Add(l.interval),
		IsLimited: remaining <= 0,
	}, nil
}

// Reset drops the bucket so the next call starts a fresh window.
func (l *RedisLimiter) Reset(ctx context.Context, ch models.Channel) error {
	if _, ok := l.capacities[ch]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	if err := l.rdb.Del(ctx, l.prefix+string(ch)).Err(); err != nil {
		return fmt.Errorf("ratelimit: reset %s: %w", ch, err)
	}
	return nil
}
