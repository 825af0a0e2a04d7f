package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkScript implements the fixed-window check atomically on the
// redis side. A full window returns without INCR so a rejected caller
// is not charged, matching the in-memory limiter.
var checkScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if current >= max then
  return {current, redis.call('PTTL', KEYS[1]), 0}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[2]))
end
return {current, redis.call('PTTL', KEYS[1]), 1}
`)

// RedisLimiter enforces the same fixed-window contract as Limiter but
// shares counters across replicas. Redis errors fail open: an
// unreachable counter store should degrade protection, not take the
// API down with it.
type RedisLimiter struct {
	rdb     *redis.Client
	prefix  string
	timeout time.Duration

	// OnError is called when a check cannot reach redis.
	OnError func(key string, err error)
}

// NewRedisLimiter wraps an existing client. The prefix namespaces
// counter keys so they cannot collide with cache entries.
func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		rdb:     rdb,
		prefix:  "vulnboard:rl:",
		timeout: 250 * time.Millisecond,
	}
}

func (l *RedisLimiter) Check(key string, cfg Config) Decision {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	res, err := checkScript.Run(ctx, l.rdb,
		[]string{l.prefix + key},
		cfg.MaxRequests, cfg.Window.Milliseconds(),
	).Int64Slice()
	if err != nil || len(res) != 3 {
		if l.OnError != nil {
			l.OnError(key, err)
		}
		return Decision{
			Admitted:  true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests,
			ResetAt:   time.Now().Add(cfg.Window),
		}
	}

	count, pttl, admitted := res[0], res[1], res[2]

	resetAt := time.Now().Add(cfg.Window)
	if pttl > 0 {
		resetAt = time.Now().Add(time.Duration(pttl) * time.Millisecond)
	}

	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Admitted:  admitted == 1,
		Limit:     cfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Clear removes one key's counter.
func (l *RedisLimiter) Clear(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.prefix+key).Err()
}
