package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-relay/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	rateLimitKeyPrefix = "push-relay:ratelimit:"
	minRetryDelay      = 5 * time.Millisecond
)

// slidingWindowScript keeps one sorted-set member per send scored by its
// time in milliseconds. It drops members at or before ARGV[2], admits the send
// when fewer than ARGV[3] remain and otherwise returns how long until the
// oldest member leaves the window.
var slidingWindowScript = goredis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
if redis.call("ZCARD", KEYS[1]) < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
  return {1, 0}
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
return {0, tonumber(oldest[2]) + tonumber(ARGV[5]) - tonumber(ARGV[1])}
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter shares a send budget of limit per window between every
// worker process. Each gateway key gets its own budget.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limit int, window time.Duration) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limit, window, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limit int,
	window time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	limit, window = ratelimit.NormalizeBudget(limit, window)
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    nowFn,
		sleep:  sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := r.reserve(ctx, key)
	return allowed, err
}

// Wait blocks until the gateway budget admits one more send or ctx is done.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, retryIn, err := r.reserve(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := r.sleep(ctx, retryIn); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.client == nil {
		return false, 0, fmt.Errorf("rate limiter is not initialized")
	}

	gateway := strings.ToLower(strings.TrimSpace(key))
	if gateway == "" {
		return false, 0, fmt.Errorf("rate limit key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	nowMs := r.now().UnixMilli()
	windowMs := r.window.Milliseconds()
	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{rateLimitKeyPrefix + gateway},
		nowMs,
		nowMs-windowMs,
		r.limit,
		fmt.Sprintf("%d-%s", nowMs, uuid.NewString()),
		windowMs,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate rate limit for %s: %w", gateway, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply %v", res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}

	retryIn := time.Duration(res[1]) * time.Millisecond
	if retryIn < minRetryDelay {
		retryIn = minRetryDelay
	}
	if retryIn > r.window {
		retryIn = r.window
	}
	return false, retryIn, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
