package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is an in-process token bucket per key, used when no Redis
// is configured. A bucket holds limit tokens and refills them over window.
type LocalRateLimiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalRateLimiter(limit int, window time.Duration) *LocalRateLimiter {
	limit, window = NormalizeBudget(limit, window)
	return &LocalRateLimiter{
		limit:    limit,
		window:   window,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	limiter, err := l.limiterFor(key)
	if err != nil {
		return false, err
	}
	return limiter.Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	limiter, err := l.limiterFor(key)
	if err != nil {
		return err
	}
	return limiter.Wait(ctx)
}

func (l *LocalRateLimiter) limiterFor(key string) (*rate.Limiter, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return nil, fmt.Errorf("rate limit key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[normalized]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(l.limit)/l.window.Seconds()), l.limit)
		l.limiters[normalized] = limiter
	}
	return limiter, nil
}
