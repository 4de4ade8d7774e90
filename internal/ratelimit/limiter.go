package ratelimit

import (
	"context"
	"time"
)

// RateLimiter controls send throughput per gateway key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

const (
	// DefaultLimit is the number of sends allowed per window when unset.
	DefaultLimit = 100
	// DefaultWindow is the budget window when unset.
	DefaultWindow = time.Second
)

// NormalizeBudget applies the defaults to a non-positive limit or window.
func NormalizeBudget(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return limit, window
}
