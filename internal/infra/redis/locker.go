package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/kursadbilgin/push-relay/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL = 30 * time.Second
	lockKeyPrefix  = "push-relay:lock:"
)

var _ lock.Locker = (*RedisLocker)(nil)

// RedisLocker hands out single-attempt redsync mutexes keyed by record id.
type RedisLocker struct {
	rs  *redsync.Redsync
	ttl time.Duration
}

func NewRedisLocker(client *goredis.Client, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &RedisLocker{
		rs:  redsync.New(redsyncgoredis.NewPool(client)),
		ttl: ttl,
	}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	if l == nil || l.rs == nil {
		return nil, fmt.Errorf("locker is not initialized")
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	mutex := l.rs.NewMutex(lockKeyPrefix+trimmed,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, lock.ErrNotAcquired
		}
		return nil, fmt.Errorf("failed to acquire lock %q: %w", trimmed, err)
	}

	release := func(releaseCtx context.Context) error {
		if releaseCtx == nil {
			releaseCtx = context.Background()
		}
		ok, err := mutex.UnlockContext(releaseCtx)
		if err != nil {
			return fmt.Errorf("failed to release lock %q: %w", trimmed, err)
		}
		if !ok {
			return fmt.Errorf("lock %q expired before release", trimmed)
		}
		return nil
	}

	return release, nil
}
