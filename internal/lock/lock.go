package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when another invocation already holds the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes work on a single key across processes.
type Locker interface {
	// TryLock acquires key without waiting. The returned release function must be called exactly once.
	TryLock(ctx context.Context, key string) (release func(context.Context) error, err error)
}

var _ Locker = NopLocker{}

// NopLocker always grants the lock. Used when no lock backend is configured.
type NopLocker struct{}

func (NopLocker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
