package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/venue-ledger/pkg/instance"
)

const defaultLockTTL = 2 * time.Hour

// Lock keeps two workers from sweeping at the same time.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// lease is a held redislock lock.
type lease interface {
	Release(ctx context.Context) error
}

type obtainLease func(ctx context.Context, key string, ttl time.Duration) (lease, error)

// RedisLock is a redislock lease tagged with the owning worker's id. Release
// is an atomic compare-and-delete, so a lease that expired and was taken over
// is left alone.
type RedisLock struct {
	obtain obtainLease
	key    string
	ttl    time.Duration

	mu   sync.Mutex
	held lease
}

// NewRedisLock builds a lease on key. The TTL must outlive one sweep.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for sweep lock")
	}
	locker := redislock.New(client)
	return newRedisLock(func(ctx context.Context, key string, ttl time.Duration) (lease, error) {
		return locker.Obtain(ctx, key, ttl, &redislock.Options{Metadata: instance.GetID()})
	}, key, ttl)
}

func newRedisLock(obtain obtainLease, key string, ttl time.Duration) (*RedisLock, error) {
	if key == "" {
		return nil, errors.New("sweep lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{obtain: obtain, key: key, ttl: ttl}, nil
}

// Acquire does not wait: a lease held elsewhere, or already by this lock,
// reports false.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held != nil {
		return false, nil
	}
	held, err := l.obtain(ctx, l.key, l.ttl)
	switch {
	case errors.Is(err, redislock.ErrNotObtained):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("obtain %s: %w", l.key, err)
	}
	l.held = held
	return true, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		return nil
	}
	err := l.held.Release(ctx)
	if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("release sweep lock: %w", err)
	}
	l.held = nil
	return nil
}

// LocalLock guards a single process when Redis is not configured.
type LocalLock struct {
	mu   sync.Mutex
	held bool
}

func (l *LocalLock) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *LocalLock) Release(context.Context) error {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	return nil
}
