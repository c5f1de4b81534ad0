package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/venue-ledger/pkg/errors"
	"github.com/angelmondragon/venue-ledger/pkg/logger"
)

// VenueLocker serialises chain appends for one venue. The returned unlock
// must be called exactly once.
type VenueLocker interface {
	Lock(ctx context.Context, venueID int64) (unlock func(), err error)
}

// LocalVenueLocker is an in-process keyed mutex. Waiting honours ctx.
type LocalVenueLocker struct {
	mu    sync.Mutex
	slots map[int64]*venueSlot
}

type venueSlot struct {
	sem  chan struct{}
	refs int
}

// NewLocalVenueLocker builds an empty in-process locker.
func NewLocalVenueLocker() *LocalVenueLocker {
	return &LocalVenueLocker{slots: make(map[int64]*venueSlot)}
}

func (l *LocalVenueLocker) Lock(ctx context.Context, venueID int64) (func(), error) {
	slot := l.acquireSlot(venueID)
	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseSlot(venueID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ctx.Err(), "timed out waiting for venue lock")
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			l.releaseSlot(venueID)
		})
	}, nil
}

func (l *LocalVenueLocker) acquireSlot(venueID int64) *venueSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[venueID]
	if !ok {
		slot = &venueSlot{sem: make(chan struct{}, 1)}
		l.slots[venueID] = slot
	}
	slot.refs++
	return slot
}

func (l *LocalVenueLocker) releaseSlot(venueID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[venueID]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, venueID)
	}
}

type releaser interface {
	Release(ctx context.Context) error
}

type obtainFunc func(ctx context.Context, key string, ttl time.Duration) (releaser, error)

// RedisVenueLockerParams configures the cross-process venue lock.
type RedisVenueLockerParams struct {
	Client *redis.Client
	// KeyFunc maps a venue to its lock key (pkg/redis Client.VenueLockKey).
	KeyFunc func(venueID int64) string
	TTL     time.Duration
	Wait    time.Duration
	Logger  *logger.Logger
}

// RedisVenueLocker holds a bsm/redislock lease per venue so appends from
// separate processes serialise too.
type RedisVenueLocker struct {
	obtain  obtainFunc
	keyFunc func(int64) string
	ttl     time.Duration
	wait    time.Duration
	logg    *logger.Logger
}

// NewRedisVenueLocker wires a redislock-backed venue locker.
func NewRedisVenueLocker(params RedisVenueLockerParams) (*RedisVenueLocker, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("redis client required for venue lock")
	}
	locker := redislock.New(params.Client)
	return newRedisVenueLocker(func(ctx context.Context, key string, ttl time.Duration) (releaser, error) {
		return locker.Obtain(ctx, key, ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
		})
	}, params), nil
}

func newRedisVenueLocker(obtain obtainFunc, params RedisVenueLockerParams) *RedisVenueLocker {
	keyFunc := params.KeyFunc
	if keyFunc == nil {
		keyFunc = func(venueID int64) string { return fmt.Sprintf("vl:lock:venue:%d", venueID) }
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	wait := params.Wait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisVenueLocker{obtain: obtain, keyFunc: keyFunc, ttl: ttl, wait: wait, logg: logg}
}

func (l *RedisVenueLocker) Lock(ctx context.Context, venueID int64) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	key := l.keyFunc(venueID)
	lock, err := l.obtain(waitCtx, key, l.ttl)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "venue is locked by another writer")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "obtain venue lock")
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logg.Error(l.logg.WithField(ctx, "lock_key", key), "failed to release venue lock", err)
			}
		})
	}, nil
}

// ChainLockers acquires every locker in order and releases them in reverse.
func ChainLockers(lockers ...VenueLocker) VenueLocker {
	filtered := make([]VenueLocker, 0, len(lockers))
	for _, l := range lockers {
		if l != nil {
			filtered = append(filtered, l)
		}
	}
	return chainedLocker(filtered)
}

type chainedLocker []VenueLocker

func (c chainedLocker) Lock(ctx context.Context, venueID int64) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		unlock, err := l.Lock(ctx, venueID)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
