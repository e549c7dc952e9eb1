package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotObtained indicates another worker holds the lock.
var ErrLockNotObtained = errors.New("lock not obtained")

// TransferLockKey builds redis keys guarding a transfer's status transition.
func TransferLockKey(transferID string) string {
	return fmt.Sprintf("stocksync:transfer:%s:lock", transferID)
}

// Locker serialises check-then-act sections across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// RedisLocker implements Locker with bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker constructs a RedisLocker. Callers block up to wait for a held lock.
func NewRedisLocker(rdb redis.UniversalClient, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, wait: wait}
}

// Lock obtains key, retrying with linear backoff until wait elapses.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	lock, err := l.client.Obtain(lockCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(200 * time.Millisecond),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
		}
		return nil, err
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}

// LocalLocker is a process-local Locker used when Redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker constructs a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		held, ok := l.locks[key]
		if !ok {
			ch := make(chan struct{})
			l.locks[key] = ch
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, key)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-held:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
		}
	}
}
