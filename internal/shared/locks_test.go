package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExcludesConcurrentHolders(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewRedisLocker(rdb, time.Minute, 300*time.Millisecond)
	ctx := context.Background()
	key := TransferLockKey("abc")

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, key)
	require.True(t, errors.Is(err, ErrLockNotObtained), "got %v", err)

	unlock()
	unlock2, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	unlock2()
}

func TestLocalLockerWaitsForRelease(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release, err := locker.Lock(ctx, "k")
		if err == nil {
			release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired lock while first still held it")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired lock")
	}
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	require.ErrorIs(t, err, ErrLockNotObtained)
}
