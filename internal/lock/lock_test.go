package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_TryLock(t *testing.T) {
	ctx := context.Background()

	t.Run("ExclusiveUntilReleased", func(t *testing.T) {
		_, client := setupTestRedis(t)
		first := NewRedisLocker(client, time.Minute, nil)
		second := NewRedisLocker(client, time.Minute, nil)

		release, acquired, err := first.TryLock(ctx, "relay:reconcile:slack")
		require.NoError(t, err)
		require.True(t, acquired)

		_, acquired, err = second.TryLock(ctx, "relay:reconcile:slack")
		require.NoError(t, err)
		assert.False(t, acquired)

		other, acquired, err := second.TryLock(ctx, "relay:reconcile:resend")
		require.NoError(t, err)
		assert.True(t, acquired)
		require.NoError(t, other(ctx))

		require.NoError(t, release(ctx))

		again, acquired, err := second.TryLock(ctx, "relay:reconcile:slack")
		require.NoError(t, err)
		assert.True(t, acquired)
		assert.NoError(t, again(ctx))
	})

	t.Run("ExpiresAfterTTL", func(t *testing.T) {
		mr, client := setupTestRedis(t)
		locker := NewRedisLocker(client, 10*time.Second, nil)

		stale, acquired, err := locker.TryLock(ctx, "relay:reconcile:slack")
		require.NoError(t, err)
		require.True(t, acquired)
		assert.True(t, mr.Exists("relay:reconcile:slack"))

		mr.FastForward(11 * time.Second)

		fresh, acquired, err := locker.TryLock(ctx, "relay:reconcile:slack")
		require.NoError(t, err)
		require.True(t, acquired)

		assert.ErrorIs(t, stale(ctx), ErrLockNotHeld)
		assert.NoError(t, fresh(ctx))
	})

	t.Run("RedisUnavailable", func(t *testing.T) {
		mr, client := setupTestRedis(t)
		locker := NewRedisLocker(client, time.Minute, nil)
		mr.Close()

		_, acquired, err := locker.TryLock(ctx, "relay:reconcile:slack")
		assert.False(t, acquired)
		assert.ErrorContains(t, err, "failed to acquire lock relay:reconcile:slack")
	})
}

func TestOpenRedisClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := OpenRedisClient(ctx, "redis://"+mr.Addr()+"/0")
		require.NoError(t, err)
		assert.NoError(t, client.Close())
	})

	t.Run("InvalidURL", func(t *testing.T) {
		_, err := OpenRedisClient(ctx, "http://localhost")
		assert.ErrorContains(t, err, "invalid redis url")
	})

	t.Run("Unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := OpenRedisClient(ctx, "redis://"+addr+"/0")
		assert.ErrorContains(t, err, "failed to ping redis")
	})
}

func TestLocalLocker_TryLock(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	release, acquired, err := locker.TryLock(ctx, "relay:reconcile:slack")
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = locker.TryLock(ctx, "relay:reconcile:slack")
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, release(ctx))
	assert.ErrorIs(t, release(ctx), ErrLockNotHeld)

	again, acquired, err := locker.TryLock(ctx, "relay:reconcile:slack")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NoError(t, again(ctx))
}

func TestLocalLocker_Concurrent(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	var acquiredCount atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := locker.TryLock(ctx, "relay:reconcile:slack"); ok {
				acquiredCount.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), acquiredCount.Load())
}
