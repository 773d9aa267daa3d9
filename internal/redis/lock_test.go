package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPractitionerDayKey(t *testing.T) {
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "lock:clinic:1:practitioner:7:2025-03-10", PractitionerDayKey(1, 7, date))
}

func TestRedisLockerReleasesAfterRun(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second, 0)
	key := "lock:test"

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))
}

func TestRedisLockerHeldKeyIsNotAcquired(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second, 0)
	key := "lock:held"
	require.NoError(t, mr.Set(key, "someone-else"))

	called := false
	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	// the foreign token must survive
	v, _ := mr.Get(key)
	assert.Equal(t, "someone-else", v)
}

func TestRedisLockerPropagatesCallbackError(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second, 0)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "lock:err", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:err"))
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second, 2*time.Second)
	key := "lock:wait"
	require.NoError(t, mr.Set(key, "other"))

	go func() {
		time.Sleep(100 * time.Millisecond)
		mr.Del(key)
	}()

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestLocalLockerSerialisesSameKey(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLockerTimesOut(t *testing.T) {
	locker := NewLocalLocker(10 * time.Millisecond)
	release := make(chan struct{})
	acquired := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// other keys are independent
	assert.NoError(t, locker.WithLock(context.Background(), "other", func(ctx context.Context) error { return nil }))
	close(release)
}

func TestLocalLockerForgetsIdleKeys(t *testing.T) {
	locker := NewLocalLocker(time.Second).(*localLocker)
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "k"
			if i%2 == 0 {
				key = "other"
			}
			_ = locker.WithLock(context.Background(), key, func(ctx context.Context) error { return nil })
		}(i)
	}
	wg.Wait()

	release := make(chan struct{})
	acquired := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = locker.WithLock(context.Background(), "held", func(ctx context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	locker.mu.Lock()
	assert.Len(t, locker.slots, 1)
	assert.Contains(t, locker.slots, "held")
	locker.mu.Unlock()

	close(release)
	<-done
	locker.mu.Lock()
	assert.Empty(t, locker.slots)
	locker.mu.Unlock()
}
