package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/lock"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// =============================================================================
// REDIS
// =============================================================================

func TestRedisLocker_AcquireRelease(t *testing.T) {
	mr, client := newRedis(t)
	l := lock.NewRedisLocker(client, lock.RedisOptions{Prefix: "test:"})
	ctx := context.Background()

	release, err := l.Acquire(ctx, "series-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:series-1"))

	release()
	assert.False(t, mr.Exists("test:series-1"))

	release, err = l.Acquire(ctx, "series-1")
	require.NoError(t, err)
	release()
}

func TestRedisLocker_HeldKey_ReturnsSeriesLocked(t *testing.T) {
	// GIVEN: Another process holds the key
	// WHEN: Acquiring with a short max wait
	// THEN: ErrSeriesLocked, classified as retryable

	mr, client := newRedis(t)
	require.NoError(t, mr.Set("series-1", "someone-else"))
	l := lock.NewRedisLocker(client, lock.RedisOptions{MaxWait: 50 * time.Millisecond})

	_, err := l.Acquire(context.Background(), "series-1")
	require.ErrorIs(t, err, ledger.ErrSeriesLocked)
	assert.True(t, ledger.IsRetryable(err))
}

func TestRedisLocker_ReleaseDoesNotFreeForeignLock(t *testing.T) {
	// GIVEN: Our lock expired and another holder took the key
	// WHEN: We release
	// THEN: The other holder's key survives

	mr, client := newRedis(t)
	l := lock.NewRedisLocker(client, lock.RedisOptions{TTL: time.Second})

	release, err := l.Acquire(context.Background(), "series-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("series-1", "new-holder"))

	release()
	got, err := mr.Get("series-1")
	require.NoError(t, err)
	assert.Equal(t, "new-holder", got)
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	_, client := newRedis(t)
	l := lock.NewRedisLocker(client, lock.RedisOptions{MaxWait: 2 * time.Second})
	ctx := context.Background()

	release, err := l.Acquire(ctx, "series-1")
	require.NoError(t, err)
	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	second, err := l.Acquire(ctx, "series-1")
	require.NoError(t, err)
	second()
}

func TestRedisLocker_RedisDown_StoreUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	l := lock.NewRedisLocker(client, lock.RedisOptions{MaxWait: 100 * time.Millisecond})
	mr.Close()

	_, err := l.Acquire(context.Background(), "series-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

// =============================================================================
// LOCAL
// =============================================================================

func TestLocal_SerializesSameKey(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := lock.NewLocal()
	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ledger.ErrSeriesLocked)

	// Other keys are independent
	other, err := l.Acquire(context.Background(), "other")
	require.NoError(t, err)
	other()
}

func TestLocal_ReleaseIsIdempotent(t *testing.T) {
	l := lock.NewLocal()
	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again()
}
