package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/illmade-knight/go-cacheguard/pkg/lock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributedLock(t *testing.T) {
	ctx := context.Background()

	t.Run("Acquire, contend, release", func(t *testing.T) {
		// Arrange
		l := lock.NewDistributedLock(kvcache.NewInMemoryCache(), zerolog.Nop())

		// Act
		token, ok, err := l.TryAcquire(ctx, "lock:shop:1", 10*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok2, err := l.TryAcquire(ctx, "lock:shop:1", 10*time.Second)
		require.NoError(t, err)

		released, err := l.Release(ctx, token)
		require.NoError(t, err)

		// Assert
		assert.False(t, ok2, "second acquisition must fail while held")
		assert.True(t, released)
		assert.NotEmpty(t, token.Owner)
		assert.Equal(t, "lock:shop:1", token.Key)
	})

	t.Run("Stale token cannot release a newer holder", func(t *testing.T) {
		// Arrange
		now := time.Unix(1_700_000_000, 0)
		var mu sync.Mutex
		clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
		l := lock.NewDistributedLock(kvcache.NewInMemoryCacheWithClock(clock), zerolog.Nop())

		first, ok, err := l.TryAcquire(ctx, "lock:shop:2", 10*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		// The first holder overruns its TTL and a second caller takes the lock.
		mu.Lock()
		now = now.Add(11 * time.Second)
		mu.Unlock()
		second, ok, err := l.TryAcquire(ctx, "lock:shop:2", 10*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		// Act
		released, err := l.Release(ctx, first)

		// Assert
		require.NoError(t, err)
		assert.False(t, released, "expired owner must not delete the new owner's lock")
		_, ok, err = l.TryAcquire(ctx, "lock:shop:2", 10*time.Second)
		require.NoError(t, err)
		assert.False(t, ok, "lock must still be held by the second owner")

		released, err = l.Release(ctx, second)
		require.NoError(t, err)
		assert.True(t, released)
	})

	t.Run("Only one of many concurrent callers wins", func(t *testing.T) {
		l := lock.NewDistributedLock(kvcache.NewInMemoryCache(), zerolog.Nop())
		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok, err := l.TryAcquire(ctx, "lock:hot", 10*time.Second); err == nil && ok {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})

	t.Run("Non-positive ttl is rejected", func(t *testing.T) {
		l := lock.NewDistributedLock(kvcache.NewInMemoryCache(), zerolog.Nop())
		_, _, err := l.TryAcquire(ctx, "lock:x", 0)
		assert.Error(t, err)
	})
}
