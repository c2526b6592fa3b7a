//go:build integration

package kvcache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T, ctx context.Context) *kvcache.RedisCache {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c, err := kvcache.NewRedisCache(ctx, &kvcache.RedisConfig{Addr: addr}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	c := newRedisCache(t, ctx)

	prefix := "it:" + time.Now().Format("150405.000000") + ":"
	t.Cleanup(func() {
		_ = c.Delete(context.Background(), prefix+"k", prefix+"lock", prefix+"a", prefix+"b", prefix+"bits", prefix+"geo")
	})

	t.Run("Get, Set and miss", func(t *testing.T) {
		_, err := c.Get(ctx, prefix+"k")
		assert.ErrorIs(t, err, kvcache.ErrKeyNotFound)

		require.NoError(t, c.Set(ctx, prefix+"k", "", time.Minute))
		v, err := c.Get(ctx, prefix+"k")
		require.NoError(t, err)
		assert.Equal(t, "", v)
	})

	t.Run("Lock primitives", func(t *testing.T) {
		ok, err := c.SetNX(ctx, prefix+"lock", "a", 10*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = c.SetNX(ctx, prefix+"lock", "b", 10*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		deleted, err := c.CompareAndDelete(ctx, prefix+"lock", "b")
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = c.CompareAndDelete(ctx, prefix+"lock", "a")
		require.NoError(t, err)
		assert.True(t, deleted)
	})

	t.Run("Sets", func(t *testing.T) {
		require.NoError(t, c.SAdd(ctx, prefix+"a", "1", "2"))
		require.NoError(t, c.SAdd(ctx, prefix+"b", "2", "3"))
		common, err := c.SInter(ctx, prefix+"a", prefix+"b")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"2"}, common)
	})

	t.Run("Bitfield matches in-memory ordering", func(t *testing.T) {
		for _, off := range []int64{0, 2, 3} {
			require.NoError(t, c.SetBit(ctx, prefix+"bits", off, 1))
		}
		v, err := c.BitFieldUnsigned(ctx, prefix+"bits", 4, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(0b1011), v)
	})

	t.Run("GeoRadius", func(t *testing.T) {
		require.NoError(t, c.GeoAdd(ctx, prefix+"geo",
			kvcache.GeoLocation{Name: "near", Point: kvcache.Point{Longitude: 120.151, Latitude: 30.334229}},
			kvcache.GeoLocation{Name: "far", Point: kvcache.Point{Longitude: 120.20, Latitude: 30.334229}},
		))
		hits, err := c.GeoRadius(ctx, prefix+"geo", kvcache.Point{Longitude: 120.149993, Latitude: 30.334229}, 5000, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "near", hits[0].Name)
	})
}
