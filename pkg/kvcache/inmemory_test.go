package kvcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestInMemoryCache_Strings(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := kvcache.NewInMemoryCacheWithClock(clock.Now)

	t.Run("Get miss", func(t *testing.T) {
		_, err := c.Get(ctx, "missing")
		assert.ErrorIs(t, err, kvcache.ErrKeyNotFound)
	})

	t.Run("Set, Get and TTL expiry", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", v)

		clock.Advance(time.Minute)
		_, err = c.Get(ctx, "k")
		assert.ErrorIs(t, err, kvcache.ErrKeyNotFound, "key should expire exactly at its ttl")
	})

	t.Run("Empty value is distinct from absent", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "empty", "", time.Minute))
		v, err := c.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Equal(t, "", v)
	})

	t.Run("Zero ttl never expires", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "forever", "x", 0))
		clock.Advance(24 * time.Hour)
		v, err := c.Get(ctx, "forever")
		require.NoError(t, err)
		assert.Equal(t, "x", v)
	})

	t.Run("Negative ttl is rejected", func(t *testing.T) {
		assert.Error(t, c.Set(ctx, "bad", "x", -time.Second))
	})
}

func TestInMemoryCache_SetNXAndCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := kvcache.NewInMemoryCacheWithClock(clock.Now)

	ok, err := c.SetNX(ctx, "lock", "owner-a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", "owner-b", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second SetNX must fail while the key is held")

	deleted, err := c.CompareAndDelete(ctx, "lock", "owner-b")
	require.NoError(t, err)
	assert.False(t, deleted, "a different owner must not delete the key")

	deleted, err = c.CompareAndDelete(ctx, "lock", "owner-a")
	require.NoError(t, err)
	assert.True(t, deleted)

	ok, err = c.SetNX(ctx, "lock", "owner-b", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(10 * time.Second)
	ok, err = c.SetNX(ctx, "lock", "owner-c", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "an expired key is free again")
}

func TestInMemoryCache_Sets(t *testing.T) {
	ctx := context.Background()
	c := kvcache.NewInMemoryCache()

	require.NoError(t, c.SAdd(ctx, "a", "1", "2", "3"))
	require.NoError(t, c.SAdd(ctx, "b", "2", "3", "4"))

	common, err := c.SInter(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, common)

	require.NoError(t, c.SRem(ctx, "a", "2"))
	common, err = c.SInter(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, common)

	common, err = c.SInter(ctx, "a", "missing")
	require.NoError(t, err)
	assert.Empty(t, common)
}

func TestInMemoryCache_Bits(t *testing.T) {
	ctx := context.Background()
	c := kvcache.NewInMemoryCache()

	// Offsets 0, 2, 3 set: reading 4 bits gives 0b1011.
	require.NoError(t, c.SetBit(ctx, "bits", 0, 1))
	require.NoError(t, c.SetBit(ctx, "bits", 2, 1))
	require.NoError(t, c.SetBit(ctx, "bits", 3, 1))

	v, err := c.BitFieldUnsigned(ctx, "bits", 4, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1011), v)

	t.Run("Bits past the end read as zero", func(t *testing.T) {
		v, err := c.BitFieldUnsigned(ctx, "bits", 12, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(0b1011_0000_0000), v)
	})

	t.Run("Missing key reads as zero", func(t *testing.T) {
		v, err := c.BitFieldUnsigned(ctx, "none", 31, 0)
		require.NoError(t, err)
		assert.Zero(t, v)
	})

	t.Run("Width is bounded", func(t *testing.T) {
		_, err := c.BitFieldUnsigned(ctx, "bits", 64, 0)
		assert.Error(t, err)
	})
}

func TestInMemoryCache_GeoRadius(t *testing.T) {
	ctx := context.Background()
	c := kvcache.NewInMemoryCache()

	center := kvcache.Point{Longitude: 120.149993, Latitude: 30.334229}
	require.NoError(t, c.GeoAdd(ctx, "geo",
		kvcache.GeoLocation{Name: "far", Point: kvcache.Point{Longitude: 120.20, Latitude: 30.334229}},
		kvcache.GeoLocation{Name: "near", Point: kvcache.Point{Longitude: 120.151, Latitude: 30.334229}},
		kvcache.GeoLocation{Name: "mid", Point: kvcache.Point{Longitude: 120.16, Latitude: 30.334229}},
		kvcache.GeoLocation{Name: "outside", Point: kvcache.Point{Longitude: 121.0, Latitude: 31.0}},
	))

	hits, err := c.GeoRadius(ctx, "geo", center, 5000, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "near", hits[0].Name)
	assert.Equal(t, "mid", hits[1].Name)
	assert.Equal(t, "far", hits[2].Name)
	assert.InDelta(t, 96.0, hits[0].Distance, 2.0)

	hits, err = c.GeoRadius(ctx, "geo", center, 5000, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2, "count caps the result set")

	assert.Error(t, c.GeoAdd(ctx, "geo", kvcache.GeoLocation{Name: "pole", Point: kvcache.Point{Longitude: 0, Latitude: 89}}))

	t.Run("Out of range pair rejects the whole batch", func(t *testing.T) {
		err := c.GeoAdd(ctx, "batch",
			kvcache.GeoLocation{Name: "valid", Point: center},
			kvcache.GeoLocation{Name: "pole", Point: kvcache.Point{Longitude: 0, Latitude: 89}},
		)
		require.Error(t, err)

		hits, err := c.GeoRadius(ctx, "batch", center, 5000, 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}
