package geo_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-cacheguard/pkg/geo"
	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/illmade-knight/go-cacheguard/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var center = kvcache.Point{Longitude: 120.149993, Latitude: 30.334229}

// mockShopLister serves shops from a map and counts calls.
type mockShopLister struct {
	shops         map[int64]types.Shop
	byIDCalls     atomic.Int32
	categoryCalls atomic.Int32
	err           error
}

func (m *mockShopLister) ListByIDs(_ context.Context, ids []int64) (map[int64]types.Shop, error) {
	m.byIDCalls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[int64]types.Shop, len(ids))
	for _, id := range ids {
		if s, ok := m.shops[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (m *mockShopLister) ListByCategory(_ context.Context, category int64, offset, limit int) ([]types.Shop, error) {
	m.categoryCalls.Add(1)
	var out []types.Shop
	for id := int64(1); id <= int64(len(m.shops)); id++ {
		if s, ok := m.shops[id]; ok && s.TypeID == category {
			out = append(out, s)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

// seedShops indexes seven shops about 96m apart along a line east of center and
// one shop well outside the search radius.
func seedShops(t *testing.T) (*kvcache.InMemoryCache, *mockShopLister) {
	t.Helper()
	kv := kvcache.NewInMemoryCache()
	lister := &mockShopLister{shops: map[int64]types.Shop{}}
	var locations []types.Location
	for i := int64(1); i <= 8; i++ {
		lon := center.Longitude + float64(i)*0.001
		if i == 8 {
			lon = center.Longitude + 0.1
		}
		shop := types.Shop{ID: i, Name: "shop", TypeID: 1, Longitude: lon, Latitude: center.Latitude}
		lister.shops[i] = shop
		locations = append(locations, types.ShopLocation(shop))
	}
	loader, err := geo.NewLoader(kv, staticSource(locations), zerolog.Nop())
	require.NoError(t, err)
	n, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 8, n)
	return kv, lister
}

func ids(results []geo.Result[types.Shop]) []int64 {
	out := make([]int64, 0, len(results))
	for _, r := range results {
		out = append(out, r.Record.ID)
	}
	return out
}

func TestPaginator_QueryPage(t *testing.T) {
	ctx := context.Background()

	t.Run("Pages are nearest first without gaps or duplicates", func(t *testing.T) {
		// Arrange
		kv, lister := seedShops(t)
		p := geo.NewPaginator[types.Shop](kv, lister, 0, zerolog.Nop())

		// Act
		page1, err1 := p.QueryPage(ctx, 1, &center, 3, 1)
		page2, err2 := p.QueryPage(ctx, 1, &center, 3, 2)
		page3, err3 := p.QueryPage(ctx, 1, &center, 3, 3)
		page4, err4 := p.QueryPage(ctx, 1, &center, 3, 4)

		// Assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		require.NoError(t, err3)
		require.NoError(t, err4)
		assert.Equal(t, []int64{1, 2, 3}, ids(page1))
		assert.Equal(t, []int64{4, 5, 6}, ids(page2))
		assert.Equal(t, []int64{7}, ids(page3), "shop 8 is outside the radius")
		assert.Empty(t, page4)
		assert.NotNil(t, page4)

		for i := 1; i < len(page1); i++ {
			assert.Greater(t, page1[i].Distance, page1[i-1].Distance)
		}
		assert.InDelta(t, 96, page1[0].Distance, 2)
	})

	t.Run("Same page twice is identical", func(t *testing.T) {
		kv, lister := seedShops(t)
		p := geo.NewPaginator[types.Shop](kv, lister, 0, zerolog.Nop())

		a, err := p.QueryPage(ctx, 1, &center, 2, 2)
		require.NoError(t, err)
		b, err := p.QueryPage(ctx, 1, &center, 2, 2)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("Records missing from the store are skipped", func(t *testing.T) {
		kv, lister := seedShops(t)
		delete(lister.shops, 2)
		p := geo.NewPaginator[types.Shop](kv, lister, 0, zerolog.Nop())

		page, err := p.QueryPage(ctx, 1, &center, 3, 1)

		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, ids(page))
	})

	t.Run("Empty page does not reach the store", func(t *testing.T) {
		kv, lister := seedShops(t)
		p := geo.NewPaginator[types.Shop](kv, lister, 0, zerolog.Nop())

		page, err := p.QueryPage(ctx, 1, &center, 5, 9)

		require.NoError(t, err)
		assert.Empty(t, page)
		assert.Zero(t, lister.byIDCalls.Load())
	})

	t.Run("Unknown category is empty", func(t *testing.T) {
		kv, lister := seedShops(t)
		p := geo.NewPaginator[types.Shop](kv, lister, 0, zerolog.Nop())

		page, err := p.QueryPage(ctx, 42, &center, 5, 1)

		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("Nil center uses plain store paging", func(t *testing.T) {
		kv, lister := seedShops(t)
		p := geo.NewPaginator[types.Shop](kv, lister, 0, zerolog.Nop())

		page, err := p.QueryPage(ctx, 1, nil, 3, 2)

		require.NoError(t, err)
		assert.Equal(t, []int64{4, 5, 6}, ids(page))
		assert.Zero(t, page[0].Distance)
		assert.Equal(t, int32(1), lister.categoryCalls.Load())
		assert.Zero(t, lister.byIDCalls.Load())
	})

	t.Run("Page number below one is the first page", func(t *testing.T) {
		kv, lister := seedShops(t)
		p := geo.NewPaginator[types.Shop](kv, lister, 0, zerolog.Nop())

		page, err := p.QueryPage(ctx, 1, &center, 2, 0)

		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, ids(page))
	})

	t.Run("Non-positive page size is rejected", func(t *testing.T) {
		kv, lister := seedShops(t)
		p := geo.NewPaginator[types.Shop](kv, lister, 0, zerolog.Nop())

		_, err := p.QueryPage(ctx, 1, &center, 0, 1)

		assert.ErrorIs(t, err, geo.ErrInvalidPage)
	})

	t.Run("Store failure is returned", func(t *testing.T) {
		kv, lister := seedShops(t)
		lister.err = errors.New("store offline")
		p := geo.NewPaginator[types.Shop](kv, lister, 0, zerolog.Nop())

		_, err := p.QueryPage(ctx, 1, &center, 3, 1)

		assert.ErrorIs(t, err, lister.err)
	})

	t.Run("Smaller radius narrows results", func(t *testing.T) {
		kv, lister := seedShops(t)
		p := geo.NewPaginator[types.Shop](kv, lister, 250, zerolog.Nop())

		page, err := p.QueryPage(ctx, 1, &center, 10, 1)

		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, ids(page))
	})
}
