// Package shop serves shop records and shop categories through the read-through
// cache, the geo paginator and the persistent store.
package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/illmade-knight/go-cacheguard/pkg/cache"
	"github.com/illmade-knight/go-cacheguard/pkg/geo"
	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/illmade-knight/go-cacheguard/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultPageSize is the number of shops per ListByType page.
	DefaultPageSize = 5
	// TypeListKey holds the cached shop type list. It has no expiry.
	TypeListKey = "cache:shop-type:list"
)

// ErrMissingID is returned by Update for a shop without an id.
var ErrMissingID = errors.New("shop id is required")

// Updater writes shop changes to the persistent store.
type Updater interface {
	UpdateByID(ctx context.Context, shop types.Shop) error
}

// TypeLister lists shop types from the persistent store.
type TypeLister interface {
	ListTypes(ctx context.Context) ([]types.ShopType, error)
}

// Service is the shop query and update surface.
type Service struct {
	records  *cache.ReadThroughCache[int64, types.Shop]
	pages    *geo.Paginator[types.Shop]
	store    Updater
	shopType TypeLister
	kv       kvcache.KeyValueCache
	logger   zerolog.Logger
}

// NewService creates a shop Service.
func NewService(
	records *cache.ReadThroughCache[int64, types.Shop],
	pages *geo.Paginator[types.Shop],
	store Updater,
	shopTypes TypeLister,
	kv kvcache.KeyValueCache,
	logger zerolog.Logger,
) (*Service, error) {
	if records == nil || pages == nil || store == nil || shopTypes == nil || kv == nil {
		return nil, errors.New("shop service dependencies cannot be nil")
	}
	return &Service{
		records:  records,
		pages:    pages,
		store:    store,
		shopType: shopTypes,
		kv:       kv,
		logger:   logger.With().Str("component", "ShopService").Logger(),
	}, nil
}

// Get returns a shop, filling the cache under the fill lock on a miss.
func (s *Service) Get(ctx context.Context, id int64) (types.Shop, error) {
	return s.records.GetOrLoad(ctx, id)
}

// GetHot returns a pre-warmed shop, possibly stale. A shop that was never
// warmed yields cache.ErrCacheMiss.
func (s *Service) GetHot(ctx context.Context, id int64) (types.Shop, error) {
	return s.records.GetWithLogicalExpiry(ctx, id)
}

// WarmHot writes logical-expiry entries for ids and returns how many were
// written. Ids missing from the store are skipped.
func (s *Service) WarmHot(ctx context.Context, ids []int64) (int, error) {
	warmed := 0
	for _, id := range ids {
		err := s.records.Warm(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			s.logger.Warn().Int64("id", id).Msg("Hot shop not in store, skipping warm-up.")
			continue
		}
		if err != nil {
			return warmed, err
		}
		warmed++
	}
	return warmed, nil
}

// Update writes shop to the store, then drops its cache entry.
func (s *Service) Update(ctx context.Context, shop types.Shop) error {
	if shop.ID == 0 {
		return ErrMissingID
	}
	if err := s.store.UpdateByID(ctx, shop); err != nil {
		return fmt.Errorf("failed to update shop %d: %w", shop.ID, err)
	}
	if err := s.records.Invalidate(ctx, shop.ID); err != nil {
		return err
	}
	s.logger.Info().Int64("id", shop.ID).Msg("Shop updated and cache entry invalidated.")
	return nil
}

// ListByType returns page of shops in typeID, nearest first when center is set.
func (s *Service) ListByType(ctx context.Context, typeID int64, page int, center *kvcache.Point) ([]geo.Result[types.Shop], error) {
	return s.pages.QueryPage(ctx, typeID, center, DefaultPageSize, page)
}

// ListTypes returns all shop types ordered by Sort, served from the cache when
// present.
func (s *Service) ListTypes(ctx context.Context) ([]types.ShopType, error) {
	raw, err := s.kv.Get(ctx, TypeListKey)
	switch {
	case err == nil && raw != "":
		var cached []types.ShopType
		jsonErr := json.Unmarshal([]byte(raw), &cached)
		if jsonErr == nil {
			return cached, nil
		}
		s.logger.Error().Err(jsonErr).Str("key", TypeListKey).Msg("Failed to unmarshal cached type list, reloading.")
	case err != nil && !errors.Is(err, kvcache.ErrKeyNotFound):
		s.logger.Error().Err(err).Str("key", TypeListKey).Msg("Unexpected cache error during fetch.")
	}

	list, err := s.shopType.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list shop types: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Sort < list[j].Sort })
	if len(list) == 0 {
		return []types.ShopType{}, nil
	}

	payload, err := json.Marshal(list)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal type list for caching.")
		return list, nil
	}
	if err := s.kv.Set(ctx, TypeListKey, string(payload), 0); err != nil {
		s.logger.Error().Err(err).Str("key", TypeListKey).Msg("Failed to write type list to cache.")
	}
	return list, nil
}
