package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/illmade-knight/go-cacheguard/pkg/types"
)

// InMemoryShopStore is a thread-safe shop store for local runs and tests.
type InMemoryShopStore struct {
	mu    sync.RWMutex
	shops map[int64]types.Shop
}

// NewInMemoryShopStore creates a store seeded with shops.
func NewInMemoryShopStore(shops ...types.Shop) *InMemoryShopStore {
	s := &InMemoryShopStore{shops: make(map[int64]types.Shop, len(shops))}
	for _, shop := range shops {
		s.shops[shop.ID] = shop
	}
	return s
}

// Fetch returns the shop with id.
func (s *InMemoryShopStore) Fetch(_ context.Context, id int64) (types.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shop, ok := s.shops[id]
	if !ok {
		return types.Shop{}, fmt.Errorf("shop %d: %w", id, types.ErrNotFound)
	}
	return shop, nil
}

// ListByIDs returns the shops that exist among ids.
func (s *InMemoryShopStore) ListByIDs(_ context.Context, ids []int64) (map[int64]types.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]types.Shop, len(ids))
	for _, id := range ids {
		if shop, ok := s.shops[id]; ok {
			out[id] = shop
		}
	}
	return out, nil
}

// ListByCategory pages through the shops of typeID ordered by id.
func (s *InMemoryShopStore) ListByCategory(_ context.Context, typeID int64, offset, limit int) ([]types.Shop, error) {
	s.mu.RLock()
	matching := make([]types.Shop, 0)
	for _, shop := range s.shops {
		if shop.TypeID == typeID {
			matching = append(matching, shop)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matching, func(i, j int) bool { return matching[i].ID < matching[j].ID })
	if offset >= len(matching) {
		return []types.Shop{}, nil
	}
	end := offset + limit
	if end > len(matching) {
		end = len(matching)
	}
	return matching[offset:end], nil
}

// Locations returns the geo index entry of every shop.
func (s *InMemoryShopStore) Locations(_ context.Context) ([]types.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Location, 0, len(s.shops))
	for _, shop := range s.shops {
		out = append(out, types.ShopLocation(shop))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateByID replaces an existing shop.
func (s *InMemoryShopStore) UpdateByID(_ context.Context, shop types.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shops[shop.ID]; !ok {
		return fmt.Errorf("update shop %d: %w", shop.ID, types.ErrNotFound)
	}
	s.shops[shop.ID] = shop
	return nil
}

// Save creates or replaces a shop.
func (s *InMemoryShopStore) Save(_ context.Context, shop types.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shops[shop.ID] = shop
	return nil
}

// InMemoryShopTypeStore serves a fixed list of shop types.
type InMemoryShopTypeStore struct {
	types []types.ShopType
}

// NewInMemoryShopTypeStore creates a store holding shopTypes.
func NewInMemoryShopTypeStore(shopTypes ...types.ShopType) *InMemoryShopTypeStore {
	sorted := append([]types.ShopType(nil), shopTypes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sort < sorted[j].Sort })
	return &InMemoryShopTypeStore{types: sorted}
}

// ListTypes returns every shop type in display order.
func (s *InMemoryShopTypeStore) ListTypes(_ context.Context) ([]types.ShopType, error) {
	return append([]types.ShopType(nil), s.types...), nil
}

// InMemoryUserStore is a thread-safe user store.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[int64]types.User
}

// NewInMemoryUserStore creates a store seeded with users.
func NewInMemoryUserStore(users ...types.User) *InMemoryUserStore {
	s := &InMemoryUserStore{users: make(map[int64]types.User, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// ListByIDs returns the users that exist among ids in ascending id order.
func (s *InMemoryUserStore) ListByIDs(_ context.Context, ids []int64) ([]types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InMemoryFollowStore is a thread-safe follow edge store.
type InMemoryFollowStore struct {
	mu    sync.RWMutex
	edges map[types.FollowEdge]struct{}
}

// NewInMemoryFollowStore creates an empty follow store.
func NewInMemoryFollowStore() *InMemoryFollowStore {
	return &InMemoryFollowStore{edges: make(map[types.FollowEdge]struct{})}
}

// Insert stores edge. Inserting an existing edge succeeds.
func (s *InMemoryFollowStore) Insert(_ context.Context, edge types.FollowEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[edge] = struct{}{}
	return nil
}

// Delete removes the edge and reports whether it existed.
func (s *InMemoryFollowStore) Delete(_ context.Context, userID, followUserID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edge := types.FollowEdge{UserID: userID, FollowUserID: followUserID}
	if _, ok := s.edges[edge]; !ok {
		return false, nil
	}
	delete(s.edges, edge)
	return true, nil
}

// Exists reports whether userID follows followUserID.
func (s *InMemoryFollowStore) Exists(_ context.Context, userID, followUserID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[types.FollowEdge{UserID: userID, FollowUserID: followUserID}]
	return ok, nil
}
