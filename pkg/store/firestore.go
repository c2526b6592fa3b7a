// Package store holds the persistent-store collaborators the cache patterns
// read from: Firestore-backed stores for deployment and in-memory stores for
// local runs and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-cacheguard/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig names the collections used by the Firestore stores.
type FirestoreConfig struct {
	ProjectID           string `yaml:"project_id"`
	ShopsCollection     string `yaml:"shops_collection"`
	ShopTypesCollection string `yaml:"shop_types_collection"`
	UsersCollection     string `yaml:"users_collection"`
	FollowsCollection   string `yaml:"follows_collection"`
}

// DefaultFirestoreConfig returns the standard collection names.
func DefaultFirestoreConfig(projectID string) FirestoreConfig {
	return FirestoreConfig{
		ProjectID:           projectID,
		ShopsCollection:     "shops",
		ShopTypesCollection: "shop_types",
		UsersCollection:     "users",
		FollowsCollection:   "follows",
	}
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// notFound converts a Firestore NotFound into types.ErrNotFound and wraps any
// other failure with types.ErrStoreUnavailable.
func notFound(err error, what string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s: %w", what, types.ErrNotFound)
	}
	return fmt.Errorf("firestore %s: %w: %w", what, types.ErrStoreUnavailable, err)
}

// ShopStore reads and updates shops in Firestore.
type ShopStore struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// NewShopStore creates a Firestore-backed shop store.
func NewShopStore(cfg FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*ShopStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg.ShopsCollection == "" {
		return nil, errors.New("shops collection name is required")
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.ShopsCollection).Msg("ShopStore initialized.")
	return &ShopStore{
		client:     client,
		collection: cfg.ShopsCollection,
		logger:     logger.With().Str("component", "FirestoreShopStore").Logger(),
	}, nil
}

// Fetch returns the shop with id.
func (s *ShopStore) Fetch(ctx context.Context, id int64) (types.Shop, error) {
	snap, err := s.client.Collection(s.collection).Doc(docID(id)).Get(ctx)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			s.logger.Error().Err(err).Int64("id", id).Msg("Failed to get shop document.")
		}
		return types.Shop{}, notFound(err, "shop "+docID(id))
	}
	var shop types.Shop
	if err := snap.DataTo(&shop); err != nil {
		return types.Shop{}, fmt.Errorf("firestore DataTo for shop %d: %w", id, err)
	}
	return shop, nil
}

// ListByIDs batch-reads shops. Ids with no document are left out.
func (s *ShopStore) ListByIDs(ctx context.Context, ids []int64) (map[int64]types.Shop, error) {
	out := make(map[int64]types.Shop, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, s.client.Collection(s.collection).Doc(docID(id)))
	}
	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("firestore GetAll on %s: %w: %w", s.collection, types.ErrStoreUnavailable, err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var shop types.Shop
		if err := snap.DataTo(&shop); err != nil {
			s.logger.Error().Err(err).Str("doc", snap.Ref.ID).Msg("Skipping unreadable shop document.")
			continue
		}
		out[shop.ID] = shop
	}
	return out, nil
}

// ListByCategory pages through the shops of typeID ordered by id.
func (s *ShopStore) ListByCategory(ctx context.Context, typeID int64, offset, limit int) ([]types.Shop, error) {
	q := s.client.Collection(s.collection).
		Where("typeId", "==", typeID).
		OrderBy("id", firestore.Asc).
		Offset(offset).
		Limit(limit)
	return s.collect(q.Documents(ctx))
}

// Locations returns the geo index entry of every shop.
func (s *ShopStore) Locations(ctx context.Context) ([]types.Location, error) {
	shops, err := s.collect(s.client.Collection(s.collection).Documents(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]types.Location, 0, len(shops))
	for _, shop := range shops {
		out = append(out, types.ShopLocation(shop))
	}
	return out, nil
}

// UpdateByID overwrites the mutable fields of an existing shop.
func (s *ShopStore) UpdateByID(ctx context.Context, shop types.Shop) error {
	_, err := s.client.Collection(s.collection).Doc(docID(shop.ID)).Update(ctx, []firestore.Update{
		{Path: "name", Value: shop.Name},
		{Path: "typeId", Value: shop.TypeID},
		{Path: "address", Value: shop.Address},
		{Path: "x", Value: shop.Longitude},
		{Path: "y", Value: shop.Latitude},
		{Path: "avgPrice", Value: shop.AvgPrice},
		{Path: "score", Value: shop.Score},
	})
	if err != nil {
		return notFound(err, "update shop "+docID(shop.ID))
	}
	s.logger.Debug().Int64("id", shop.ID).Msg("Shop updated.")
	return nil
}

// Save creates or replaces a shop.
func (s *ShopStore) Save(ctx context.Context, shop types.Shop) error {
	if _, err := s.client.Collection(s.collection).Doc(docID(shop.ID)).Set(ctx, shop); err != nil {
		return fmt.Errorf("firestore set for shop %d: %w: %w", shop.ID, types.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ShopStore) collect(iter *firestore.DocumentIterator) ([]types.Shop, error) {
	defer iter.Stop()
	var shops []types.Shop
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore query on %s: %w: %w", s.collection, types.ErrStoreUnavailable, err)
		}
		var shop types.Shop
		if err := snap.DataTo(&shop); err != nil {
			s.logger.Error().Err(err).Str("doc", snap.Ref.ID).Msg("Skipping unreadable shop document.")
			continue
		}
		shops = append(shops, shop)
	}
	return shops, nil
}

// ShopTypeStore lists shop categories from Firestore.
type ShopTypeStore struct {
	client     *firestore.Client
	collection string
}

// NewShopTypeStore creates a Firestore-backed shop type store.
func NewShopTypeStore(cfg FirestoreConfig, client *firestore.Client) (*ShopTypeStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	return &ShopTypeStore{client: client, collection: cfg.ShopTypesCollection}, nil
}

// ListTypes returns every shop type in display order.
func (s *ShopTypeStore) ListTypes(ctx context.Context) ([]types.ShopType, error) {
	iter := s.client.Collection(s.collection).OrderBy("sort", firestore.Asc).Documents(ctx)
	defer iter.Stop()
	var out []types.ShopType
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore query on %s: %w: %w", s.collection, types.ErrStoreUnavailable, err)
		}
		var st types.ShopType
		if err := snap.DataTo(&st); err != nil {
			return nil, fmt.Errorf("firestore DataTo for shop type %s: %w", snap.Ref.ID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// UserStore reads users from Firestore.
type UserStore struct {
	client     *firestore.Client
	collection string
}

// NewUserStore creates a Firestore-backed user store.
func NewUserStore(cfg FirestoreConfig, client *firestore.Client) (*UserStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	return &UserStore{client: client, collection: cfg.UsersCollection}, nil
}

// ListByIDs batch-reads users in ascending id order. Missing ids are left out.
func (s *UserStore) ListByIDs(ctx context.Context, ids []int64) ([]types.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, s.client.Collection(s.collection).Doc(docID(id)))
	}
	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("firestore GetAll on %s: %w: %w", s.collection, types.ErrStoreUnavailable, err)
	}
	users := make([]types.User, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var u types.User
		if err := snap.DataTo(&u); err != nil {
			return nil, fmt.Errorf("firestore DataTo for user %s: %w", snap.Ref.ID, err)
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// FollowStore persists follow edges in Firestore, one document per edge.
type FollowStore struct {
	client     *firestore.Client
	collection string
}

// NewFollowStore creates a Firestore-backed follow edge store.
func NewFollowStore(cfg FirestoreConfig, client *firestore.Client) (*FollowStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	return &FollowStore{client: client, collection: cfg.FollowsCollection}, nil
}

func edgeID(userID, followUserID int64) string {
	return docID(userID) + "_" + docID(followUserID)
}

// Insert stores edge. Inserting an existing edge succeeds.
func (s *FollowStore) Insert(ctx context.Context, edge types.FollowEdge) error {
	_, err := s.client.Collection(s.collection).Doc(edgeID(edge.UserID, edge.FollowUserID)).Create(ctx, edge)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("firestore create follow edge: %w: %w", types.ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes the edge and reports whether it existed.
func (s *FollowStore) Delete(ctx context.Context, userID, followUserID int64) (bool, error) {
	_, err := s.client.Collection(s.collection).Doc(edgeID(userID, followUserID)).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("firestore delete follow edge: %w: %w", types.ErrStoreUnavailable, err)
	}
	return true, nil
}

// Exists reports whether userID follows followUserID.
func (s *FollowStore) Exists(ctx context.Context, userID, followUserID int64) (bool, error) {
	_, err := s.client.Collection(s.collection).Doc(edgeID(userID, followUserID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("firestore get follow edge: %w: %w", types.ErrStoreUnavailable, err)
	}
	return true, nil
}
