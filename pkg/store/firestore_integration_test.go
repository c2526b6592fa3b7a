//go:build integration

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-cacheguard/pkg/store"
	"github.com/illmade-knight/go-cacheguard/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmulatorClient connects to the emulator named by FIRESTORE_EMULATOR_HOST.
func newEmulatorClient(t *testing.T, ctx context.Context) *firestore.Client {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	client, err := firestore.NewClient(ctx, "test-project")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestFirestoreStores_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	client := newEmulatorClient(t, ctx)

	cfg := store.DefaultFirestoreConfig("test-project")
	cfg.ShopsCollection = "shops-" + t.Name()
	cfg.FollowsCollection = "follows-" + t.Name()

	shops, err := store.NewShopStore(cfg, client, zerolog.Nop())
	require.NoError(t, err)
	for _, s := range []types.Shop{
		{ID: 1, Name: "a", TypeID: 1, Longitude: 120.15, Latitude: 30.33},
		{ID: 2, Name: "b", TypeID: 1, Longitude: 120.16, Latitude: 30.33},
		{ID: 3, Name: "c", TypeID: 2, Longitude: 120.17, Latitude: 30.33},
	} {
		require.NoError(t, shops.Save(ctx, s))
	}

	t.Run("Fetch hit and miss", func(t *testing.T) {
		shop, err := shops.Fetch(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "b", shop.Name)

		_, err = shops.Fetch(ctx, 404)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("ListByIDs and ListByCategory", func(t *testing.T) {
		byID, err := shops.ListByIDs(ctx, []int64{3, 1, 404})
		require.NoError(t, err)
		assert.Len(t, byID, 2)

		page, err := shops.ListByCategory(ctx, 1, 0, 10)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, int64(1), page[0].ID)
	})

	t.Run("UpdateByID on a missing shop", func(t *testing.T) {
		err := shops.UpdateByID(ctx, types.Shop{ID: 404, Name: "x"})
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("Follow edges", func(t *testing.T) {
		follows, err := store.NewFollowStore(cfg, client)
		require.NoError(t, err)

		require.NoError(t, follows.Insert(ctx, types.FollowEdge{UserID: 1, FollowUserID: 2}))
		require.NoError(t, follows.Insert(ctx, types.FollowEdge{UserID: 1, FollowUserID: 2}))
		ok, err := follows.Exists(ctx, 1, 2)
		require.NoError(t, err)
		assert.True(t, ok)

		removed, err := follows.Delete(ctx, 1, 2)
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = follows.Delete(ctx, 1, 2)
		require.NoError(t, err)
		assert.False(t, removed)
	})
}
