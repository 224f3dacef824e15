package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(common.NewSilentLogger(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStartBatchIncrements(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.StartBatch(ctx, "0.6.0")
	require.NoError(t, err)
	second, err := store.StartBatch(ctx, "0.6.0")
	require.NoError(t, err)

	assert.Equal(t, first+1, second)
}

func TestInventoryItemRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetInventoryItem(ctx, "SKU-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	item := &models.InventoryItem{Model: "SKU-1", Stocks: 10, LastSyncBatchID: 1}
	require.NoError(t, store.UpsertInventoryItem(ctx, item))

	got, err := store.GetInventoryItem(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, item, got)

	item.Stocks = 7
	item.LastSyncBatchID = 2
	require.NoError(t, store.UpsertInventoryItem(ctx, item))

	got, err = store.GetInventoryItem(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stocks)
	assert.Equal(t, int64(2), got.LastSyncBatchID)
}

func TestListAndDeleteInventoryItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, model := range []string{"A", "B", "C"} {
		err := store.UpsertInventoryItem(ctx, &models.InventoryItem{Model: model, Stocks: 1})
		require.NoError(t, err)
	}

	items, err := store.ListInventoryItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	require.NoError(t, store.DeleteInventoryItems(ctx, []string{"A", "C"}))

	items, err = store.ListInventoryItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "B", items[0].Model)
}

func TestCacheItemPreservesNotBehavingOnUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetCacheItem(ctx, models.SystemLazada, "SKU-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	item := &models.SystemCacheItem{
		Model: "SKU-1", System: models.SystemLazada, Stocks: 10, LastSyncBatchID: 1,
	}
	require.NoError(t, store.UpsertCacheItem(ctx, item))

	got, err := store.GetCacheItem(ctx, models.SystemLazada, "SKU-1")
	require.NoError(t, err)
	assert.False(t, got.NotBehaving)

	require.NoError(t, store.MarkNotBehaving(ctx, models.SystemLazada, "SKU-1", true))

	// A later stock upsert must not clear the latch.
	item.Stocks = 8
	item.LastSyncBatchID = 2
	require.NoError(t, store.UpsertCacheItem(ctx, item))

	got, err = store.GetCacheItem(ctx, models.SystemLazada, "SKU-1")
	require.NoError(t, err)
	assert.True(t, got.NotBehaving)
	assert.Equal(t, 8, got.Stocks)

	require.NoError(t, store.MarkNotBehaving(ctx, models.SystemLazada, "SKU-1", false))
	got, err = store.GetCacheItem(ctx, models.SystemLazada, "SKU-1")
	require.NoError(t, err)
	assert.False(t, got.NotBehaving)
}

func TestCacheItemKeyedBySystem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertCacheItem(ctx, &models.SystemCacheItem{
		Model: "SKU-1", System: models.SystemLazada, Stocks: 5,
	}))
	require.NoError(t, store.UpsertCacheItem(ctx, &models.SystemCacheItem{
		Model: "SKU-1", System: models.SystemShopee, Stocks: 9,
	}))

	lazada, err := store.GetCacheItem(ctx, models.SystemLazada, "SKU-1")
	require.NoError(t, err)
	shopee, err := store.GetCacheItem(ctx, models.SystemShopee, "SKU-1")
	require.NoError(t, err)

	assert.Equal(t, 5, lazada.Stocks)
	assert.Equal(t, 9, shopee.Stocks)
}

func TestAppendAuditRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.AppendCacheDelta(ctx, &models.CacheDelta{
		Model: "SKU-1", System: models.SystemLazada,
		CachedStocks: 10, CurrentStocks: 7, StocksDelta: -3, LastSyncBatchID: 1,
	})
	assert.NoError(t, err)

	err = store.AppendSyncLog(ctx, &models.SyncLogEntry{
		SyncBatchID: 1, System: models.SystemShopee, Model: "SKU-1",
		PreviousStocks: 10, ComputedStocks: 7, ErrorCode: "0",
	})
	assert.NoError(t, err)

	err = store.AppendCacheDelta(ctx, &models.CacheDelta{
		Model: "SKU-2", System: models.SystemShopee,
		CachedStocks: 3, CurrentStocks: 5, StocksDelta: 2, LastSyncBatchID: 2,
	})
	require.NoError(t, err)

	deltas, err := store.ListCacheDeltas(ctx)
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, models.CacheDelta{
		Model: "SKU-1", System: models.SystemLazada,
		CachedStocks: 10, CurrentStocks: 7, StocksDelta: -3, LastSyncBatchID: 1,
	}, deltas[0])
	assert.Equal(t, "SKU-2", deltas[1].Model)
}

func TestOAuth2TokenRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetTokens(ctx, models.SystemLazada)
	assert.ErrorIs(t, err, common.ErrNotFound)

	expires := time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Second)
	require.NoError(t, store.SaveTokens(ctx, models.SystemLazada, "access-1", "refresh-1", expires))

	token, err := store.GetTokens(ctx, models.SystemLazada)
	require.NoError(t, err)
	assert.Equal(t, models.SystemLazada, token.System)
	assert.Equal(t, "access-1", token.AccessToken)
	assert.Equal(t, "refresh-1", token.RefreshToken)
	assert.True(t, token.ExpiresOn.Equal(expires))

	// Second save hits the update path.
	require.NoError(t, store.SaveTokens(ctx, models.SystemLazada, "access-2", "refresh-2", expires))
	token, err = store.GetTokens(ctx, models.SystemLazada)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token.AccessToken)
	assert.Equal(t, "refresh-2", token.RefreshToken)
}

func TestOpenFailureIsCorrupt(t *testing.T) {
	// A path inside a missing directory cannot be created; the failure must
	// surface as StoreCorruptError, never as a lookup miss.
	_, err := Open(common.NewSilentLogger(), filepath.Join(t.TempDir(), "missing", "test.db"))
	var corrupt *common.StoreCorruptError
	assert.True(t, errors.As(err, &corrupt))
}
