package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/interfaces"
	"github.com/skeolabs/stocksync/internal/models"
	"github.com/skeolabs/stocksync/internal/storage"
)

type stockWrite struct {
	model  string
	stocks int
}

// fakeAdapter is an in-memory marketplace. Successful writes are applied to
// its own product list, like a real marketplace would.
type fakeAdapter struct {
	system   models.System
	products []models.Product
	writeErr error
	writes   []stockWrite
}

func (f *fakeAdapter) System() models.System           { return f.system }
func (f *fakeAdapter) Refresh(_ context.Context) error { return nil }

func (f *fakeAdapter) ListProducts() []models.Product {
	return append([]models.Product(nil), f.products...)
}

func (f *fakeAdapter) GetProduct(model string) (*models.Product, error) {
	var matches []models.Product
	for _, p := range f.products {
		if p.Model == model {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("not found in %s: %s: %w", f.system, model, common.ErrNotFound)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("multiple results in %s: %s: %w", f.system, model, common.ErrMultipleResults)
	}
	product := matches[0]
	return &product, nil
}

func (f *fakeAdapter) GetProductDirect(_ context.Context, model string) (*models.Product, error) {
	return f.GetProduct(model)
}

func (f *fakeAdapter) UpdateProductStocks(_ context.Context, model string, stocks int) (*models.WriteResult, error) {
	f.writes = append(f.writes, stockWrite{model: model, stocks: stocks})
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	for i := range f.products {
		if f.products[i].Model == model {
			f.products[i].Stocks = stocks
		}
	}
	return &models.WriteResult{ErrorCode: "0"}, nil
}

func (f *fakeAdapter) setStocks(model string, stocks int) {
	for i := range f.products {
		if f.products[i].Model == model {
			f.products[i].Stocks = stocks
		}
	}
}

var _ interfaces.MarketplaceAdapter = (*fakeAdapter)(nil)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(common.NewSilentLogger(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(store *storage.Store, adapters ...*fakeAdapter) *Engine {
	all := make([]interfaces.MarketplaceAdapter, len(adapters))
	for i, a := range adapters {
		all[i] = a
	}
	return NewEngine(store, all, all[0], common.NewSilentLogger())
}

func requireInventory(t *testing.T, store *storage.Store, model string, stocks int) {
	t.Helper()
	item, err := store.GetInventoryItem(context.Background(), model)
	require.NoError(t, err)
	assert.Equal(t, stocks, item.Stocks, "inventory stocks for %s", model)
}

func requireCache(t *testing.T, store *storage.Store, system models.System, model string, stocks int) {
	t.Helper()
	item, err := store.GetCacheItem(context.Background(), system, model)
	require.NoError(t, err)
	assert.Equal(t, stocks, item.Stocks, "cache stocks for %s in %s", model, system)
}

func TestSyncColdStart(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{{Model: "X", Stocks: 10}}}
	b := &fakeAdapter{system: "B", products: []models.Product{{Model: "X", Stocks: 10}}}
	engine := newTestEngine(store, a, b)

	require.NoError(t, engine.Sync(context.Background(), false))

	requireInventory(t, store, "X", 10)
	requireCache(t, store, "A", "X", 10)
	requireCache(t, store, "B", "X", 10)

	// Remote already agrees everywhere, so no write was attempted.
	assert.Empty(t, a.writes)
	assert.Empty(t, b.writes)
}

func TestSyncSingleSaleAttribution(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{{Model: "X", Stocks: 10}}}
	b := &fakeAdapter{system: "B", products: []models.Product{{Model: "X", Stocks: 10}}}
	engine := newTestEngine(store, a, b)
	ctx := context.Background()

	require.NoError(t, engine.Sync(ctx, false))

	// Three units sold on A between batches.
	a.setStocks("X", 7)
	require.NoError(t, engine.Sync(ctx, false))

	requireInventory(t, store, "X", 7)
	requireCache(t, store, "A", "X", 7)
	requireCache(t, store, "B", "X", 7)

	// Only B needed a write; A already held the new value.
	assert.Empty(t, a.writes)
	assert.Equal(t, []stockWrite{{model: "X", stocks: 7}}, b.writes)
	assert.Equal(t, 7, b.products[0].Stocks)
}

func TestSyncClampsAtZero(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{{Model: "X", Stocks: 7}}}
	b := &fakeAdapter{system: "B", products: []models.Product{{Model: "X", Stocks: 7}}}
	engine := newTestEngine(store, a, b)
	ctx := context.Background()

	require.NoError(t, engine.Sync(ctx, false))

	// Oversold: both marketplaces sold from the same 7 units.
	a.setStocks("X", 2)
	b.setStocks("X", 3)
	require.NoError(t, engine.Sync(ctx, false))

	requireInventory(t, store, "X", 0)
	requireCache(t, store, "A", "X", 0)
	requireCache(t, store, "B", "X", 0)
	assert.Equal(t, []stockWrite{{model: "X", stocks: 0}}, a.writes)
	assert.Equal(t, []stockWrite{{model: "X", stocks: 0}}, b.writes)
}

func TestSyncPositiveDeltaApplied(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{{Model: "X", Stocks: 5}}}
	engine := newTestEngine(store, a)
	ctx := context.Background()

	require.NoError(t, engine.Sync(ctx, false))

	// Manual top-up directly on the marketplace.
	a.setStocks("X", 12)
	require.NoError(t, engine.Sync(ctx, false))

	requireInventory(t, store, "X", 12)
	requireCache(t, store, "A", "X", 12)
}

func TestSyncRecordsDeltaAuditRows(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{{Model: "X", Stocks: 10}}}
	b := &fakeAdapter{system: "B", products: []models.Product{{Model: "X", Stocks: 10}}}
	engine := newTestEngine(store, a, b)
	ctx := context.Background()

	require.NoError(t, engine.Sync(ctx, false))

	// Cold start: absent cache rows mean zero observed delta, so no audit rows.
	deltas, err := store.ListCacheDeltas(ctx)
	require.NoError(t, err)
	assert.Empty(t, deltas)

	// Three units sold on A between batches.
	a.setStocks("X", 7)
	require.NoError(t, engine.Sync(ctx, false))

	deltas, err = store.ListCacheDeltas(ctx)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, models.CacheDelta{
		Model: "X", System: "A",
		CachedStocks: 10, CurrentStocks: 7, StocksDelta: -3,
		LastSyncBatchID: 2,
	}, deltas[0])

	// A batch with nothing to reconcile appends nothing.
	require.NoError(t, engine.Sync(ctx, false))
	deltas, err = store.ListCacheDeltas(ctx)
	require.NoError(t, err)
	assert.Len(t, deltas, 1)
}

func TestSyncReadOnlyRecordsDeltaAuditRows(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{{Model: "X", Stocks: 10}}}
	b := &fakeAdapter{system: "B", products: []models.Product{{Model: "X", Stocks: 10}}}
	engine := newTestEngine(store, a, b)
	ctx := context.Background()

	require.NoError(t, engine.Sync(ctx, false))

	a.setStocks("X", 7)
	require.NoError(t, engine.Sync(ctx, true))

	// Observation is still audited even though nothing was written.
	deltas, err := store.ListCacheDeltas(ctx)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, models.CacheDelta{
		Model: "X", System: "A",
		CachedStocks: 10, CurrentStocks: 7, StocksDelta: -3,
		LastSyncBatchID: 2,
	}, deltas[0])

	requireInventory(t, store, "X", 10)
	requireCache(t, store, "A", "X", 10)
	assert.Empty(t, a.writes)
	assert.Empty(t, b.writes)
}

func TestSyncNotBehavingPlatform(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{{Model: "X", Stocks: 10}}}
	b := &fakeAdapter{system: "B", products: []models.Product{{Model: "X", Stocks: 10}}}
	engine := newTestEngine(store, a, b)
	ctx := context.Background()

	require.NoError(t, engine.Sync(ctx, false))

	// Sale on B; A refuses to take the correcting write.
	b.setStocks("X", 7)
	a.writeErr = &common.PlatformNotBehavingError{System: "A", Model: "X"}
	require.NoError(t, engine.Sync(ctx, false))

	requireInventory(t, store, "X", 7)
	cached, err := store.GetCacheItem(ctx, "A", "X")
	require.NoError(t, err)
	assert.True(t, cached.NotBehaving)
	// The freshening recorded A's pre-write view.
	assert.Equal(t, 10, cached.Stocks)

	// Next batch: A still reports the stale 10 (and would show a spurious
	// delta of +3 if the latch did not force cached = current).
	a.writeErr = nil
	require.NoError(t, engine.Sync(ctx, false))

	requireInventory(t, store, "X", 7)
	// The write finally landed and cleared the latch.
	cached, err = store.GetCacheItem(ctx, "A", "X")
	require.NoError(t, err)
	assert.False(t, cached.NotBehaving)
	assert.Equal(t, 7, cached.Stocks)
	assert.Equal(t, 7, a.products[0].Stocks)
}

func TestSyncAmbiguousModelSkipped(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{{Model: "Y", Stocks: 5}}}
	b := &fakeAdapter{system: "B", products: []models.Product{
		{Model: "Y", Stocks: 3},
		{Model: "Y", Stocks: 8},
	}}
	engine := newTestEngine(store, a, b)
	ctx := context.Background()

	require.NoError(t, engine.Sync(ctx, false))

	// Seeded from the default (A); B contributed nothing and was not written.
	requireInventory(t, store, "Y", 5)
	assert.Empty(t, b.writes)
	_, err := store.GetCacheItem(ctx, "B", "Y")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSyncReadOnlyObservesWithoutWriting(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{{Model: "X", Stocks: 10}}}
	b := &fakeAdapter{system: "B", products: []models.Product{{Model: "X", Stocks: 10}}}
	engine := newTestEngine(store, a, b)
	ctx := context.Background()

	require.NoError(t, engine.Sync(ctx, false))

	a.setStocks("X", 7)
	require.NoError(t, engine.Sync(ctx, true))

	// Nothing moved: inventory, caches, and marketplaces are untouched.
	requireInventory(t, store, "X", 10)
	requireCache(t, store, "A", "X", 10)
	requireCache(t, store, "B", "X", 10)
	assert.Empty(t, a.writes)
	assert.Empty(t, b.writes)

	// The next live batch re-observes the same drift and applies it.
	require.NoError(t, engine.Sync(ctx, false))
	requireInventory(t, store, "X", 7)
	requireCache(t, store, "B", "X", 7)
}

func TestSyncUnknownModelSeededFromDefault(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{{Model: "X", Stocks: 4}}}
	b := &fakeAdapter{system: "B", products: []models.Product{{Model: "Z", Stocks: 9}}}
	engine := newTestEngine(store, a, b)

	require.NoError(t, engine.Sync(context.Background(), false))

	// X came from the default adapter; Z exists only on B, which is not the
	// default, so it is logged and skipped.
	requireInventory(t, store, "X", 4)
	_, err := store.GetInventoryItem(context.Background(), "Z")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSyncIgnoresEmptyModels(t *testing.T) {
	store := newTestStore(t)
	a := &fakeAdapter{system: "A", products: []models.Product{
		{Model: "", Stocks: 3},
		{Model: "X", Stocks: 5},
	}}
	engine := newTestEngine(store, a)

	require.NoError(t, engine.Sync(context.Background(), false))

	items, err := store.ListInventoryItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "X", items[0].Model)
}

func TestCleanupPrunesDelistedModels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, model := range []string{"A1", "B2", "C3"} {
		require.NoError(t, store.UpsertInventoryItem(ctx, &models.InventoryItem{Model: model, Stocks: 1}))
	}

	adapter := &fakeAdapter{system: "A", products: []models.Product{{Model: "B2", Stocks: 1}}}
	engine := newTestEngine(store, adapter)

	deleted, err := engine.ListDeletedModels(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "C3"}, deleted)

	require.NoError(t, engine.Cleanup(ctx, "A"))

	items, err := store.ListInventoryItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "B2", items[0].Model)
}

func TestCleanupRefusesEmptyRemoteListing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertInventoryItem(ctx, &models.InventoryItem{Model: "A1", Stocks: 1}))

	adapter := &fakeAdapter{system: "A"}
	engine := newTestEngine(store, adapter)

	err := engine.Cleanup(ctx, "A")
	assert.True(t, common.IsCommunicationError(err))

	// Inventory untouched.
	items, err := store.ListInventoryItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

type fakeCreator struct {
	created []models.ProductListing
}

func (f *fakeCreator) CreateProduct(_ context.Context, listing *models.ProductListing) (string, error) {
	f.created = append(f.created, *listing)
	return fmt.Sprintf("item-%d", len(f.created)), nil
}

func TestUploadMissingListings(t *testing.T) {
	store := newTestStore(t)
	source := &fakeAdapter{system: "A", products: []models.Product{
		{Model: "X", Stocks: 5},
		{Model: "W", Stocks: 2},
	}}
	target := &fakeAdapter{system: "B", products: []models.Product{{Model: "X", Stocks: 5}}}
	engine := newTestEngine(store, source, target)
	creator := &fakeCreator{}

	require.NoError(t, engine.UploadMissingListings(context.Background(), source, creator, "B", false))

	require.Len(t, creator.created, 1)
	assert.Equal(t, "W", creator.created[0].Model)
	assert.Equal(t, 2, creator.created[0].Stocks)
}

func TestUploadMissingListingsReadOnly(t *testing.T) {
	store := newTestStore(t)
	source := &fakeAdapter{system: "A", products: []models.Product{{Model: "W", Stocks: 2}}}
	target := &fakeAdapter{system: "B"}
	engine := newTestEngine(store, source, target)
	creator := &fakeCreator{}

	require.NoError(t, engine.UploadMissingListings(context.Background(), source, creator, "B", true))
	assert.Empty(t, creator.created)
}
