// Package sync implements the delta-aggregation reconciliation engine.
//
// Each batch snapshots every marketplace, measures per-marketplace stock
// deltas against the cache, folds the deltas into the authoritative
// inventory, pushes the result back out, and forwards the cache. Batches are
// strictly serial: one SKU at a time, one marketplace at a time.
package sync

import (
	"context"
	"errors"
	"sort"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/interfaces"
	"github.com/skeolabs/stocksync/internal/models"
)

// Engine reconciles stock counts across marketplaces. It exclusively owns
// its Store for the duration of a batch.
type Engine struct {
	store          interfaces.Store
	adapters       []interfaces.MarketplaceAdapter
	defaultAdapter interfaces.MarketplaceAdapter
	logger         *common.Logger
	version        string

	batchID int64
}

// NewEngine creates a reconciliation engine. The default adapter is the
// fallback origin for SKUs the local inventory has never seen; it must be
// one of the given adapters.
func NewEngine(store interfaces.Store, adapters []interfaces.MarketplaceAdapter, defaultAdapter interfaces.MarketplaceAdapter, logger *common.Logger) *Engine {
	return &Engine{
		store:          store,
		adapters:       adapters,
		defaultAdapter: defaultAdapter,
		logger:         logger,
		version:        common.GetVersion(),
	}
}

// adapter returns the adapter serving a system, or nil.
func (e *Engine) adapter(system models.System) interfaces.MarketplaceAdapter {
	for _, a := range e.adapters {
		if a.System() == system {
			return a
		}
	}
	return nil
}

// collectModels returns the union of non-empty models across the given
// adapters (all adapters when none given), sorted for deterministic
// traversal within a batch.
func (e *Engine) collectModels(adapters ...interfaces.MarketplaceAdapter) []string {
	if len(adapters) == 0 {
		adapters = e.adapters
	}

	seen := make(map[string]bool)
	for _, a := range adapters {
		for _, product := range a.ListProducts() {
			if product.Model == "" {
				continue
			}
			seen[product.Model] = true
		}
	}

	ms := make([]string, 0, len(seen))
	for model := range seen {
		ms = append(ms, model)
	}
	sort.Strings(ms)
	return ms
}

// ProductAvailability returns the set of models each marketplace currently
// lists.
func (e *Engine) ProductAvailability() map[models.System]map[string]bool {
	lookup := make(map[models.System]map[string]bool, len(e.adapters))
	for _, a := range e.adapters {
		set := make(map[string]bool)
		for _, model := range e.collectModels(a) {
			set[model] = true
		}
		lookup[a.System()] = set
	}
	return lookup
}

// stocksDelta measures one marketplace's stock movement for a model since
// the last batch. Lookup failures contribute nothing: a flaky marketplace
// must not poison aggregation. A not_behaving cache row or a first sighting
// forces cached to current, so the delta is zero.
func (e *Engine) stocksDelta(ctx context.Context, a interfaces.MarketplaceAdapter, model string) (delta, current int) {
	product, err := a.GetProduct(model)
	if err != nil {
		e.logger.Warn().Str("model", model).Str("system", string(a.System())).Err(err).
			Msg("Skipping delta: product lookup failed")
		return 0, 0
	}
	current = product.Stocks

	cached := current
	item, err := e.store.GetCacheItem(ctx, a.System(), model)
	if err == nil && !item.NotBehaving {
		cached = item.Stocks
	} else if err != nil && !errors.Is(err, common.ErrNotFound) {
		e.logger.Warn().Str("model", model).Str("system", string(a.System())).Err(err).
			Msg("Skipping delta: cache lookup failed")
		return 0, 0
	}

	return current - cached, current
}

// updateExternal pushes the authoritative stocks of one item to one
// marketplace. The cache is freshened with the remote's pre-write view, the
// write is skipped when the remote already agrees, and the cache is
// forwarded to the written value only after a confirmed-success write.
func (e *Engine) updateExternal(ctx context.Context, a interfaces.MarketplaceAdapter, item *models.InventoryItem) error {
	system := a.System()

	systemItem, err := a.GetProduct(item.Model)
	if err != nil {
		return err
	}

	e.logger.Info().Str("model", item.Model).Str("system", string(system)).
		Msg("Updating inventory system cache")
	fresh := &models.SystemCacheItem{
		Model:           systemItem.Model,
		System:          system,
		Stocks:          systemItem.Stocks,
		LastSyncBatchID: e.batchID,
	}
	if err := e.store.UpsertCacheItem(ctx, fresh); err != nil {
		return err
	}

	if systemItem.Stocks == item.Stocks {
		e.logger.Info().Str("model", item.Model).Str("system", string(system)).
			Msg("No update needed: stocks already match")
		return nil
	}

	e.logger.Info().Str("model", item.Model).Str("system", string(system)).
		Int("from", systemItem.Stocks).Int("to", item.Stocks).
		Msg("Updating stocks")

	result, err := a.UpdateProductStocks(ctx, item.Model, item.Stocks)
	if err != nil {
		if common.IsPlatformNotBehaving(err) {
			if markErr := e.store.MarkNotBehaving(ctx, system, item.Model, true); markErr != nil {
				return markErr
			}
		}
		return err
	}
	if err := e.store.MarkNotBehaving(ctx, system, item.Model, false); err != nil {
		return err
	}

	entry := &models.SyncLogEntry{
		SyncBatchID:      e.batchID,
		System:           system,
		Model:            item.Model,
		PreviousStocks:   systemItem.Stocks,
		ComputedStocks:   item.Stocks,
		ErrorCode:        result.ErrorCode,
		ErrorDescription: result.ErrorDescription,
	}
	if err := e.store.AppendSyncLog(ctx, entry); err != nil {
		return err
	}

	if result.OK() {
		return e.store.UpsertCacheItem(ctx, &models.SystemCacheItem{
			Model:           item.Model,
			System:          system,
			Stocks:          item.Stocks,
			LastSyncBatchID: e.batchID,
		})
	}
	e.logger.Error().Str("model", item.Model).Str("system", string(system)).
		Str("error_code", result.ErrorCode).Str("error", result.ErrorDescription).
		Msg("Stock update rejected")
	return nil
}

// Sync executes one reconciliation batch. In read-only mode deltas are still
// observed and recorded, but the inventory and the marketplaces are left
// untouched, so the next live batch re-observes the same drift.
func (e *Engine) Sync(ctx context.Context, readOnly bool) error {
	batchID, err := e.store.StartBatch(ctx, e.version)
	if err != nil {
		return err
	}
	e.batchID = batchID
	e.logger.Info().Int64("batch", batchID).Bool("read_only", readOnly).Msg("Starting sync batch")

	for _, model := range e.collectModels() {
		totalDelta := 0
		for _, a := range e.adapters {
			delta, current := e.stocksDelta(ctx, a, model)
			if delta != 0 {
				e.logger.Info().Str("model", model).Str("system", string(a.System())).
					Int("delta", delta).Msg("Change in stocks")
				record := &models.CacheDelta{
					Model:           model,
					System:          a.System(),
					CachedStocks:    current - delta,
					CurrentStocks:   current,
					StocksDelta:     delta,
					LastSyncBatchID: batchID,
				}
				if err := e.store.AppendCacheDelta(ctx, record); err != nil {
					return err
				}
			}
			totalDelta += delta
		}

		item, err := e.store.GetInventoryItem(ctx, model)
		if err != nil {
			if !errors.Is(err, common.ErrNotFound) {
				return err
			}
			// Never-seen SKU: seed from the default marketplace.
			product, err := e.defaultAdapter.GetProduct(model)
			if err != nil {
				e.logger.Error().Str("model", model).
					Msg("Item is missing from the default marketplace, skipping")
				continue
			}
			item = &models.InventoryItem{Model: product.Model, Stocks: product.Stocks}
		}

		item.Stocks += totalDelta
		if item.Stocks < 0 {
			item.Stocks = 0
		}
		item.LastSyncBatchID = batchID

		if readOnly {
			e.logger.Info().Str("model", item.Model).Int("stocks", item.Stocks).
				Msg("Skipping item update: read-only mode")
			continue
		}

		if err := e.store.UpsertInventoryItem(ctx, item); err != nil {
			return err
		}

		for _, a := range e.adapters {
			if err := e.updateExternal(ctx, a, item); err != nil {
				switch {
				case common.IsStoreCorrupt(err):
					return err
				case errors.Is(err, common.ErrNotFound):
					e.logger.Warn().Str("model", item.Model).Str("system", string(a.System())).
						Err(err).Msg("Skipping external update")
				case errors.Is(err, common.ErrMultipleResults):
					e.logger.Warn().Str("model", item.Model).Str("system", string(a.System())).
						Err(err).Msg("Skipping external update: ambiguous model")
				default:
					e.logger.Error().Str("model", item.Model).Str("system", string(a.System())).
						Err(err).Msg("Skipping external update")
				}
			}
		}
	}

	e.logger.Info().Int64("batch", batchID).Msg("Sync batch finished")
	return nil
}

// ListDeletedModels returns models that still exist in the local inventory
// but are no longer listed by the given marketplace. An empty remote listing
// is treated as a communication failure: pruning the whole inventory off the
// back of a broken fetch would be destructive.
func (e *Engine) ListDeletedModels(ctx context.Context, system models.System) ([]string, error) {
	a := e.adapter(system)
	if a == nil {
		return nil, &common.UnhandledSystemError{System: string(system)}
	}

	online := make(map[string]bool)
	for _, model := range e.collectModels(a) {
		online[model] = true
	}
	if len(online) == 0 {
		return nil, common.NewCommunicationError(string(system), "unexpected zero product models", nil)
	}

	cached, err := e.store.ListInventoryItems(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, item := range cached {
		if !online[item.Model] {
			deleted = append(deleted, item.Model)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// Cleanup prunes local inventory of models the given marketplace no longer
// lists.
func (e *Engine) Cleanup(ctx context.Context, system models.System) error {
	deleted, err := e.ListDeletedModels(ctx, system)
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		e.logger.Info().Msg("Nothing to clean up")
		return nil
	}
	e.logger.Info().Int("count", len(deleted)).Msg("Pruning deleted models")
	return e.store.DeleteInventoryItems(ctx, deleted)
}

// UploadMissingListings creates products on the target marketplace for every
// model the source lists but the target does not. Details are fetched
// directly from the source so listings carry fresh attributes.
func (e *Engine) UploadMissingListings(ctx context.Context, source interfaces.MarketplaceAdapter, target interfaces.ProductCreator, targetSystem models.System, readOnly bool) error {
	if readOnly {
		e.logger.Info().Msg("Skipping listing upload: read-only mode")
		return nil
	}

	lookup := e.ProductAvailability()
	sourceModels := lookup[source.System()]
	targetModels := lookup[targetSystem]

	var missing []string
	for model := range sourceModels {
		if !targetModels[model] {
			missing = append(missing, model)
		}
	}
	sort.Strings(missing)

	for _, model := range missing {
		product, err := source.GetProductDirect(ctx, model)
		if err != nil {
			e.logger.Error().Str("model", model).Err(err).Msg("Failed fetching listing source")
			continue
		}

		listing := &models.ProductListing{
			Model:  product.Model,
			Name:   product.Model,
			Stocks: product.Stocks,
		}
		itemID, err := target.CreateProduct(ctx, listing)
		if err != nil {
			e.logger.Error().Str("model", model).Err(err).Msg("Failed creating listing")
			continue
		}
		e.logger.Info().Str("model", model).Str("item_id", itemID).
			Str("system", string(targetSystem)).Msg("Created listing")
	}
	return nil
}
