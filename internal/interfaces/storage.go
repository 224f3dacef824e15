package interfaces

import (
	"context"
	"time"

	"github.com/skeolabs/stocksync/internal/models"
)

// Store is the single-writer durable persistence layer. Every operation
// commits individually; partial progress across a batch is expected because
// later batches re-converge. Row absence surfaces as common.ErrNotFound;
// database-level failures surface as common.StoreCorruptError.
type Store interface {
	// Inventory (authoritative per-SKU stock).
	GetInventoryItem(ctx context.Context, model string) (*models.InventoryItem, error)
	UpsertInventoryItem(ctx context.Context, item *models.InventoryItem) error
	DeleteInventoryItems(ctx context.Context, models []string) error
	ListInventoryItems(ctx context.Context) ([]models.InventoryItem, error)

	// Per-marketplace cache.
	GetCacheItem(ctx context.Context, system models.System, model string) (*models.SystemCacheItem, error)
	UpsertCacheItem(ctx context.Context, item *models.SystemCacheItem) error
	MarkNotBehaving(ctx context.Context, system models.System, model string, flag bool) error

	// Append-only audit.
	AppendCacheDelta(ctx context.Context, delta *models.CacheDelta) error
	AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error

	// Batch lifecycle.
	StartBatch(ctx context.Context, engineVersion string) (int64, error)

	Close() error
}

// OAuth2Store persists marketplace token pairs, keyed by system.
type OAuth2Store interface {
	SaveTokens(ctx context.Context, system models.System, access, refresh string, expiresOn time.Time) error
	GetTokens(ctx context.Context, system models.System) (*models.OAuth2Token, error)
}
