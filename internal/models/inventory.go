package models

import "time"

// Product is a marketplace-facing view of a single sellable SKU. The model is
// the sole cross-marketplace correlation key; the remaining identifiers are
// opaque to the engine and must round-trip unchanged on updates.
type Product struct {
	Model  string `json:"model"`
	Stocks int    `json:"stocks"`

	// Opaque marketplace identifiers. Never used for correlation.
	ItemID      string `json:"item_id,omitempty"`
	SkuID       string `json:"sku_id,omitempty"`
	VariationID string `json:"variation_id,omitempty"`

	// Reserved units (Lazada). Available stocks = quantity - reserved; the
	// adapter folds this back into quantity on update.
	Reserved int `json:"reserved,omitempty"`
}

// InventoryItem is the authoritative per-SKU stock record.
type InventoryItem struct {
	Model           string `json:"model"`
	Stocks          int    `json:"stocks"`
	LastSyncBatchID int64  `json:"last_sync_batch_id"`
}

// SystemCacheItem is the last-known stock witnessed at one marketplace for
// one SKU. NotBehaving latches after a write the remote did not apply; while
// set, the system contributes no delta.
type SystemCacheItem struct {
	Model           string `json:"model"`
	System          System `json:"system"`
	Stocks          int    `json:"stocks"`
	LastSyncBatchID int64  `json:"last_sync_batch_id"`
	NotBehaving     bool   `json:"not_behaving"`
}

// CacheDelta is one append-only audit row for a non-zero observed delta.
type CacheDelta struct {
	Model           string `json:"model"`
	System          System `json:"system"`
	CachedStocks    int    `json:"cached_stocks"`
	CurrentStocks   int    `json:"current_stocks"`
	StocksDelta     int    `json:"stocks_delta"`
	LastSyncBatchID int64  `json:"last_sync_batch_id"`
}

// SyncBatch is one reconciliation run.
type SyncBatch struct {
	ID            int64     `json:"sync_batch_id"`
	Timestamp     time.Time `json:"timestamp"`
	ScriptVersion string    `json:"script_version"`
}

// SyncLogEntry records one attempted write to a marketplace.
type SyncLogEntry struct {
	SyncBatchID      int64     `json:"sync_batch_id"`
	Timestamp        time.Time `json:"timestamp"`
	Model            string    `json:"model"`
	System           System    `json:"system"`
	PreviousStocks   int       `json:"previous_stocks"`
	ComputedStocks   int       `json:"computed_stocks"`
	ErrorCode        string    `json:"upload_error_code"`
	ErrorDescription string    `json:"upload_error_description"`
}

// OAuth2Token holds the persisted token pair for one marketplace.
type OAuth2Token struct {
	System       System    `json:"system"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	CreatedOn    time.Time `json:"created_on"`
	ExpiresOn    time.Time `json:"expires_on"`
}

// WriteResult is the outcome of a marketplace stock write. Error codes are
// opaque strings; "0" and "" are the success sentinels.
type WriteResult struct {
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// OK reports whether the write was accepted by the marketplace.
func (r *WriteResult) OK() bool {
	return r.ErrorCode == "" || r.ErrorCode == "0"
}
