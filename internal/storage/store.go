// Package storage provides the SQLite-backed store for inventory, the
// per-marketplace cache, the append-only audit tables, and OAuth2 tokens.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/interfaces"
	"github.com/skeolabs/stocksync/internal/models"
)

// Store implements interfaces.Store and interfaces.OAuth2Store over a single
// embedded SQLite database file. A batch owns the store exclusively; the
// connection pool is pinned to one connection to keep the single-writer
// contract honest.
type Store struct {
	db     *sql.DB
	logger *common.Logger
}

// Open opens (and if needed creates) the database at path and ensures the
// schema exists.
func Open(logger *common.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &common.StoreCorruptError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)

	for _, ddl := range createTables {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, &common.StoreCorruptError{Op: "setup", Err: err}
		}
	}

	logger.Debug().Str("path", path).Msg("Store opened")

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// StartBatch inserts a sync_batch row and returns its autoincremented id.
func (s *Store) StartBatch(ctx context.Context, engineVersion string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_batch (script_version) VALUES (?)`, engineVersion)
	if err != nil {
		return 0, &common.StoreCorruptError{Op: "start batch", Err: err}
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, &common.StoreCorruptError{Op: "start batch", Err: err}
	}
	return id, nil
}

// GetInventoryItem retrieves the authoritative stock record for a model.
func (s *Store) GetInventoryItem(ctx context.Context, model string) (*models.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT model, stocks, last_sync_batch_id FROM inventory WHERE model=?`, model)

	var item models.InventoryItem
	if err := row.Scan(&item.Model, &item.Stocks, &item.LastSyncBatchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("inventory item %s: %w", model, common.ErrNotFound)
		}
		return nil, &common.StoreCorruptError{Op: "get inventory item", Err: err}
	}
	return &item, nil
}

// UpsertInventoryItem updates an inventory row, inserting it when absent.
func (s *Store) UpsertInventoryItem(ctx context.Context, item *models.InventoryItem) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE inventory SET stocks=?, last_sync_batch_id=? WHERE model=?`,
		item.Stocks, item.LastSyncBatchID, item.Model)
	if err != nil {
		return &common.StoreCorruptError{Op: "upsert inventory item", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &common.StoreCorruptError{Op: "upsert inventory item", Err: err}
	}
	if affected == 0 {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO inventory (model, stocks, last_sync_batch_id) VALUES (?, ?, ?)`,
			item.Model, item.Stocks, item.LastSyncBatchID)
		if err != nil {
			return &common.StoreCorruptError{Op: "upsert inventory item", Err: err}
		}
	}
	return nil
}

// DeleteInventoryItems removes the given models from the inventory table.
func (s *Store) DeleteInventoryItems(ctx context.Context, modelNames []string) error {
	for _, model := range modelNames {
		s.logger.Info().Str("model", model).Msg("Deleting item from inventory")
		if _, err := s.db.ExecContext(ctx, `DELETE FROM inventory WHERE model=?`, model); err != nil {
			return &common.StoreCorruptError{Op: "delete inventory items", Err: err}
		}
	}
	return nil
}

// ListInventoryItems returns every authoritative stock record.
func (s *Store) ListInventoryItems(ctx context.Context) ([]models.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, stocks, last_sync_batch_id FROM inventory`)
	if err != nil {
		return nil, &common.StoreCorruptError{Op: "list inventory items", Err: err}
	}
	defer rows.Close()

	var items []models.InventoryItem
	for rows.Next() {
		var item models.InventoryItem
		if err := rows.Scan(&item.Model, &item.Stocks, &item.LastSyncBatchID); err != nil {
			return nil, &common.StoreCorruptError{Op: "list inventory items", Err: err}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &common.StoreCorruptError{Op: "list inventory items", Err: err}
	}
	return items, nil
}

// GetCacheItem retrieves the last-known stocks for a (system, model) pair.
func (s *Store) GetCacheItem(ctx context.Context, system models.System, model string) (*models.SystemCacheItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT model, system, stocks, last_sync_batch_id, not_behaving
		FROM inventory_system_cache
		WHERE model=? AND system=?`, model, system)

	var item models.SystemCacheItem
	if err := row.Scan(&item.Model, &item.System, &item.Stocks, &item.LastSyncBatchID, &item.NotBehaving); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("cache item %s in %s: %w", model, system, common.ErrNotFound)
		}
		return nil, &common.StoreCorruptError{Op: "get cache item", Err: err}
	}
	return &item, nil
}

// UpsertCacheItem updates a cache row, inserting it when absent. The
// not_behaving flag is preserved on update; a fresh insert starts clear.
func (s *Store) UpsertCacheItem(ctx context.Context, item *models.SystemCacheItem) error {
	s.logger.Debug().
		Str("model", item.Model).
		Str("system", string(item.System)).
		Int("stocks", item.Stocks).
		Int64("batch", item.LastSyncBatchID).
		Msg("Upserting cache item")

	result, err := s.db.ExecContext(ctx, `
		UPDATE inventory_system_cache
		SET stocks=?, last_sync_batch_id=?
		WHERE model=? AND system=?`,
		item.Stocks, item.LastSyncBatchID, item.Model, item.System)
	if err != nil {
		return &common.StoreCorruptError{Op: "upsert cache item", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &common.StoreCorruptError{Op: "upsert cache item", Err: err}
	}
	if affected == 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO inventory_system_cache (model, system, stocks, last_sync_batch_id)
			VALUES (?, ?, ?, ?)`,
			item.Model, item.System, item.Stocks, item.LastSyncBatchID)
		if err != nil {
			return &common.StoreCorruptError{Op: "upsert cache item", Err: err}
		}
	}
	return nil
}

// MarkNotBehaving latches or clears the not_behaving flag on a cache row.
func (s *Store) MarkNotBehaving(ctx context.Context, system models.System, model string, flag bool) error {
	s.logger.Debug().
		Str("model", model).
		Str("system", string(system)).
		Bool("not_behaving", flag).
		Msg("Marking cache item behaviour")

	_, err := s.db.ExecContext(ctx, `
		UPDATE inventory_system_cache
		SET not_behaving=?
		WHERE model=? AND system=?`, flag, model, system)
	if err != nil {
		return &common.StoreCorruptError{Op: "mark not behaving", Err: err}
	}
	return nil
}

// AppendCacheDelta appends one audit row for a non-zero observed delta.
func (s *Store) AppendCacheDelta(ctx context.Context, delta *models.CacheDelta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_system_cache_delta
			(model, system, cached_stocks, current_stocks, stocks_delta, last_sync_batch_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		delta.Model, delta.System, delta.CachedStocks, delta.CurrentStocks,
		delta.StocksDelta, delta.LastSyncBatchID)
	if err != nil {
		return &common.StoreCorruptError{Op: "append cache delta", Err: err}
	}
	return nil
}

// ListCacheDeltas returns every delta audit row in insertion order.
func (s *Store) ListCacheDeltas(ctx context.Context) ([]models.CacheDelta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, system, cached_stocks, current_stocks, stocks_delta, last_sync_batch_id
		FROM inventory_system_cache_delta
		ORDER BY rowid`)
	if err != nil {
		return nil, &common.StoreCorruptError{Op: "list cache deltas", Err: err}
	}
	defer rows.Close()

	var deltas []models.CacheDelta
	for rows.Next() {
		var delta models.CacheDelta
		if err := rows.Scan(&delta.Model, &delta.System, &delta.CachedStocks,
			&delta.CurrentStocks, &delta.StocksDelta, &delta.LastSyncBatchID); err != nil {
			return nil, &common.StoreCorruptError{Op: "list cache deltas", Err: err}
		}
		deltas = append(deltas, delta)
	}
	if err := rows.Err(); err != nil {
		return nil, &common.StoreCorruptError{Op: "list cache deltas", Err: err}
	}
	return deltas, nil
}

// AppendSyncLog records one attempted write to a marketplace.
func (s *Store) AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs
			(sync_batch_id, system, model, previous_stocks, computed_stocks,
			 upload_error_code, upload_error_description)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.SyncBatchID, entry.System, entry.Model, entry.PreviousStocks,
		entry.ComputedStocks, entry.ErrorCode, entry.ErrorDescription)
	if err != nil {
		return &common.StoreCorruptError{Op: "append sync log", Err: err}
	}
	return nil
}

// timeLayout matches SQLite's CURRENT_TIMESTAMP text format. DATETIME columns
// are stored and read back as text in this layout.
const timeLayout = "2006-01-02 15:04:05"

// SaveTokens upserts the OAuth2 token pair for a system.
func (s *Store) SaveTokens(ctx context.Context, system models.System, access, refresh string, expiresOn time.Time) error {
	expires := expiresOn.UTC().Format(timeLayout)
	result, err := s.db.ExecContext(ctx, `
		UPDATE oauth2
		SET access_token=?, refresh_token=?, expires_on=?, created_on=CURRENT_TIMESTAMP
		WHERE system=?`, access, refresh, expires, system)
	if err != nil {
		return &common.StoreCorruptError{Op: "save oauth2 tokens", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &common.StoreCorruptError{Op: "save oauth2 tokens", Err: err}
	}
	if affected == 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO oauth2 (system, access_token, refresh_token, expires_on)
			VALUES (?, ?, ?, ?)`, system, access, refresh, expires)
		if err != nil {
			return &common.StoreCorruptError{Op: "save oauth2 tokens", Err: err}
		}
	}
	return nil
}

// GetTokens retrieves the latest token pair for a system.
func (s *Store) GetTokens(ctx context.Context, system models.System) (*models.OAuth2Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT system, access_token, refresh_token, created_on, expires_on
		FROM oauth2
		WHERE system=?`, system)

	var token models.OAuth2Token
	var createdOn, expiresOn sql.NullString
	if err := row.Scan(&token.System, &token.AccessToken, &token.RefreshToken, &createdOn, &expiresOn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("oauth2 tokens for %s: %w", system, common.ErrNotFound)
		}
		return nil, &common.StoreCorruptError{Op: "get oauth2 tokens", Err: err}
	}
	if createdOn.Valid {
		if t, err := time.Parse(timeLayout, createdOn.String); err == nil {
			token.CreatedOn = t
		}
	}
	if expiresOn.Valid {
		if t, err := time.Parse(timeLayout, expiresOn.String); err == nil {
			token.ExpiresOn = t
		}
	}
	return &token, nil
}

// Compile-time checks
var (
	_ interfaces.Store       = (*Store)(nil)
	_ interfaces.OAuth2Store = (*Store)(nil)
)
