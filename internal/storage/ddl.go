package storage

// Table definitions. The schema is frozen: existing databases created by
// earlier versions of the syncer must keep working, so columns are only ever
// appended with defaults.
const (
	createTableInventory = `
CREATE TABLE IF NOT EXISTS inventory (
  model TEXT PRIMARY KEY,
  stocks INTEGER,
  last_sync_batch_id INTEGER
)`

	createTableInventorySystemCache = `
CREATE TABLE IF NOT EXISTS inventory_system_cache (
  model TEXT,
  system TEXT,
  stocks INTEGER,
  last_sync_batch_id INTEGER,
  not_behaving INTEGER DEFAULT 0
)`

	createTableInventorySystemCacheDelta = `
CREATE TABLE IF NOT EXISTS inventory_system_cache_delta (
  model TEXT,
  system TEXT,
  cached_stocks INTEGER,
  current_stocks INTEGER,
  stocks_delta INTEGER,
  last_sync_batch_id INTEGER
)`

	createTableSyncBatch = `
CREATE TABLE IF NOT EXISTS sync_batch (
  sync_batch_id INTEGER PRIMARY KEY,
  timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
  script_version TEXT
)`

	createTableSyncLogs = `
CREATE TABLE IF NOT EXISTS sync_logs (
  sync_batch_id INTEGER,
  timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
  model TEXT,
  system TEXT,
  previous_stocks INTEGER,
  computed_stocks INTEGER,
  upload_error_code TEXT,
  upload_error_description TEXT
)`

	createTableOAuth2 = `
CREATE TABLE IF NOT EXISTS oauth2 (
  system TEXT,
  access_token TEXT,
  refresh_token TEXT,
  created_on DATETIME DEFAULT CURRENT_TIMESTAMP,
  expires_on DATETIME
)`
)

var createTables = []string{
	createTableSyncBatch,
	createTableSyncLogs,
	createTableInventorySystemCache,
	createTableInventorySystemCacheDelta,
	createTableInventory,
	createTableOAuth2,
}
