package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// migration is one ordered schema step. Migrations are applied exactly
// once each, recorded in schema_version.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "base_schema",
		SQL: `
CREATE TABLE IF NOT EXISTS scans (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scan_ts TEXT NOT NULL,
    config_hash TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    tickers_scanned INTEGER NOT NULL DEFAULT 0,
    alerts_generated INTEGER NOT NULL DEFAULT 0,
    runtime_seconds REAL NOT NULL DEFAULT 0,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scan_id INTEGER NOT NULL REFERENCES scans(id),
    ticker TEXT NOT NULL,
    detector_name TEXT NOT NULL,
    score REAL NOT NULL,
    alert_data TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_scan ON alerts(scan_id);
CREATE INDEX IF NOT EXISTS idx_alerts_ticker ON alerts(ticker, created_at);

CREATE TABLE IF NOT EXISTS feature_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scan_id INTEGER NOT NULL REFERENCES scans(id),
    ticker TEXT NOT NULL,
    features TEXT NOT NULL,
    front_atm_iv REAL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_features_ticker ON feature_snapshots(ticker, created_at);

CREATE TABLE IF NOT EXISTS chain_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scan_id INTEGER NOT NULL REFERENCES scans(id),
    ticker TEXT NOT NULL,
    snapshot_date TEXT NOT NULL,
    expiration TEXT NOT NULL,
    dte INTEGER NOT NULL,
    underlying_price REAL NOT NULL,
    chain_json TEXT NOT NULL,
    num_calls INTEGER NOT NULL,
    num_puts INTEGER NOT NULL,
    atm_iv REAL,
    total_volume INTEGER NOT NULL DEFAULT 0,
    total_oi INTEGER NOT NULL DEFAULT 0,
    file_path TEXT,
    created_at TEXT NOT NULL,
    UNIQUE(ticker, snapshot_date, expiration)
);

CREATE TABLE IF NOT EXISTS cooldowns (
    ticker TEXT PRIMARY KEY,
    last_alert_ts TEXT NOT NULL,
    last_score REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_alert_counts (
    count_date TEXT PRIMARY KEY,
    alert_count INTEGER NOT NULL DEFAULT 0 CHECK (alert_count >= 0)
);

CREATE TABLE IF NOT EXISTS scheduler_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    current_state TEXT NOT NULL,
    api_calls_this_hour INTEGER NOT NULL DEFAULT 0,
    api_calls_today INTEGER NOT NULL DEFAULT 0,
    hour_window_start TEXT NOT NULL,
    day_window_start TEXT NOT NULL,
    buffer_depth INTEGER NOT NULL DEFAULT 0,
    backoff_until TEXT,
    backoff_epoch INTEGER NOT NULL DEFAULT 0,
    last_collection_at TEXT,
    state_epoch INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);
`,
	},
	{
		Version: 2,
		Name:    "account_transactions",
		SQL: `
CREATE TABLE IF NOT EXISTS account_transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    executed_at TEXT NOT NULL,
    ticker TEXT NOT NULL,
    side TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
    quantity REAL NOT NULL,
    price REAL NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_ticker ON account_transactions(ticker, executed_at);
`,
	},
}

// Migrate bootstraps the schema. It is idempotent: running on a fresh
// or existing store yields the same final schema, and "already exists"
// from an out-of-band table is tolerated.
func (db *DB) Migrate(log zerolog.Logger) error {
	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.conn.Query("SELECT version FROM schema_version")
	if err != nil {
		return fmt.Errorf("failed to read schema_version: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan schema_version row: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("failed to iterate schema_version: %w", err)
	}
	_ = rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		err := WithTransaction(db.conn, func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.SQL); err != nil {
				if strings.Contains(err.Error(), "already exists") {
					// Table created outside the migration path; the
					// version row is still recorded below.
					return nil
				}
				return err
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}

		if _, err := db.conn.Exec(
			"INSERT OR IGNORE INTO schema_version (version, name, applied_at) VALUES (?, ?, datetime('now'))",
			m.Version, m.Name,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}

	return nil
}
