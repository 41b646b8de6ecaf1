package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ivscan/internal/domain"
)

// ChainRepo persists options chain snapshots, deduplicated by
// (ticker, snapshot_date, expiration).
type ChainRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewChainRepo creates a chain snapshot repository.
func NewChainRepo(db *sql.DB, log zerolog.Logger) *ChainRepo {
	return &ChainRepo{
		db:  db,
		log: log.With().Str("repository", "chains").Logger(),
	}
}

// Upsert inserts a chain snapshot, replacing any earlier snapshot of
// the same ticker/date/expiration. Returns the row id.
func (r *ChainRepo) Upsert(c *domain.ChainSnapshot) (int64, error) {
	var id int64
	err := r.db.QueryRow(`
		INSERT INTO chain_snapshots
		    (scan_id, ticker, snapshot_date, expiration, dte, underlying_price,
		     chain_json, num_calls, num_puts, atm_iv, total_volume, total_oi,
		     file_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, snapshot_date, expiration) DO UPDATE SET
		    scan_id = excluded.scan_id,
		    dte = excluded.dte,
		    underlying_price = excluded.underlying_price,
		    chain_json = excluded.chain_json,
		    num_calls = excluded.num_calls,
		    num_puts = excluded.num_puts,
		    atm_iv = excluded.atm_iv,
		    total_volume = excluded.total_volume,
		    total_oi = excluded.total_oi,
		    file_path = excluded.file_path,
		    created_at = excluded.created_at
		RETURNING id`,
		c.ScanID, c.Ticker, c.SnapshotDate, c.Expiration, c.DTE, c.UnderlyingPrice,
		c.ChainJSON, c.NumCalls, c.NumPuts, c.ATMIV, c.TotalVolume, c.TotalOI,
		c.FilePath, c.CreatedAt.UTC().Format(time.RFC3339),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert chain snapshot for %s/%s: %w", c.Ticker, c.Expiration, err)
	}
	return id, nil
}

// Exists reports whether a snapshot is already stored for the key.
func (r *ChainRepo) Exists(ticker, snapshotDate, expiration string) (bool, error) {
	var n int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM chain_snapshots
		WHERE ticker = ? AND snapshot_date = ? AND expiration = ?`,
		ticker, snapshotDate, expiration,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check chain snapshot: %w", err)
	}
	return n > 0, nil
}

// ListRecent returns the most recent chain snapshots, newest first.
func (r *ChainRepo) ListRecent(limit int) ([]domain.ChainSnapshot, error) {
	rows, err := r.db.Query(`
		SELECT id, scan_id, ticker, snapshot_date, expiration, dte,
		       underlying_price, chain_json, num_calls, num_puts, atm_iv,
		       total_volume, total_oi, COALESCE(file_path, ''), created_at
		FROM chain_snapshots
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chain snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.ChainSnapshot
	for rows.Next() {
		var c domain.ChainSnapshot
		var createdAt string
		if err := rows.Scan(&c.ID, &c.ScanID, &c.Ticker, &c.SnapshotDate, &c.Expiration,
			&c.DTE, &c.UnderlyingPrice, &c.ChainJSON, &c.NumCalls, &c.NumPuts,
			&c.ATMIV, &c.TotalVolume, &c.TotalOI, &c.FilePath, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chain row: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}
