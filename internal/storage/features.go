package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FeatureRow is one persisted feature snapshot.
type FeatureRow struct {
	ID        int64
	ScanID    int64
	Ticker    string
	Features  string // JSON document
	CreatedAt time.Time
}

// FeatureRepo persists per-ticker feature snapshots. Besides the full
// JSON document it stores the front ATM IV in its own column so the
// IV percentile window can be queried without decoding JSON.
type FeatureRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFeatureRepo creates a feature repository.
func NewFeatureRepo(db *sql.DB, log zerolog.Logger) *FeatureRepo {
	return &FeatureRepo{
		db:  db,
		log: log.With().Str("repository", "features").Logger(),
	}
}

// Insert stores one feature snapshot. frontATMIV may be nil.
func (r *FeatureRepo) Insert(scanID int64, ticker, featuresJSON string, frontATMIV *float64, createdAt time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(`
		INSERT INTO feature_snapshots (scan_id, ticker, features, front_atm_iv, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		scanID, ticker, featuresJSON, frontATMIV, createdAt.UTC().Format(time.RFC3339),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert feature snapshot for %s: %w", ticker, err)
	}
	return id, nil
}

// IVWindow returns the trailing front ATM IV observations for a ticker,
// oldest first, bounded by windowDays.
func (r *FeatureRepo) IVWindow(ticker string, windowDays int) ([]float64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays).Format(time.RFC3339)
	rows, err := r.db.Query(`
		SELECT front_atm_iv
		FROM feature_snapshots
		WHERE ticker = ? AND front_atm_iv IS NOT NULL AND created_at >= ?
		ORDER BY created_at ASC`, ticker, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query IV window for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var iv float64
		if err := rows.Scan(&iv); err != nil {
			return nil, fmt.Errorf("failed to scan IV row: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// ListRecent returns the most recent feature snapshots.
func (r *FeatureRepo) ListRecent(limit int) ([]FeatureRow, error) {
	rows, err := r.db.Query(`
		SELECT id, scan_id, ticker, features, created_at
		FROM feature_snapshots
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature snapshots: %w", err)
	}
	defer rows.Close()

	var out []FeatureRow
	for rows.Next() {
		var f FeatureRow
		var createdAt string
		if err := rows.Scan(&f.ID, &f.ScanID, &f.Ticker, &f.Features, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}
