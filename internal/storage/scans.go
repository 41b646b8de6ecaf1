package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ivscan/internal/domain"
)

// ScanRepo handles scan row lifecycle.
type ScanRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewScanRepo creates a scan repository.
func NewScanRepo(db *sql.DB, log zerolog.Logger) *ScanRepo {
	return &ScanRepo{
		db:  db,
		log: log.With().Str("repository", "scans").Logger(),
	}
}

// Create inserts a pending scan row and returns its id.
func (r *ScanRepo) Create(scanTS time.Time, configHash string) (int64, error) {
	var id int64
	err := r.db.QueryRow(`
		INSERT INTO scans (scan_ts, config_hash, status)
		VALUES (?, ?, ?)
		RETURNING id`,
		scanTS.UTC().Format(time.RFC3339), configHash, string(domain.ScanPending),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create scan: %w", err)
	}
	return id, nil
}

// SetStatus moves a scan to a new lifecycle status.
func (r *ScanRepo) SetStatus(id int64, status domain.ScanStatus, errorMessage string) error {
	_, err := r.db.Exec(`
		UPDATE scans SET status = ?, error_message = NULLIF(?, '')
		WHERE id = ?`,
		string(status), errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set scan %d status: %w", id, err)
	}
	return nil
}

// Finish records the scan's final counters alongside its status.
func (r *ScanRepo) Finish(id int64, status domain.ScanStatus, tickersScanned, alertsGenerated int, runtime time.Duration, errorMessage string) error {
	_, err := r.db.Exec(`
		UPDATE scans
		SET status = ?, tickers_scanned = ?, alerts_generated = ?,
		    runtime_seconds = ?, error_message = NULLIF(?, '')
		WHERE id = ?`,
		string(status), tickersScanned, alertsGenerated,
		runtime.Seconds(), errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish scan %d: %w", id, err)
	}
	return nil
}

// Get returns one scan by id.
func (r *ScanRepo) Get(id int64) (*domain.Scan, error) {
	row := r.db.QueryRow(`
		SELECT id, scan_ts, config_hash, status, tickers_scanned,
		       alerts_generated, runtime_seconds, COALESCE(error_message, '')
		FROM scans WHERE id = ?`, id)
	return scanFromRow(row)
}

// MostRecent returns the latest scan row, or nil when the table is empty.
func (r *ScanRepo) MostRecent() (*domain.Scan, error) {
	row := r.db.QueryRow(`
		SELECT id, scan_ts, config_hash, status, tickers_scanned,
		       alerts_generated, runtime_seconds, COALESCE(error_message, '')
		FROM scans ORDER BY id DESC LIMIT 1`)
	s, err := scanFromRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListRecent returns scans from the last N days, newest first.
func (r *ScanRepo) ListRecent(days, limit int) ([]domain.Scan, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	rows, err := r.db.Query(`
		SELECT id, scan_ts, config_hash, status, tickers_scanned,
		       alerts_generated, runtime_seconds, COALESCE(error_message, '')
		FROM scans
		WHERE scan_ts >= ?
		ORDER BY scan_ts DESC
		LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var out []domain.Scan
	for rows.Next() {
		var s domain.Scan
		var ts string
		if err := rows.Scan(&s.ID, &ts, &s.ConfigHash, &s.Status,
			&s.TickersScanned, &s.AlertsGenerated, &s.RuntimeSeconds, &s.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.ScanTS, _ = time.Parse(time.RFC3339, ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFromRow(row rowScanner) (*domain.Scan, error) {
	var s domain.Scan
	var ts string
	err := row.Scan(&s.ID, &ts, &s.ConfigHash, &s.Status,
		&s.TickersScanned, &s.AlertsGenerated, &s.RuntimeSeconds, &s.ErrorMessage)
	if err != nil {
		return nil, err
	}
	s.ScanTS, _ = time.Parse(time.RFC3339, ts)
	return &s, nil
}
