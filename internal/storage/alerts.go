package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ivscan/internal/domain"
)

// AlertRepo persists alerts. A scan's alerts go in as one batch inside
// a single transaction: either all rows land or none do.
type AlertRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAlertRepo creates an alert repository.
func NewAlertRepo(db *sql.DB, log zerolog.Logger) *AlertRepo {
	return &AlertRepo{
		db:  db,
		log: log.With().Str("repository", "alerts").Logger(),
	}
}

// InsertBatch writes all alerts for one scan atomically and fills in
// the generated ids.
func (r *AlertRepo) InsertBatch(alerts []*domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	return WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO alerts (scan_id, ticker, detector_name, score, alert_data, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id`)
		if err != nil {
			return fmt.Errorf("failed to prepare alert insert: %w", err)
		}
		defer stmt.Close()

		for _, a := range alerts {
			data, err := json.Marshal(a.Candidate)
			if err != nil {
				return fmt.Errorf("failed to marshal alert data for %s: %w", a.Ticker, err)
			}
			err = stmt.QueryRow(
				a.ScanID, a.Ticker, a.Candidate.DetectorName, a.AdjustedScore,
				string(data), a.CreatedAt.UTC().Format(time.RFC3339),
			).Scan(&a.ID)
			if err != nil {
				return fmt.Errorf("failed to insert alert for %s: %w", a.Ticker, err)
			}
		}
		return nil
	})
}

// Insert writes a single alert and returns its id.
func (r *AlertRepo) Insert(a *domain.Alert) error {
	data, err := json.Marshal(a.Candidate)
	if err != nil {
		return fmt.Errorf("failed to marshal alert data: %w", err)
	}
	err = r.db.QueryRow(`
		INSERT INTO alerts (scan_id, ticker, detector_name, score, alert_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		a.ScanID, a.Ticker, a.Candidate.DetectorName, a.AdjustedScore,
		string(data), a.CreatedAt.UTC().Format(time.RFC3339),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// CountByScan returns how many alerts a scan persisted.
func (r *AlertRepo) CountByScan(scanID int64) (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM alerts WHERE scan_id = ?", scanID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// ListRecent returns the most recent alerts at or above minScore.
func (r *AlertRepo) ListRecent(minScore float64, limit int) ([]domain.Alert, error) {
	rows, err := r.db.Query(`
		SELECT id, scan_id, ticker, detector_name, score, alert_data, created_at
		FROM alerts
		WHERE score >= ?
		ORDER BY created_at DESC
		LIMIT ?`, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var detector, data, createdAt string
		if err := rows.Scan(&a.ID, &a.ScanID, &a.Ticker, &detector, &a.AdjustedScore, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &a.Candidate); err != nil {
			r.log.Warn().Err(err).Int64("alert_id", a.ID).Msg("corrupt alert_data, skipping decode")
			a.Candidate = domain.AlertCandidate{DetectorName: detector}
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
