package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ivscan/internal/domain"
)

// CooldownRepo tracks the last alert per ticker.
type CooldownRepo struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewCooldownRepo creates a cooldown repository.
func NewCooldownRepo(db *sql.DB, log zerolog.Logger) *CooldownRepo {
	return &CooldownRepo{
		db:  db,
		log: log.With().Str("repository", "cooldowns").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the repository clock, for tests.
func (r *CooldownRepo) SetClock(now func() time.Time) { r.now = now }

// Upsert records the latest alert for ticker. Last writer wins.
func (r *CooldownRepo) Upsert(ticker string, alertTS time.Time, score float64) error {
	_, err := r.db.Exec(`
		INSERT INTO cooldowns (ticker, last_alert_ts, last_score)
		VALUES (?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
		    last_alert_ts = excluded.last_alert_ts,
		    last_score = excluded.last_score`,
		ticker, alertTS.UTC().Format(time.RFC3339), score,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cooldown for %s: %w", ticker, err)
	}
	return nil
}

// Get returns the cooldown row for ticker, or nil when absent.
func (r *CooldownRepo) Get(ticker string) (*domain.Cooldown, error) {
	var c domain.Cooldown
	var ts string
	err := r.db.QueryRow(`
		SELECT ticker, last_alert_ts, last_score FROM cooldowns WHERE ticker = ?`,
		ticker,
	).Scan(&c.Ticker, &ts, &c.LastScore)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cooldown for %s: %w", ticker, err)
	}
	c.LastAlertTS, _ = time.Parse(time.RFC3339, ts)
	return &c, nil
}

// IsInCooldown reports whether ticker alerted within cooldownHours, and
// if so how long remains.
func (r *CooldownRepo) IsInCooldown(ticker string, cooldownHours float64) (bool, time.Duration, error) {
	c, err := r.Get(ticker)
	if err != nil {
		return false, 0, err
	}
	if c == nil {
		return false, 0, nil
	}

	window := time.Duration(cooldownHours * float64(time.Hour))
	elapsed := r.now().Sub(c.LastAlertTS)
	if elapsed < window {
		return true, window - elapsed, nil
	}
	return false, 0, nil
}

// DailyCountRepo tracks the process-wide alert count per ET date.
type DailyCountRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDailyCountRepo creates a daily count repository.
func NewDailyCountRepo(db *sql.DB, log zerolog.Logger) *DailyCountRepo {
	return &DailyCountRepo{
		db:  db,
		log: log.With().Str("repository", "daily_counts").Logger(),
	}
}

// Increment bumps the counter for date atomically under conflict.
func (r *DailyCountRepo) Increment(date string) error {
	_, err := r.db.Exec(`
		INSERT INTO daily_alert_counts (count_date, alert_count)
		VALUES (?, 1)
		ON CONFLICT(count_date) DO UPDATE SET alert_count = alert_count + 1`,
		date,
	)
	if err != nil {
		return fmt.Errorf("failed to increment daily count for %s: %w", date, err)
	}
	return nil
}

// Get returns the count for date (zero when absent).
func (r *DailyCountRepo) Get(date string) (int, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT alert_count FROM daily_alert_counts WHERE count_date = ?", date,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get daily count for %s: %w", date, err)
	}
	return n, nil
}
