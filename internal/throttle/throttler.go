// Package throttle limits alert emission with a per-ticker cooldown and
// a process-wide daily cap.
package throttle

import (
	"time"

	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/marketcal"
	"ivscan/internal/storage"
)

// Throttler gates emissions. Check-then-record is not atomic across
// concurrent emissions for the same ticker; the store's upserts make
// the last writer win, so suppression is best-effort under concurrency.
type Throttler struct {
	cooldowns    *storage.CooldownRepo
	dailyCounts  *storage.DailyCountRepo
	cal          *marketcal.Calendar
	cooldownHrs  float64
	maxPerDay    int
	log          zerolog.Logger
	now          func() time.Time
}

func New(cfg *config.Config, cooldowns *storage.CooldownRepo, dailyCounts *storage.DailyCountRepo, cal *marketcal.Calendar, log zerolog.Logger) *Throttler {
	return &Throttler{
		cooldowns:   cooldowns,
		dailyCounts: dailyCounts,
		cal:         cal,
		cooldownHrs: cfg.Scoring.CooldownHours,
		maxPerDay:   cfg.Scoring.MaxAlertsPerDay,
		log:         log.With().Str("component", "throttle").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the throttler clock, for tests.
func (t *Throttler) SetClock(now func() time.Time) { t.now = now }

// ShouldAlert reports whether an emission for ticker is currently
// allowed. Storage errors fail closed.
func (t *Throttler) ShouldAlert(ticker, detector string, score float64) bool {
	inCooldown, remaining, err := t.cooldowns.IsInCooldown(ticker, t.cooldownHrs)
	if err != nil {
		t.log.Error().Err(err).Str("ticker", ticker).Msg("cooldown read failed")
		return false
	}
	if inCooldown {
		t.log.Info().
			Str("ticker", ticker).
			Str("detector", detector).
			Dur("remaining", remaining).
			Msg("alert suppressed by cooldown")
		return false
	}

	count, err := t.dailyCounts.Get(t.today())
	if err != nil {
		t.log.Error().Err(err).Msg("daily count read failed")
		return false
	}
	if count >= t.maxPerDay {
		t.log.Info().
			Str("ticker", ticker).
			Str("detector", detector).
			Int("count", count).
			Int("max", t.maxPerDay).
			Msg("alert suppressed by daily cap")
		return false
	}

	return true
}

// RecordAlert updates the ticker's cooldown and bumps today's count.
// Returns false only on storage error.
func (t *Throttler) RecordAlert(ticker, detector string, score float64, alertID int64) bool {
	now := t.now()
	if err := t.cooldowns.Upsert(ticker, now, score); err != nil {
		t.log.Error().Err(err).Str("ticker", ticker).Msg("cooldown write failed")
		return false
	}
	if err := t.dailyCounts.Increment(t.today()); err != nil {
		t.log.Error().Err(err).Msg("daily count write failed")
		return false
	}
	t.log.Debug().
		Str("ticker", ticker).
		Str("detector", detector).
		Int64("alert_id", alertID).
		Float64("score", score).
		Msg("alert recorded")
	return true
}

// CooldownRemaining returns the remaining cooldown for ticker, or zero.
func (t *Throttler) CooldownRemaining(ticker string) (time.Duration, error) {
	inCooldown, remaining, err := t.cooldowns.IsInCooldown(ticker, t.cooldownHrs)
	if err != nil || !inCooldown {
		return 0, err
	}
	return remaining, nil
}

// DailyCount returns the emission count for date, defaulting to today.
func (t *Throttler) DailyCount(date string) (int, error) {
	if date == "" {
		date = t.today()
	}
	return t.dailyCounts.Get(date)
}

// today is the current ET calendar date; the daily cap follows the
// trading day, not UTC.
func (t *Throttler) today() string {
	return t.cal.ETDate(t.now())
}
