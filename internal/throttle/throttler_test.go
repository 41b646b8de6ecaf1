package throttle

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivscan/internal/config"
	"ivscan/internal/marketcal"
	"ivscan/internal/storage"
)

func newTestThrottler(t *testing.T, maxPerDay int) (*Throttler, *storage.CooldownRepo, *time.Time) {
	t.Helper()

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "cache.db"), MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(zerolog.Nop()))

	cal, err := marketcal.New()
	require.NoError(t, err)

	cooldowns := storage.NewCooldownRepo(db.Conn(), zerolog.Nop())
	dailyCounts := storage.NewDailyCountRepo(db.Conn(), zerolog.Nop())

	cfg := &config.Config{}
	cfg.Scoring.CooldownHours = 24
	cfg.Scoring.MaxAlertsPerDay = maxPerDay

	th := New(cfg, cooldowns, dailyCounts, cal, zerolog.Nop())

	// Monday 2026-03-02 15:00 UTC, 10:00 ET
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	th.SetClock(clock)
	cooldowns.SetClock(clock)
	return th, cooldowns, &now
}

func TestSecondEmissionSameScanIsSuppressed(t *testing.T) {
	th, _, _ := newTestThrottler(t, 10)

	require.True(t, th.ShouldAlert("AAPL", "low_iv", 85))
	require.True(t, th.RecordAlert("AAPL", "low_iv", 85, 1))

	// a second detector hit on the same ticker within the same scan
	assert.False(t, th.ShouldAlert("AAPL", "rich_premium", 78))

	count, err := th.DailyCount("")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "suppressed emission must not bump the daily count")

	remaining, err := th.CooldownRemaining("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, remaining)
}

func TestCooldownExpiresAfterWindow(t *testing.T) {
	th, _, now := newTestThrottler(t, 10)

	require.True(t, th.RecordAlert("AAPL", "low_iv", 85, 1))

	*now = now.Add(23 * time.Hour)
	assert.False(t, th.ShouldAlert("AAPL", "low_iv", 85))

	*now = now.Add(time.Hour)
	assert.True(t, th.ShouldAlert("AAPL", "low_iv", 85))
}

func TestCooldownIsPerTicker(t *testing.T) {
	th, _, _ := newTestThrottler(t, 10)

	require.True(t, th.RecordAlert("AAPL", "low_iv", 85, 1))
	assert.True(t, th.ShouldAlert("MSFT", "low_iv", 80))
}

func TestDailyCapBlocksAcrossTickers(t *testing.T) {
	th, _, _ := newTestThrottler(t, 2)

	require.True(t, th.ShouldAlert("AAPL", "low_iv", 85))
	th.RecordAlert("AAPL", "low_iv", 85, 1)
	require.True(t, th.ShouldAlert("MSFT", "low_iv", 82))
	th.RecordAlert("MSFT", "low_iv", 82, 2)

	assert.False(t, th.ShouldAlert("NVDA", "low_iv", 90), "cap is process-wide, not per ticker")
}

func TestDailyCapResetsOnNextETDate(t *testing.T) {
	th, _, now := newTestThrottler(t, 1)

	th.RecordAlert("AAPL", "low_iv", 85, 1)
	assert.False(t, th.ShouldAlert("MSFT", "low_iv", 82))

	// 06:00 ET on the next calendar day; AAPL is still in its 24h
	// cooldown but the daily budget is fresh
	*now = now.Add(20 * time.Hour)
	assert.True(t, th.ShouldAlert("MSFT", "low_iv", 82))
	assert.False(t, th.ShouldAlert("AAPL", "low_iv", 85))
}

func TestDailyCountDefaultsToToday(t *testing.T) {
	th, _, _ := newTestThrottler(t, 10)

	th.RecordAlert("AAPL", "low_iv", 85, 1)

	n, err := th.DailyCount("")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = th.DailyCount("2026-03-03")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordAlertRefreshesCooldown(t *testing.T) {
	th, cooldowns, now := newTestThrottler(t, 100)

	th.RecordAlert("AAPL", "low_iv", 70, 1)
	*now = now.Add(25 * time.Hour)
	require.True(t, th.ShouldAlert("AAPL", "rich_premium", 90))
	th.RecordAlert("AAPL", "rich_premium", 90, 2)

	c, err := cooldowns.Get("AAPL")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.InDelta(t, 90, c.LastScore, 1e-9)
	assert.True(t, c.LastAlertTS.Equal(*now))
}
