package marketcal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCal(t *testing.T) *Calendar {
	t.Helper()
	cal, err := New()
	require.NoError(t, err)
	return cal
}

func TestIsTradingDay(t *testing.T) {
	cal := newCal(t)

	// Monday 2026-03-02
	assert.True(t, cal.IsTradingDay(cal.ETDateTime(2026, time.March, 2, 12, 0)))
	// Saturday
	assert.False(t, cal.IsTradingDay(cal.ETDateTime(2026, time.March, 7, 12, 0)))
	// Sunday
	assert.False(t, cal.IsTradingDay(cal.ETDateTime(2026, time.March, 8, 12, 0)))
	// New Year's Day
	assert.False(t, cal.IsTradingDay(cal.ETDateTime(2026, time.January, 1, 12, 0)))
}

func TestIsMarketOpenSessionBounds(t *testing.T) {
	cal := newCal(t)

	assert.False(t, cal.IsMarketOpen(cal.ETDateTime(2026, time.March, 2, 9, 29)))
	assert.True(t, cal.IsMarketOpen(cal.ETDateTime(2026, time.March, 2, 9, 30)))
	assert.True(t, cal.IsMarketOpen(cal.ETDateTime(2026, time.March, 2, 15, 59)))
	assert.False(t, cal.IsMarketOpen(cal.ETDateTime(2026, time.March, 2, 16, 0)))
	// holiday midday
	assert.False(t, cal.IsMarketOpen(cal.ETDateTime(2026, time.June, 19, 12, 0)))
}

func TestFromETRejectsZonelessValues(t *testing.T) {
	cal := newCal(t)

	_, err := cal.FromET(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoZone)

	zoned := time.Date(2026, 3, 2, 10, 0, 0, 0, cal.Location())
	utc, err := cal.FromET(zoned)
	require.NoError(t, err)
	assert.Equal(t, 15, utc.Hour(), "10:00 EST is 15:00 UTC")
}

func TestETDateTimeRoundTrip(t *testing.T) {
	cal := newCal(t)

	utc := cal.ETDateTime(2026, time.July, 6, 16, 15)
	et := cal.ToET(utc)
	assert.Equal(t, 16, et.Hour())
	assert.Equal(t, 15, et.Minute())
	// EDT offset
	assert.Equal(t, 20, utc.Hour())
}

func TestNextMarketOpenSkipsWeekend(t *testing.T) {
	cal := newCal(t)

	// Friday 2026-03-06 after close
	friday := cal.ETDateTime(2026, time.March, 6, 17, 0)
	next := cal.NextMarketOpen(friday)

	et := cal.ToET(next)
	assert.Equal(t, time.Monday, et.Weekday())
	assert.Equal(t, "2026-03-09", cal.ETDate(next))
	assert.Equal(t, 9, et.Hour())
	assert.Equal(t, 30, et.Minute())
}

func TestNextMarketCloseSameDayDuringSession(t *testing.T) {
	cal := newCal(t)

	midday := cal.ETDateTime(2026, time.March, 2, 12, 0)
	close := cal.NextMarketClose(midday)
	assert.Equal(t, "2026-03-02", cal.ETDate(close))

	remaining := cal.MarketHoursRemaining(midday)
	assert.Equal(t, 4*time.Hour, remaining)
}

func TestMarketHoursRemainingZeroWhenClosed(t *testing.T) {
	cal := newCal(t)
	assert.Zero(t, cal.MarketHoursRemaining(cal.ETDateTime(2026, time.March, 7, 12, 0)))
}

func TestNewFromFileOverridesHolidaySet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holidays.txt")
	require.NoError(t, os.WriteFile(path, []byte("# custom set\n2026-03-02\n"), 0644))

	cal, err := NewFromFile(path)
	require.NoError(t, err)

	assert.False(t, cal.IsTradingDay(cal.ETDateTime(2026, time.March, 2, 12, 0)))
	// default holidays are replaced, not merged
	assert.True(t, cal.IsTradingDay(cal.ETDateTime(2026, time.January, 1, 12, 0)))
}

func TestNewFromFileMissingFallsBack(t *testing.T) {
	cal, err := NewFromFile(filepath.Join(t.TempDir(), "absent.txt"))
	require.NoError(t, err)
	assert.False(t, cal.IsTradingDay(cal.ETDateTime(2026, time.December, 25, 12, 0)))
}

func TestNewFromFileRejectsBadDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holidays.txt")
	require.NoError(t, os.WriteFile(path, []byte("not-a-date\n"), 0644))

	_, err := NewFromFile(path)
	assert.Error(t, err)
}
