// Package marketcal provides US equity market session arithmetic.
// All persisted instants are UTC; Eastern Time conversions happen only
// here, at the edges.
package marketcal

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrNoZone is returned when a civil datetime without a location is
// passed where a zoned value is required.
var ErrNoZone = errors.New("datetime has no time zone")

// Regular session bounds, Eastern Time.
const (
	openHour    = 9
	openMinute  = 30
	closeHour   = 16
	closeMinute = 0
)

// Calendar answers trading-day and session questions for the US equity
// market. The holiday set is swappable at construction time.
type Calendar struct {
	loc      *time.Location
	holidays map[string]bool // keyed by YYYY-MM-DD in ET
}

// New creates a calendar with the built-in holiday set.
func New() (*Calendar, error) {
	return NewWithHolidays(nil)
}

// NewWithHolidays creates a calendar with an explicit holiday list
// (ISO dates). A nil list means the built-in defaults.
func NewWithHolidays(dates []string) (*Calendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load America/New_York: %w", err)
	}

	if dates == nil {
		dates = defaultHolidays
	}
	holidays := make(map[string]bool, len(dates))
	for _, d := range dates {
		holidays[d] = true
	}

	return &Calendar{loc: loc, holidays: holidays}, nil
}

// NewFromFile creates a calendar reading holidays from a file of ISO
// dates, one per line, # starting a comment. Missing file falls back to
// the built-in set.
func NewFromFile(path string) (*Calendar, error) {
	if path == "" {
		return New()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New()
		}
		return nil, fmt.Errorf("failed to read holidays file: %w", err)
	}

	var dates []string
	for _, line := range strings.Split(string(data), "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", line); err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", line, err)
		}
		dates = append(dates, line)
	}
	return NewWithHolidays(dates)
}

// NowUTC returns the current instant in UTC.
func (c *Calendar) NowUTC() time.Time {
	return time.Now().UTC()
}

// ToET converts a UTC instant to Eastern Time.
func (c *Calendar) ToET(t time.Time) time.Time {
	return t.In(c.loc)
}

// FromET converts a zoned civil datetime to a UTC instant. Values that
// were built without an explicit zone (location nil or the UTC default)
// are rejected with ErrNoZone; callers that mean ET must construct the
// value in the calendar's location, e.g. via ETDateTime.
func (c *Calendar) FromET(t time.Time) (time.Time, error) {
	if t.Location() == nil || t.Location() == time.UTC {
		return time.Time{}, ErrNoZone
	}
	return t.UTC(), nil
}

// ETDateTime builds a UTC instant from ET civil components.
func (c *Calendar) ETDateTime(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, c.loc).UTC()
}

// IsTradingDay reports whether the ET date of t is a regular trading day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	et := t.In(c.loc)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[et.Format("2006-01-02")]
}

// IsMarketOpen reports whether the regular 09:30-16:00 ET session is
// open at instant t.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	et := t.In(c.loc)
	open := time.Date(et.Year(), et.Month(), et.Day(), openHour, openMinute, 0, 0, c.loc)
	close := time.Date(et.Year(), et.Month(), et.Day(), closeHour, closeMinute, 0, 0, c.loc)
	return !et.Before(open) && et.Before(close)
}

// NextMarketOpen returns the first session open at or after t.
func (c *Calendar) NextMarketOpen(t time.Time) time.Time {
	et := t.In(c.loc)
	for i := 0; i < 366; i++ {
		day := et.AddDate(0, 0, i)
		open := time.Date(day.Year(), day.Month(), day.Day(), openHour, openMinute, 0, 0, c.loc)
		if c.IsTradingDay(open) && open.After(et) {
			return open.UTC()
		}
	}
	return time.Time{}
}

// NextMarketClose returns the first session close after t.
func (c *Calendar) NextMarketClose(t time.Time) time.Time {
	et := t.In(c.loc)
	for i := 0; i < 366; i++ {
		day := et.AddDate(0, 0, i)
		close := time.Date(day.Year(), day.Month(), day.Day(), closeHour, closeMinute, 0, 0, c.loc)
		if c.IsTradingDay(close) && close.After(et) {
			return close.UTC()
		}
	}
	return time.Time{}
}

// MarketHoursRemaining returns how much of the current regular session
// is left, or zero when the market is closed.
func (c *Calendar) MarketHoursRemaining(t time.Time) time.Duration {
	if !c.IsMarketOpen(t) {
		return 0
	}
	et := t.In(c.loc)
	close := time.Date(et.Year(), et.Month(), et.Day(), closeHour, closeMinute, 0, 0, c.loc)
	return close.Sub(et)
}

// ETDate returns the ET calendar date of t as YYYY-MM-DD.
func (c *Calendar) ETDate(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// Location exposes the Eastern Time location for schedule parsing.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// US equity market holidays. Swap via NewWithHolidays or a holidays
// file without touching code.
var defaultHolidays = []string{
	// 2024
	"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29",
	"2024-05-27", "2024-06-19", "2024-07-04", "2024-09-02",
	"2024-11-28", "2024-12-25",
	// 2025
	"2025-01-01", "2025-01-20", "2025-02-17", "2025-04-18",
	"2025-05-26", "2025-06-19", "2025-07-04", "2025-09-01",
	"2025-11-27", "2025-12-25",
	// 2026
	"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03",
	"2026-05-25", "2026-06-19", "2026-07-03", "2026-09-07",
	"2026-11-26", "2026-12-25",
}
