package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so relative paths
// (data dir, watchlist.txt, .env) do not touch the repository.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := inTempDir(t)
	path := writeConfig(t, dir, "watchlist: [aapl]\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.DemoMode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Scan.Fanout)
	assert.Equal(t, []string{"16:15"}, cfg.Scheduler.CollectionTimesET)
	assert.Equal(t, 250, cfg.Scheduler.MaxCallsPerHour)
	assert.Equal(t, 2000, cfg.Scheduler.MaxCallsPerDay)
	assert.InDelta(t, 24.0, cfg.Scoring.CooldownHours, 1e-9)
	assert.Equal(t, 5, cfg.Scoring.MaxAlertsPerDay)
	assert.InDelta(t, 5.0, cfg.Risk.MaxConcentrationPct, 1e-9)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.True(t, cfg.Server.Enabled)

	assert.Equal(t, []string{"AAPL"}, cfg.Scan.Symbols)
	assert.DirExists(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Hash)
}

func TestWatchlistNormalization(t *testing.T) {
	dir := inTempDir(t)
	path := writeConfig(t, dir, `
watchlist: [" aapl", "AAPL", msft, "", "tsla "]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, cfg.Scan.Symbols)
}

func TestScanSymbolsTakePriority(t *testing.T) {
	dir := inTempDir(t)
	path := writeConfig(t, dir, `
watchlist: [msft]
scan:
  symbols: [aapl]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, cfg.Scan.Symbols)
}

func TestWatchlistFileFallback(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "watchlist.txt"), []byte(`
# growth names
aapl
msft  # cloud

nvda
`), 0644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, cfg.Scan.Symbols)
}

func TestLoadRejectsEmptyWatchlist(t *testing.T) {
	inTempDir(t)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no watchlist")
}

func TestLoadRejectsBadCollectionTime(t *testing.T) {
	dir := inTempDir(t)
	path := writeConfig(t, dir, `
watchlist: [aapl]
scheduler:
  collection_times_et: ["25:99"]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection_times_et")
}

func TestDetectorOverrides(t *testing.T) {
	dir := inTempDir(t)
	path := writeConfig(t, dir, `
watchlist: [aapl]
detectors:
  low_iv:
    thresholds:
      iv_percentile: 20
  term_kink:
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 20, cfg.DetectorThreshold("low_iv", "iv_percentile", 25), 1e-9)
	assert.InDelta(t, 25, cfg.DetectorThreshold("low_iv", "other", 25), 1e-9)
	assert.InDelta(t, 75, cfg.DetectorThreshold("rich_premium", "iv_percentile", 75), 1e-9)

	assert.False(t, cfg.DetectorEnabled("term_kink"))
	assert.True(t, cfg.DetectorEnabled("low_iv"), "enabled defaults to true")
	assert.True(t, cfg.DetectorEnabled("unknown"))
}

func TestThesesSection(t *testing.T) {
	dir := inTempDir(t)
	path := writeConfig(t, dir, `
watchlist: [aapl]
theses:
  aapl: "Services growth is underpriced."
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Theses, "aapl")
}

func TestHashStableAcrossReloads(t *testing.T) {
	dir := inTempDir(t)
	path := writeConfig(t, dir, "watchlist: [aapl]\n")

	a, err := Load(path)
	require.NoError(t, err)
	b, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Len(t, a.Hash, 16)
}

func TestHashChangesWithSettings(t *testing.T) {
	dir := inTempDir(t)
	path := writeConfig(t, dir, "watchlist: [aapl]\n")

	a, err := Load(path)
	require.NoError(t, err)

	writeConfig(t, dir, "watchlist: [aapl, msft]\n")
	b, err := Load(path)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestParseWallClock(t *testing.T) {
	h, m, err := ParseWallClock("16:15")
	require.NoError(t, err)
	assert.Equal(t, 16, h)
	assert.Equal(t, 15, m)

	h, m, err = ParseWallClock(" 9:30 ")
	require.NoError(t, err)
	assert.Equal(t, 9, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseWallClock("1615")
	assert.Error(t, err)
	_, _, err = ParseWallClock("24:00")
	assert.Error(t, err)
	_, _, err = ParseWallClock("12:60")
	assert.Error(t, err)
}

func TestValidateRanges(t *testing.T) {
	cfg := &Config{}
	cfg.Scan.Symbols = []string{"AAPL"}
	cfg.Scan.Fanout = 8
	cfg.Scheduler.MaxCallsPerHour = 250
	cfg.Scheduler.MaxCallsPerDay = 2000
	cfg.Scoring.CooldownHours = 24
	cfg.Scoring.MaxAlertsPerDay = 5
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Scan.Fanout = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Scheduler.MaxCallsPerDay = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Scoring.CooldownHours = 0
	assert.Error(t, bad.Validate())
}
