// Package config provides configuration management functionality.
// Configuration is merged from layered sources, highest priority first:
// environment variables, a .env file, config.yaml, built-in defaults.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ScanConfig controls the watchlist and per-scan fan-out.
type ScanConfig struct {
	Symbols []string `mapstructure:"symbols"`
	Fanout  int      `mapstructure:"fanout"`
}

// SchedulerConfig holds rate budgets and trigger times for the scheduler engine.
type SchedulerConfig struct {
	CollectionTimesET  []string `mapstructure:"collection_times_et"`
	MaxCallsPerHour    int      `mapstructure:"max_calls_per_hour"`
	MaxCallsPerDay     int      `mapstructure:"max_calls_per_day"`
	FlushThreshold     int      `mapstructure:"flush_threshold"`
	CheckIntervalSec   int      `mapstructure:"check_interval_sec"`
	InterTickerDelayMS int      `mapstructure:"inter_ticker_delay_ms"`
	BackoffBaseSec     int      `mapstructure:"backoff_base_sec"`
	ShutdownGraceSec   int      `mapstructure:"shutdown_grace_sec"`
}

// RiskConfig holds portfolio-level gating thresholds.
type RiskConfig struct {
	MaxConcentrationPct float64 `mapstructure:"max_concentration_pct"`
	MaxMarginUsagePct   float64 `mapstructure:"max_margin_usage_pct"`
	MinCashBufferPct    float64 `mapstructure:"min_cash_buffer_pct"`
}

// ScoringConfig holds alert throttling and scorer knobs.
type ScoringConfig struct {
	CooldownHours   float64 `mapstructure:"cooldown_hours"`
	MaxAlertsPerDay int     `mapstructure:"max_alerts_per_day"`
	MinOptionVolume float64 `mapstructure:"min_option_volume"`
}

// DetectorConfig holds per-detector settings under detectors.<name>.
type DetectorConfig struct {
	Enabled    *bool              `mapstructure:"enabled"`
	Thresholds map[string]float64 `mapstructure:"thresholds"`
}

// ProviderConfig configures the live market data client.
type ProviderConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// ExportConfig controls the periodic JSON exporter.
type ExportConfig struct {
	IntervalMinutes int    `mapstructure:"interval_minutes"`
	Dir             string `mapstructure:"dir"`
}

// ServerConfig controls the status HTTP surface.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// PositionConfig is one held position as declared in configuration.
type PositionConfig struct {
	Ticker      string  `mapstructure:"ticker"`
	MarketValue float64 `mapstructure:"market_value"`
	Quantity    float64 `mapstructure:"quantity"`
}

// AccountConfig is the account state consumed by the risk gate.
type AccountConfig struct {
	CashAvailable   float64          `mapstructure:"cash_available"`
	MarginAvailable float64          `mapstructure:"margin_available"`
	Positions       []PositionConfig `mapstructure:"positions"`
}

// Config holds the fully merged application configuration.
type Config struct {
	DemoMode                bool            `mapstructure:"demo_mode"`
	BackendURL              string          `mapstructure:"backend_url"`
	LogLevel                string          `mapstructure:"log_level"`
	DataDir                 string          `mapstructure:"data_dir"`
	RiskFreeRate            float64         `mapstructure:"risk_free_rate"`
	CacheTTLMinutes         int             `mapstructure:"cache_ttl_minutes"`
	IntradayCacheTTLMinutes int             `mapstructure:"intraday_cache_ttl_minutes"`
	HolidaysFile            string          `mapstructure:"holidays_file"`
	Watchlist               []string        `mapstructure:"watchlist"`
	Scan                    ScanConfig      `mapstructure:"scan"`
	Scheduler               SchedulerConfig `mapstructure:"scheduler"`
	Risk                    RiskConfig      `mapstructure:"risk"`
	Scoring                 ScoringConfig   `mapstructure:"scoring"`
	Detectors               map[string]DetectorConfig
	Theses                  map[string]any
	Provider                ProviderConfig `mapstructure:"provider"`
	Export                  ExportConfig   `mapstructure:"export"`
	Server                  ServerConfig   `mapstructure:"server"`
	Account                 AccountConfig  `mapstructure:"account"`

	// Hash is a stable digest of the merged configuration plus the
	// modification times of every file that contributed to it. It is
	// recorded on every scan row so results can be tied back to the
	// exact configuration that produced them.
	Hash string
}

// Load reads configuration from all layered sources and resolves the
// watchlist. The configPath may be empty, in which case config.yaml in
// the working directory is used when present.
func Load(configPath string) (*Config, error) {
	// .env values become environment variables before viper reads them
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("IVSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Open map sections are pulled out separately; viper lowercases keys
	// so detector names and tickers stay predictable.
	cfg.Detectors = decodeDetectors(v)
	cfg.Theses = v.GetStringMap("theses")

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	watchlistFile := ""
	if len(cfg.Scan.Symbols) == 0 {
		if len(cfg.Watchlist) > 0 {
			cfg.Scan.Symbols = cfg.Watchlist
		} else {
			symbols, path, err := loadWatchlistFile()
			if err != nil {
				return nil, err
			}
			cfg.Scan.Symbols = symbols
			watchlistFile = path
		}
	}
	cfg.Scan.Symbols = normalizeSymbols(cfg.Scan.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Hash = computeHash(v, configPath, watchlistFile)

	return cfg, nil
}

// Validate checks value ranges on the merged configuration.
func (c *Config) Validate() error {
	if len(c.Scan.Symbols) == 0 {
		return fmt.Errorf("no watchlist configured: set scan.symbols, watchlist, or provide watchlist.txt")
	}
	if c.Scan.Fanout <= 0 {
		return fmt.Errorf("scan.fanout must be > 0")
	}
	if c.Scheduler.MaxCallsPerHour <= 0 || c.Scheduler.MaxCallsPerDay <= 0 {
		return fmt.Errorf("scheduler rate budgets must be > 0")
	}
	if c.Scoring.CooldownHours <= 0 {
		return fmt.Errorf("scoring.cooldown_hours must be > 0")
	}
	if c.Scoring.MaxAlertsPerDay <= 0 {
		return fmt.Errorf("scoring.max_alerts_per_day must be > 0")
	}
	for _, t := range c.Scheduler.CollectionTimesET {
		if _, _, err := ParseWallClock(t); err != nil {
			return fmt.Errorf("invalid scheduler.collection_times_et entry %q: %w", t, err)
		}
	}
	return nil
}

// DetectorEnabled reports whether a detector is enabled. Detectors are
// enabled by default; only an explicit enabled: false disables one.
func (c *Config) DetectorEnabled(name string) bool {
	dc, ok := c.Detectors[strings.ToLower(name)]
	if !ok || dc.Enabled == nil {
		return true
	}
	return *dc.Enabled
}

// DetectorThreshold returns a named threshold for a detector, or the
// provided default when unset.
func (c *Config) DetectorThreshold(name, key string, def float64) float64 {
	dc, ok := c.Detectors[strings.ToLower(name)]
	if !ok {
		return def
	}
	if val, ok := dc.Thresholds[key]; ok {
		return val
	}
	return def
}

// ParseWallClock parses an "HH:MM" wall-clock string.
func ParseWallClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM")
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM: %w", err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("out of range")
	}
	return hour, minute, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("demo_mode", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "data")
	v.SetDefault("risk_free_rate", 0.05)
	v.SetDefault("cache_ttl_minutes", 60)
	v.SetDefault("intraday_cache_ttl_minutes", 1)

	v.SetDefault("scan.fanout", 8)

	v.SetDefault("scheduler.collection_times_et", []string{"16:15"})
	v.SetDefault("scheduler.max_calls_per_hour", 250)
	v.SetDefault("scheduler.max_calls_per_day", 2000)
	v.SetDefault("scheduler.flush_threshold", 50)
	v.SetDefault("scheduler.check_interval_sec", 10)
	v.SetDefault("scheduler.inter_ticker_delay_ms", 100)
	v.SetDefault("scheduler.backoff_base_sec", 60)
	v.SetDefault("scheduler.shutdown_grace_sec", 10)

	v.SetDefault("risk.max_concentration_pct", 5.0)
	v.SetDefault("risk.max_margin_usage_pct", 50.0)
	v.SetDefault("risk.min_cash_buffer_pct", 50.0)

	v.SetDefault("scoring.cooldown_hours", 24.0)
	v.SetDefault("scoring.max_alerts_per_day", 5)
	v.SetDefault("scoring.min_option_volume", 100.0)

	v.SetDefault("provider.timeout_sec", 10)

	v.SetDefault("export.interval_minutes", 5)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8090)

	v.SetDefault("account.cash_available", 0.0)
	v.SetDefault("account.margin_available", 0.0)
}

func decodeDetectors(v *viper.Viper) map[string]DetectorConfig {
	out := make(map[string]DetectorConfig)
	raw := v.GetStringMap("detectors")
	for name := range raw {
		sub := v.Sub("detectors." + name)
		if sub == nil {
			continue
		}
		var dc DetectorConfig
		if err := sub.Unmarshal(&dc); err != nil {
			continue
		}
		out[strings.ToLower(name)] = dc
	}
	return out
}

// loadWatchlistFile reads watchlist.txt: one ticker per line, # starts a
// line comment, blank lines ignored.
func loadWatchlistFile() ([]string, string, error) {
	const path = "watchlist.txt"
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	var symbols []string
	for _, line := range strings.Split(string(data), "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			symbols = append(symbols, line)
		}
	}
	return symbols, path, nil
}

// normalizeSymbols uppercases, trims and deduplicates while preserving order.
func normalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// computeHash digests the merged settings plus contributing file mtimes.
// Map key order is canonicalized by encoding/json.
func computeHash(v *viper.Viper, files ...string) string {
	h := sha256.New()

	if data, err := json.Marshal(v.AllSettings()); err == nil {
		h.Write(data)
	}

	for _, f := range append(files, ".env") {
		if f == "" {
			continue
		}
		if info, err := os.Stat(f); err == nil {
			fmt.Fprintf(h, "%s:%d", f, info.ModTime().UnixNano())
		}
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}
