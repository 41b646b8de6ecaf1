// Package export writes the store's recent rows to JSON files for
// downstream consumers. Writes are atomic: a temp file in the target
// directory is renamed into place, and a timestamped copy lands in an
// archive subdirectory.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"ivscan/internal/domain"
	"ivscan/internal/storage"
)

// Export bounds.
const (
	defaultMinScore   = 60.0
	defaultAlertLimit = 500
	defaultChainLimit = 500
	defaultScanDays   = 30
	defaultScanLimit  = 200
	defaultFeatLimit  = 500
)

// RunResult aggregates one exporter pass. A single file failing does
// not fail the run as long as the others succeed.
type RunResult struct {
	Exported []string
	Errors   map[string]string
}

// OK reports whether at least one file was written and nothing failed.
func (r *RunResult) OK() bool { return len(r.Errors) == 0 }

// Exporter writes alerts, chains, scans and features JSON files.
type Exporter struct {
	alerts   *storage.AlertRepo
	chains   *storage.ChainRepo
	scans    *storage.ScanRepo
	features *storage.FeatureRepo

	dir string
	log zerolog.Logger
	now func() time.Time
}

func New(dir string, alerts *storage.AlertRepo, chains *storage.ChainRepo, scans *storage.ScanRepo, features *storage.FeatureRepo, log zerolog.Logger) *Exporter {
	return &Exporter{
		alerts:   alerts,
		chains:   chains,
		scans:    scans,
		features: features,
		dir:      dir,
		log:      log.With().Str("component", "export").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the exporter clock, for tests.
func (e *Exporter) SetClock(now func() time.Time) { e.now = now }

// Run exports all files. Failures are isolated per file.
func (e *Exporter) Run() *RunResult {
	result := &RunResult{Errors: make(map[string]string)}

	jobs := []struct {
		name  string
		build func() (any, error)
	}{
		{"alerts.json", e.buildAlerts},
		{"chains.json", e.buildChains},
		{"scans.json", e.buildScans},
		{"features.json", e.buildFeatures},
	}

	for _, job := range jobs {
		payload, err := job.build()
		if err == nil {
			err = e.writeAtomic(job.name, payload)
		}
		if err != nil {
			result.Errors[job.name] = err.Error()
			e.log.Error().Err(err).Str("file", job.name).Msg("export failed")
			continue
		}
		result.Exported = append(result.Exported, job.name)
	}

	e.log.Info().
		Int("exported", len(result.Exported)).
		Int("failed", len(result.Errors)).
		Msg("export run finished")
	return result
}

func (e *Exporter) buildAlerts() (any, error) {
	alerts, err := e.alerts.ListRecent(defaultMinScore, defaultAlertLimit)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(alerts))
	for _, a := range alerts {
		items = append(items, map[string]any{
			"id":            a.ID,
			"scan_id":       a.ScanID,
			"ticker":        a.Ticker,
			"detector_name": a.Candidate.DetectorName,
			"score":         a.AdjustedScore,
			"alert_data":    a.Candidate,
			"created_at":    iso(a.CreatedAt),
		})
	}
	return map[string]any{
		"export_timestamp": iso(e.now()),
		"alert_count":      len(items),
		"min_score":        defaultMinScore,
		"alerts":           items,
	}, nil
}

func (e *Exporter) buildChains() (any, error) {
	chains, err := e.chains.ListRecent(defaultChainLimit)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(chains))
	for _, c := range chains {
		var chain domain.OptionsChain
		calls, puts := any(nil), any(nil)
		if err := json.Unmarshal([]byte(c.ChainJSON), &chain); err == nil {
			calls, puts = chain.Calls, chain.Puts
		}
		items = append(items, map[string]any{
			"ticker":           c.Ticker,
			"timestamp":        c.SnapshotDate,
			"underlying_price": c.UnderlyingPrice,
			"expiration":       c.Expiration,
			"calls":            calls,
			"puts":             puts,
			"created_at":       iso(c.CreatedAt),
		})
	}
	return map[string]any{
		"export_timestamp": iso(e.now()),
		"chain_count":      len(items),
		"chains":           items,
	}, nil
}

func (e *Exporter) buildScans() (any, error) {
	scans, err := e.scans.ListRecent(defaultScanDays, defaultScanLimit)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(scans))
	for _, s := range scans {
		items = append(items, map[string]any{
			"id":               s.ID,
			"scan_ts":          iso(s.ScanTS),
			"config_hash":      s.ConfigHash,
			"status":           s.Status,
			"tickers_scanned":  s.TickersScanned,
			"alerts_generated": s.AlertsGenerated,
			"runtime_seconds":  s.RuntimeSeconds,
			"error_message":    nullable(s.ErrorMessage),
		})
	}
	return map[string]any{
		"export_timestamp": iso(e.now()),
		"scan_count":       len(items),
		"days":             defaultScanDays,
		"scans":            items,
	}, nil
}

func (e *Exporter) buildFeatures() (any, error) {
	rows, err := e.features.ListRecent(defaultFeatLimit)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		features := any(nil)
		var decoded map[string]any
		if err := json.Unmarshal([]byte(r.Features), &decoded); err == nil {
			features = decoded
		}
		items = append(items, map[string]any{
			"ticker":     r.Ticker,
			"features":   features,
			"created_at": iso(r.CreatedAt),
			"scan_id":    r.ScanID,
		})
	}
	return map[string]any{
		"export_timestamp": iso(e.now()),
		"feature_count":    len(items),
		"features":         items,
	}, nil
}

// writeAtomic serializes payload to dir/name via temp file and rename,
// then copies it into archive/ with a timestamped name.
func (e *Exporter) writeAtomic(name string, payload any) error {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(e.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	final := filepath.Join(e.dir, name)
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename into place: %w", err)
	}

	if err := e.archive(name, data); err != nil {
		// the primary file is already in place; archive failures only log
		e.log.Warn().Err(err).Str("file", name).Msg("archive copy failed")
	}
	return nil
}

func (e *Exporter) archive(name string, data []byte) error {
	dir := filepath.Join(e.dir, "archive")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	stamp := e.now().Format("20060102T150405Z")
	base := name[:len(name)-len(filepath.Ext(name))]
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("%s_%s.json", base, stamp)), data, 0644)
}

func iso(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
