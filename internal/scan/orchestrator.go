// Package scan runs one pass of the pipeline over the watchlist:
// snapshot, features, detectors, scoring, gating, throttling, and the
// final batch write.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ivscan/internal/account"
	"ivscan/internal/breaker"
	"ivscan/internal/config"
	"ivscan/internal/detectors"
	"ivscan/internal/domain"
	"ivscan/internal/explain"
	"ivscan/internal/features"
	"ivscan/internal/marketcal"
	"ivscan/internal/provider"
	"ivscan/internal/risk"
	"ivscan/internal/scoring"
	"ivscan/internal/storage"
	"ivscan/internal/throttle"
)

// Retry policy for transient provider failures.
const (
	maxRetries     = 2
	retryBaseDelay = 500 * time.Millisecond
)

// ivWindowDays is the trailing window the IV percentile is measured in.
const ivWindowDays = 252

// Result summarizes one scan invocation for the scheduler.
type Result struct {
	ScanID          int64
	Status          domain.ScanStatus
	TickersScanned  int
	AlertsGenerated int
	Runtime         time.Duration
	RateLimited     bool
	Warnings        []string
}

// Orchestrator wires the per-scan pipeline together.
type Orchestrator struct {
	cfg       *config.Config
	provider  provider.Interface
	engine    *features.Engine
	registry  *detectors.Registry
	scorer    *scoring.Scorer
	gate      *risk.Gate
	throttler *throttle.Throttler
	explainer *explain.Generator
	accounts  *account.Loader
	cal       *marketcal.Calendar

	scans    *storage.ScanRepo
	alerts   *storage.AlertRepo
	featRepo *storage.FeatureRepo
	chains   *storage.ChainRepo

	chainDir string
	log      zerolog.Logger
	now      func() time.Time

	// delay is consulted before each ticker fetch; the scheduler plugs
	// in its adaptive inter-ticker delay here.
	delay func() time.Duration
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Provider  provider.Interface
	Engine    *features.Engine
	Registry  *detectors.Registry
	Scorer    *scoring.Scorer
	Gate      *risk.Gate
	Throttler *throttle.Throttler
	Explainer *explain.Generator
	Accounts  *account.Loader
	Calendar  *marketcal.Calendar
	Scans     *storage.ScanRepo
	Alerts    *storage.AlertRepo
	Features  *storage.FeatureRepo
	Chains    *storage.ChainRepo
}

func NewOrchestrator(cfg *config.Config, d Deps, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		provider:  d.Provider,
		engine:    d.Engine,
		registry:  d.Registry,
		scorer:    d.Scorer,
		gate:      d.Gate,
		throttler: d.Throttler,
		explainer: d.Explainer,
		accounts:  d.Accounts,
		cal:       d.Calendar,
		scans:     d.Scans,
		alerts:    d.Alerts,
		featRepo:  d.Features,
		chains:    d.Chains,
		chainDir:  filepath.Join(cfg.DataDir, "historical_data", "chains"),
		log:       log.With().Str("component", "scan").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		delay:     func() time.Duration { return 0 },
	}
}

// SetDelayFunc installs the adaptive inter-ticker delay source.
func (o *Orchestrator) SetDelayFunc(f func() time.Duration) { o.delay = f }

// SetProvider installs the market data provider. The provider is wired
// after construction because its call counter is the scheduler, which
// in turn wraps this orchestrator.
func (o *Orchestrator) SetProvider(p provider.Interface) { o.provider = p }

// SetClock overrides the orchestrator clock, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// tickerOutcome is what one per-ticker worker hands back.
type tickerOutcome struct {
	scanned     bool
	alerts      []*domain.Alert
	warning     string
	rateLimited bool
}

// Run executes one full scan and returns its result. The returned
// error is reserved for failures before the scan row exists; everything
// after is reflected in the scan status.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	started := o.now()

	scanID, err := o.scans.Create(started, o.cfg.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan row: %w", err)
	}
	if err := o.scans.SetStatus(scanID, domain.ScanRunning, ""); err != nil {
		o.log.Error().Err(err).Int64("scan_id", scanID).Msg("failed to mark scan running")
	}

	o.log.Info().
		Int64("scan_id", scanID).
		Int("tickers", len(o.cfg.Scan.Symbols)).
		Str("config_hash", o.cfg.Hash).
		Msg("scan started")

	accountState := o.accounts.Load()

	var mu sync.Mutex
	var pending []*domain.Alert
	result := &Result{ScanID: scanID}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Scan.Fanout)

	for _, ticker := range o.cfg.Scan.Symbols {
		ticker := ticker
		g.Go(func() error {
			if d := o.delay(); d > 0 {
				select {
				case <-time.After(d):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			out := o.scanTicker(gctx, scanID, ticker, accountState)

			mu.Lock()
			defer mu.Unlock()
			if out.scanned {
				result.TickersScanned++
			}
			if out.warning != "" {
				result.Warnings = append(result.Warnings, out.warning)
			}
			if out.rateLimited {
				result.RateLimited = true
			}
			pending = append(pending, out.alerts...)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		o.log.Error().Err(err).Int64("scan_id", scanID).Msg("scan group failed")
	}

	status := domain.ScanCompleted
	errMsg := ""
	if len(pending) > 0 {
		if err := o.alerts.InsertBatch(pending); err != nil {
			status = domain.ScanPartial
			errMsg = err.Error()
			o.log.Error().Err(err).Int64("scan_id", scanID).Msg("alert batch insert failed")
		} else {
			result.AlertsGenerated = len(pending)
		}
	}

	result.Status = status
	result.Runtime = o.now().Sub(started)
	if err := o.scans.Finish(scanID, status, result.TickersScanned, result.AlertsGenerated, result.Runtime, errMsg); err != nil {
		o.log.Error().Err(err).Int64("scan_id", scanID).Msg("failed to finalize scan row")
	}

	o.log.Info().
		Int64("scan_id", scanID).
		Str("status", string(status)).
		Int("tickers_scanned", result.TickersScanned).
		Int("alerts", result.AlertsGenerated).
		Dur("runtime", result.Runtime).
		Msg("scan finished")

	return result, nil
}

// scanTicker runs the per-ticker sub-pipeline. Every failure degrades
// to a warning; nothing here aborts the scan.
func (o *Orchestrator) scanTicker(ctx context.Context, scanID int64, ticker string, accountState *domain.AccountState) tickerOutcome {
	var out tickerOutcome

	snapshot, err := o.fetchWithRetry(ctx, ticker)
	if err != nil {
		if errors.Is(err, provider.ErrRateLimited) {
			out.rateLimited = true
		}
		out.warning = fmt.Sprintf("%s: %v", ticker, err)
		o.log.Warn().Err(err).Str("ticker", ticker).Msg("snapshot failed, skipping ticker")
		return out
	}
	if snapshot == nil {
		out.warning = fmt.Sprintf("%s: no data", ticker)
		return out
	}
	out.scanned = true

	ivWindow, err := o.featRepo.IVWindow(ticker, ivWindowDays)
	if err != nil {
		o.log.Warn().Err(err).Str("ticker", ticker).Msg("iv window unavailable")
	}

	fs := o.engine.Compute(snapshot, o.cfg.Hash, ivWindow)
	o.persistFeatures(scanID, ticker, fs)

	for _, det := range o.registry.Detectors() {
		cand := o.registry.DetectSafe(det, fs)
		if cand == nil {
			continue
		}

		adjusted := o.scorer.ScoreAlert(cand, ticker, fs)
		if adjusted < 60 {
			o.log.Debug().
				Str("ticker", ticker).
				Str("detector", cand.DetectorName).
				Float64("adjusted", adjusted).
				Msg("candidate dropped below floor after scoring")
			continue
		}

		if pass, reason := o.gate.Passes(cand, ticker, fs, accountState); !pass {
			o.log.Info().
				Str("ticker", ticker).
				Str("detector", cand.DetectorName).
				Str("reason", reason).
				Msg("candidate rejected by risk gate")
			continue
		}

		if !o.throttler.ShouldAlert(ticker, cand.DetectorName, adjusted) {
			continue
		}

		cand.Explanation = o.explainer.Generate(cand, ticker, fs)

		alert := &domain.Alert{
			ScanID:        scanID,
			Ticker:        ticker,
			Candidate:     *cand,
			AdjustedScore: adjusted,
			CreatedAt:     o.now(),
		}
		out.alerts = append(out.alerts, alert)

		// Cooldown and daily count update immediately so a second
		// candidate in the same scan sees them.
		o.throttler.RecordAlert(ticker, cand.DetectorName, adjusted, 0)
	}

	o.persistChains(scanID, snapshot)
	return out
}

// fetchWithRetry retries transient snapshot failures with exponential
// delay. Permanent failures, open breakers and rate limits surface
// immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, ticker string) (*domain.MarketSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			o.log.Debug().
				Str("ticker", ticker).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying snapshot")
		}

		snapshot, err := o.provider.GetFullSnapshot(ctx, ticker)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err

		if errors.Is(err, provider.ErrRateLimited) ||
			errors.Is(err, breaker.ErrCircuitOpen) ||
			!provider.IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (o *Orchestrator) persistFeatures(scanID int64, ticker string, fs *features.FeatureSet) {
	payload, err := fs.ToJSON()
	if err != nil {
		o.log.Error().Err(err).Str("ticker", ticker).Msg("feature serialization failed")
		return
	}
	if _, err := o.featRepo.Insert(scanID, ticker, payload, fs.OptionsFront.ATMIV, fs.Timestamp); err != nil {
		o.log.Error().Err(err).Str("ticker", ticker).Msg("feature persist failed")
	}
}

// persistChains stores one ChainSnapshot per expiration and writes the
// per-ticker JSON archive for the day.
func (o *Orchestrator) persistChains(scanID int64, snapshot *domain.MarketSnapshot) {
	if len(snapshot.OptionsChains) == 0 {
		return
	}

	snapshotDate := o.cal.ETDate(snapshot.Timestamp)
	filePath, err := o.writeChainArchive(snapshot, snapshotDate)
	if err != nil {
		o.log.Warn().Err(err).Str("ticker", snapshot.Ticker).Msg("chain archive write failed")
	}

	for _, exp := range snapshot.SortedExpirations() {
		chain := snapshot.OptionsChains[exp]

		chainJSON, err := json.Marshal(chain)
		if err != nil {
			o.log.Error().Err(err).Str("ticker", snapshot.Ticker).Msg("chain serialization failed")
			continue
		}

		var totalVol, totalOI int64
		for _, c := range chain.Calls {
			totalVol += c.Volume
			totalOI += c.OpenInterest
		}
		for _, p := range chain.Puts {
			totalVol += p.Volume
			totalOI += p.OpenInterest
		}

		cs := &domain.ChainSnapshot{
			ScanID:          scanID,
			Ticker:          snapshot.Ticker,
			SnapshotDate:    snapshotDate,
			Expiration:      exp,
			DTE:             chain.DTE(snapshot.Timestamp),
			UnderlyingPrice: snapshot.SpotPrice,
			ChainJSON:       string(chainJSON),
			NumCalls:        len(chain.Calls),
			NumPuts:         len(chain.Puts),
			ATMIV:           features.ChainATMIV(chain, snapshot.SpotPrice),
			TotalVolume:     totalVol,
			TotalOI:         totalOI,
			FilePath:        filePath,
			CreatedAt:       o.now(),
		}
		if _, err := o.chains.Upsert(cs); err != nil {
			o.log.Error().Err(err).Str("ticker", snapshot.Ticker).Str("expiration", exp).Msg("chain persist failed")
		}
	}
}

// writeChainArchive writes historical_data/chains/YYYY-MM-DD/<TICKER>_chains.json.
func (o *Orchestrator) writeChainArchive(snapshot *domain.MarketSnapshot, snapshotDate string) (string, error) {
	dir := filepath.Join(o.chainDir, snapshotDate)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, snapshot.Ticker+"_chains.json")

	data, err := json.MarshalIndent(snapshot.OptionsChains, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
