// Package scheduler drives the collection cycle: it decides when scans
// run, enforces the hourly and daily API budgets, and backs off when
// the upstream pushes back. The loop itself is single-threaded; the
// work it starts fans out inside the orchestrator.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"ivscan/internal/breaker"
	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/export"
	"ivscan/internal/marketcal"
	"ivscan/internal/scan"
	"ivscan/internal/storage"
)

// Scheduler states.
const (
	StateIdle       = "IDLE"
	StateWaiting    = "WAITING"
	StateCollecting = "COLLECTING"
	StateFlushing   = "FLUSHING"
	StateBackingOff = "BACKING_OFF"
)

// maxBackoffFactor caps the exponential backoff multiplier.
const maxBackoffFactor = 32

// adaptiveDelayK scales how aggressively the inter-ticker delay grows
// with hourly budget usage. At 100% usage the delay is 3x base.
const adaptiveDelayK = 4.0

// Engine is the scheduler state machine. It also implements
// provider.CallCounter so every real upstream call debits the budget.
type Engine struct {
	cfg      *config.Config
	cal      *marketcal.Calendar
	orch     *scan.Orchestrator
	exporter *export.Exporter
	breakers *breaker.Registry
	repo     *storage.SchedulerStateRepo
	scans    *storage.ScanRepo

	mu        sync.Mutex
	state     *storage.SchedulerState
	schedules []cron.Schedule
	next      time.Time

	triggerCh chan struct{}
	log       zerolog.Logger
	now       func() time.Time
}

func NewEngine(cfg *config.Config, cal *marketcal.Calendar, orch *scan.Orchestrator, exporter *export.Exporter, breakers *breaker.Registry, repo *storage.SchedulerStateRepo, scans *storage.ScanRepo, log zerolog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		cal:       cal,
		orch:      orch,
		exporter:  exporter,
		breakers:  breakers,
		repo:      repo,
		scans:     scans,
		triggerCh: make(chan struct{}, 1),
		log:       log.With().Str("component", "scheduler").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for _, wallclock := range cfg.Scheduler.CollectionTimesET {
		hour, minute, err := config.ParseWallClock(wallclock)
		if err != nil {
			return nil, fmt.Errorf("invalid collection time %q: %w", wallclock, err)
		}
		sched, err := parser.Parse(fmt.Sprintf("%d %d * * MON-FRI", minute, hour))
		if err != nil {
			return nil, fmt.Errorf("failed to build schedule for %q: %w", wallclock, err)
		}
		e.schedules = append(e.schedules, sched)
	}

	orch.SetDelayFunc(e.interTickerDelay)
	return e, nil
}

// SetClock overrides the engine clock, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// State returns the current state name.
func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.CurrentState
}

// Snapshot returns a copy of the persisted state for the status surface.
func (e *Engine) Snapshot() storage.SchedulerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.state
}

// TriggerScanNow requests a collection outside the schedule. It still
// goes through budget and breaker gating on the next loop pass.
func (e *Engine) TriggerScanNow() {
	select {
	case e.triggerCh <- struct{}{}:
		e.log.Info().Msg("manual scan trigger queued")
	default:
	}
}

// AwaitQuiescence blocks until any in-flight collection or flush has
// settled, or grace elapses. It reports whether the engine went quiet
// in time. Shutdown wall-clock, so the injected test clock does not
// apply here.
func (e *Engine) AwaitQuiescence(grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		switch e.State() {
		case StateCollecting, StateFlushing:
		default:
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// RecordCall debits one upstream call from both budget windows.
func (e *Engine) RecordCall(endpoint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshWindowsLocked()
	e.state.APICallsThisHour++
	e.state.APICallsToday++
	e.persistLocked()
}

// Run restores state and drives the loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.restore(); err != nil {
		return err
	}

	interval := time.Duration(e.cfg.Scheduler.CheckIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info().
		Dur("check_interval", interval).
		Strs("collection_times_et", e.cfg.Scheduler.CollectionTimesET).
		Msg("scheduler running")

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("scheduler stopping")
			return ctx.Err()
		case <-e.triggerCh:
			e.tick(ctx, true)
		case <-ticker.C:
			e.tick(ctx, false)
		}
	}
}

// restore loads persisted state and recovers from a crash mid-scan.
func (e *Engine) restore() error {
	st, err := e.repo.Load()
	if err != nil {
		return fmt.Errorf("failed to load scheduler state: %w", err)
	}

	now := e.now()
	if st == nil {
		st = &storage.SchedulerState{
			CurrentState:    StateIdle,
			HourWindowStart: now.Truncate(time.Hour),
			DayWindowStart:  now,
		}
	}

	if st.CurrentState == StateCollecting {
		// A prior invocation died mid-collection.
		if recent, err := e.scans.MostRecent(); err == nil && recent != nil &&
			(recent.Status == domain.ScanRunning || recent.Status == domain.ScanPending) {
			if err := e.scans.SetStatus(recent.ID, domain.ScanFailed, "interrupted"); err != nil {
				e.log.Error().Err(err).Int64("scan_id", recent.ID).Msg("failed to mark interrupted scan")
			} else {
				e.log.Warn().Int64("scan_id", recent.ID).Msg("marked interrupted scan failed")
			}
		}
	}

	e.mu.Lock()
	e.state = st
	if st.CurrentState != StateBackingOff || st.BackoffUntil == nil {
		e.transitionLocked(StateWaiting)
	}
	e.refreshWindowsLocked()
	e.next = e.nextTrigger(now)
	e.persistLocked()
	e.mu.Unlock()

	return nil
}

// tick evaluates one loop pass.
func (e *Engine) tick(ctx context.Context, manual bool) {
	e.mu.Lock()
	e.refreshWindowsLocked()
	now := e.now()

	switch e.state.CurrentState {
	case StateBackingOff:
		if e.state.BackoffUntil != nil && now.Before(*e.state.BackoffUntil) {
			e.mu.Unlock()
			return
		}
		e.state.BackoffUntil = nil
		e.transitionLocked(StateWaiting)
		e.persistLocked()
		e.mu.Unlock()
		return

	case StateWaiting:
		due := manual || (!e.next.IsZero() && !now.Before(e.next))
		if !due {
			e.mu.Unlock()
			return
		}
		if !manual && !e.cal.IsTradingDay(now) {
			e.next = e.nextTrigger(now)
			e.mu.Unlock()
			return
		}
		if !e.budgetAvailableLocked() {
			e.enterBackoffLocked("budget exhausted")
			e.mu.Unlock()
			return
		}
		if e.breakers.AnyOpen() {
			e.enterBackoffLocked("breaker open")
			e.mu.Unlock()
			return
		}
		e.transitionLocked(StateCollecting)
		e.persistLocked()
		e.mu.Unlock()
		e.collect(ctx)
		return

	default:
		e.mu.Unlock()
	}
}

// collect runs one scan, flushes the exporter, and settles back into
// WAITING or BACKING_OFF.
func (e *Engine) collect(ctx context.Context) {
	result, err := e.orch.Run(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.next = e.nextTrigger(now)

	if err != nil {
		e.log.Error().Err(err).Msg("scan failed to start")
		e.enterBackoffLocked("scan start failure")
		return
	}

	e.transitionLocked(StateFlushing)
	e.persistLocked()

	if e.exporter != nil {
		if run := e.exporter.Run(); !run.OK() {
			e.log.Warn().Interface("errors", run.Errors).Msg("export run had failures")
		}
	}

	e.state.LastCollectionAt = &now
	e.state.BufferDepth = 0

	if result.RateLimited {
		e.enterBackoffLocked("rate limited")
		return
	}
	if e.breakers.AnyOpen() {
		e.enterBackoffLocked("breaker open")
		return
	}

	// first healthy collection resets the backoff ladder
	e.state.BackoffEpoch = 0
	e.transitionLocked(StateWaiting)
	e.persistLocked()
}

// enterBackoffLocked computes backoff = base * 2^epoch, capped, and
// transitions to BACKING_OFF.
func (e *Engine) enterBackoffLocked(reason string) {
	base := time.Duration(e.cfg.Scheduler.BackoffBaseSec) * time.Second
	factor := 1 << e.state.BackoffEpoch
	if factor > maxBackoffFactor {
		factor = maxBackoffFactor
	}
	backoff := base * time.Duration(factor)

	until := e.now().Add(backoff)
	e.state.BackoffUntil = &until
	e.state.BackoffEpoch++

	e.log.Warn().
		Str("reason", reason).
		Dur("backoff", backoff).
		Int("epoch", e.state.BackoffEpoch).
		Time("until", until).
		Msg("entering backoff")

	e.transitionLocked(StateBackingOff)
	e.persistLocked()
}

// interTickerDelay returns the base delay, stretched once hourly usage
// crosses 50%.
func (e *Engine) interTickerDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := time.Duration(e.cfg.Scheduler.InterTickerDelayMS) * time.Millisecond
	usage := float64(e.state.APICallsThisHour) / float64(e.cfg.Scheduler.MaxCallsPerHour)
	if usage < 0.5 {
		return base
	}
	multiplier := 1 + (usage-0.5)*adaptiveDelayK
	return time.Duration(float64(base) * multiplier)
}

// budgetAvailableLocked reports whether both windows have headroom.
func (e *Engine) budgetAvailableLocked() bool {
	return e.state.APICallsThisHour < e.cfg.Scheduler.MaxCallsPerHour &&
		e.state.APICallsToday < e.cfg.Scheduler.MaxCallsPerDay
}

// refreshWindowsLocked resets counters on rolling window crossings: the
// hour window on each wall-clock hour, the day window on the ET date.
func (e *Engine) refreshWindowsLocked() {
	now := e.now()

	if now.Sub(e.state.HourWindowStart) >= time.Hour {
		e.state.APICallsThisHour = 0
		e.state.HourWindowStart = now.Truncate(time.Hour)
	}
	if e.cal.ETDate(now) != e.cal.ETDate(e.state.DayWindowStart) {
		e.state.APICallsToday = 0
		e.state.DayWindowStart = now
	}
}

// nextTrigger returns the earliest upcoming collection instant across
// all configured ET wall-clocks.
func (e *Engine) nextTrigger(after time.Time) time.Time {
	var next time.Time
	afterET := e.cal.ToET(after)
	for _, sched := range e.schedules {
		n := sched.Next(afterET)
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	if next.IsZero() {
		return next
	}
	return next.UTC()
}

func (e *Engine) transitionLocked(to string) {
	from := e.state.CurrentState
	if from == to {
		return
	}
	e.state.CurrentState = to
	e.log.Info().
		Str("from", from).
		Str("to", to).
		Int("calls_this_hour", e.state.APICallsThisHour).
		Int("calls_today", e.state.APICallsToday).
		Msg("scheduler transition")
}

func (e *Engine) persistLocked() {
	if err := e.repo.Save(e.state); err != nil {
		e.log.Error().Err(err).Msg("failed to persist scheduler state")
	}
}
