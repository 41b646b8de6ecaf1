// Package main is the entry point for the IV scanner: a scheduled
// options screener that snapshots market data, computes per-ticker
// features, runs the pattern detectors and persists the surviving
// alerts.
//
// Startup order matters: logging, store, provider, cache and breakers,
// then the scheduler. Everything is wired here and passed down
// explicitly; there are no package-level singletons.
package main

import (
	"context"
	"flag"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"ivscan/internal/account"
	"ivscan/internal/breaker"
	"ivscan/internal/cache"
	"ivscan/internal/config"
	"ivscan/internal/detectors"
	"ivscan/internal/explain"
	"ivscan/internal/export"
	"ivscan/internal/features"
	"ivscan/internal/marketcal"
	"ivscan/internal/provider"
	"ivscan/internal/risk"
	"ivscan/internal/scan"
	"ivscan/internal/scheduler"
	"ivscan/internal/scoring"
	"ivscan/internal/server"
	"ivscan/internal/storage"
	"ivscan/internal/thesis"
	"ivscan/internal/throttle"
	"ivscan/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	scanOnce := flag.Bool("once", false, "run a single scan and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().
		Bool("demo_mode", cfg.DemoMode).
		Int("watchlist", len(cfg.Scan.Symbols)).
		Str("config_hash", cfg.Hash).
		Msg("Starting IV scanner")

	// Market calendar; a holidays file overrides the built-in set.
	var cal *marketcal.Calendar
	if cfg.HolidaysFile != "" {
		cal, err = marketcal.NewFromFile(cfg.HolidaysFile)
	} else {
		cal, err = marketcal.New()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize market calendar")
	}

	// Store
	db, err := storage.Open(storage.Config{
		Path:     filepath.Join(cfg.DataDir, "cache.db"),
		MaxConns: cfg.Scan.Fanout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(log); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	conn := db.Conn()
	scans := storage.NewScanRepo(conn, log)
	alerts := storage.NewAlertRepo(conn, log)
	featRepo := storage.NewFeatureRepo(conn, log)
	chains := storage.NewChainRepo(conn, log)
	cooldowns := storage.NewCooldownRepo(conn, log)
	dailyCounts := storage.NewDailyCountRepo(conn, log)
	transactions := storage.NewTransactionRepo(conn, log)
	schedRepo := storage.NewSchedulerStateRepo(conn, log)

	// Cache and breakers are process-wide and shared by every worker.
	dataCache := cache.New(64*1024*1024, log)
	breakers := breaker.NewRegistry(breaker.DefaultSettings(), log)

	// Pipeline components
	engine := features.NewEngine(cfg.RiskFreeRate, cal, log)
	registry := detectors.NewRegistry(cfg, log)
	theses := thesis.Load(cfg.Theses)
	scorer := scoring.New(cfg, theses, log)
	gate := risk.NewGate(cfg, log)
	throttler := throttle.New(cfg, cooldowns, dailyCounts, cal, log)
	explainer := explain.New()
	accounts := account.NewLoader(cfg, transactions, log)

	exporter := export.New(
		filepath.Join(cfg.DataDir, "exports"),
		alerts, chains, scans, featRepo, log,
	)

	orch := scan.NewOrchestrator(cfg, scan.Deps{
		Engine:    engine,
		Registry:  registry,
		Scorer:    scorer,
		Gate:      gate,
		Throttler: throttler,
		Explainer: explainer,
		Accounts:  accounts,
		Calendar:  cal,
		Scans:     scans,
		Alerts:    alerts,
		Features:  featRepo,
		Chains:    chains,
	}, log)

	sched, err := scheduler.NewEngine(cfg, cal, orch, exporter, breakers, schedRepo, scans, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}

	// Provider: synthetic in demo mode, HTTP otherwise, both behind the
	// caching decorator that feeds the breakers and the call budget.
	var upstream provider.Interface
	if cfg.DemoMode {
		upstream = provider.NewDemo()
		log.Info().Msg("Demo mode: using synthetic market data")
	} else {
		upstream = provider.NewHTTP(provider.HTTPConfig{
			BaseURL: cfg.Provider.BaseURL,
			APIKey:  cfg.Provider.APIKey,
			Timeout: time.Duration(cfg.Provider.TimeoutSec) * time.Second,
		}, log)
	}
	cached := provider.NewCached(upstream, dataCache, breakers, sched, log)
	if cfg.CacheTTLMinutes > 0 {
		cached.HistoryTTL = time.Duration(cfg.CacheTTLMinutes) * time.Minute
	}
	if cfg.IntradayCacheTTLMinutes > 0 {
		cached.IntradayTTL = time.Duration(cfg.IntradayCacheTTLMinutes) * time.Minute
	}
	orch.SetProvider(cached)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scans run on their own context so a shutdown signal does not
	// abort an in-flight collection before the grace window has passed.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if *scanOnce {
		result, err := orch.Run(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Scan failed")
		}
		if run := exporter.Run(); !run.OK() {
			log.Warn().Interface("errors", run.Errors).Msg("Export had failures")
		}
		log.Info().
			Int64("scan_id", result.ScanID).
			Str("status", string(result.Status)).
			Int("alerts", result.AlertsGenerated).
			Msg("Single scan complete")
		return
	}

	// Status server
	srv := server.New(cfg, server.Deps{
		DB:       db,
		Cache:    dataCache,
		Breakers: breakers,
		Sched:    sched,
		Alerts:   alerts,
		Scans:    scans,
	}, log)
	if cfg.Server.Enabled {
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("Status server stopped")
			}
		}()
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(runCtx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Scheduler stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	grace := time.Duration(cfg.Scheduler.ShutdownGraceSec) * time.Second
	if !sched.AwaitQuiescence(grace) {
		log.Warn().Msg("In-flight collection did not finish within grace period")
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Scheduler did not stop within grace period")
	}

	if cfg.Server.Enabled {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown failed")
		}
	}

	// one final flush so consumers see the last scan
	if run := exporter.Run(); !run.OK() {
		log.Warn().Interface("errors", run.Errors).Msg("Final export had failures")
	}

	if err := db.WALCheckpoint("TRUNCATE"); err != nil {
		log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	log.Info().Msg("Shutdown complete")
}
