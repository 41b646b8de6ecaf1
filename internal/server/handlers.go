package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

// handleHealth reports process and store health.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := s.db.QuickCheck(r.Context()); err != nil {
		dbStatus = err.Error()
	}

	cpuPct, memPct := systemStats(s)

	status := http.StatusOK
	if dbStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"status":          dbStatus,
		"uptime_seconds":  int(time.Since(s.startedAt).Seconds()),
		"cpu_percent":     cpuPct,
		"memory_percent":  memPct,
		"demo_mode":       s.cfg.DemoMode,
		"scheduler_state": s.sched.State(),
	})
}

// systemStats samples CPU briefly so the endpoint stays fast for
// pollers.
func systemStats(s *Server) (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("cpu stats unavailable")
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("memory stats unavailable")
		return cpuPercent[0], 0
	}
	return cpuPercent[0], memStat.UsedPercent
}

// handleStatus reports scheduler, breaker and cache internals.
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.sched.Snapshot()

	payload := map[string]any{
		"scheduler": map[string]any{
			"state":               state.CurrentState,
			"api_calls_this_hour": state.APICallsThisHour,
			"api_calls_today":     state.APICallsToday,
			"backoff_until":       state.BackoffUntil,
			"backoff_epoch":       state.BackoffEpoch,
			"last_collection_at":  state.LastCollectionAt,
			"state_epoch":         state.StateEpoch,
		},
		"breakers": s.breakers.Snapshots(),
		"cache":    s.cache.Stats(),
		"watchlist_size": len(s.cfg.Scan.Symbols),
	}

	if stats, err := s.db.GetStats(); err == nil {
		payload["database"] = map[string]any{
			"size_bytes":     stats.SizeBytes,
			"wal_size_bytes": stats.WALSizeBytes,
		}
	}

	s.writeJSON(w, http.StatusOK, payload)
}

// handleAlerts lists recent alerts.
// GET /api/alerts?min_score=60&limit=100
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	minScore := queryFloat(r, "min_score", 60)
	limit := queryInt(r, "limit", 100)

	alerts, err := s.alerts.ListRecent(minScore, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("alert list failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// handleScans lists recent scans.
// GET /api/scans?days=7&limit=50
func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	limit := queryInt(r, "limit", 50)

	scans, err := s.scans.ListRecent(days, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("scan list failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(scans),
		"scans": scans,
	})
}

// handleTriggerScan queues a manual scan.
// POST /api/scan/trigger
func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	s.sched.TriggerScanNow()
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "scan queued; budget and breaker gating still apply",
	})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
