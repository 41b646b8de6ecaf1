package domain

import "time"

// Confidence bands a detector's conviction in a candidate.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// AlertCandidate is a detector hit before portfolio adjustment.
// Detectors never emit candidates below a score of 60; anything under
// the floor is suppressed at the source.
type AlertCandidate struct {
	DetectorName string             `json:"detector_name"`
	Score        float64            `json:"score"`
	Metrics      map[string]float64 `json:"metrics"`
	Explanation  map[string]string  `json:"explanation"`
	Strategies   []string           `json:"strategies"`
	Confidence   Confidence         `json:"confidence"`
}

// Alert is a persisted candidate tied to a scan.
type Alert struct {
	ID            int64          `json:"id"`
	ScanID        int64          `json:"scan_id"`
	Ticker        string         `json:"ticker"`
	Candidate     AlertCandidate `json:"alert_data"`
	AdjustedScore float64        `json:"adjusted_score"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ScanStatus tracks a scan's lifecycle. Transitions are linear and
// never move backward.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanPartial   ScanStatus = "partial"
)

// Scan is one pass of the orchestrator over the watchlist.
type Scan struct {
	ID              int64      `json:"id"`
	ScanTS          time.Time  `json:"scan_ts"`
	ConfigHash      string     `json:"config_hash"`
	Status          ScanStatus `json:"status"`
	TickersScanned  int        `json:"tickers_scanned"`
	AlertsGenerated int        `json:"alerts_generated"`
	RuntimeSeconds  float64    `json:"runtime_seconds"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// Cooldown records the last alert emitted for a ticker.
type Cooldown struct {
	Ticker      string    `json:"ticker"`
	LastAlertTS time.Time `json:"last_alert_ts"`
	LastScore   float64   `json:"last_score"`
}

// ChainSnapshot is one persisted options chain, unique per
// (ticker, snapshot date, expiration).
type ChainSnapshot struct {
	ID              int64     `json:"id"`
	ScanID          int64     `json:"scan_id"`
	Ticker          string    `json:"ticker"`
	SnapshotDate    string    `json:"snapshot_date"` // ET calendar date
	Expiration      string    `json:"expiration"`
	DTE             int       `json:"dte"`
	UnderlyingPrice float64   `json:"underlying_price"`
	ChainJSON       string    `json:"-"`
	NumCalls        int       `json:"num_calls"`
	NumPuts         int       `json:"num_puts"`
	ATMIV           *float64  `json:"atm_iv,omitempty"`
	TotalVolume     int64     `json:"total_volume"`
	TotalOI         int64     `json:"total_oi"`
	FilePath        string    `json:"file_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
