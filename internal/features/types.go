// Package features turns a market snapshot into the feature vector the
// detectors consume. Compute is a pure function: equal snapshots yield
// byte-identical feature sets.
package features

import (
	"encoding/json"
	"math"
	"time"
)

// FeatureSet is the per-ticker feature vector. Every numeric subfield
// is optional: a nil pointer means the value could not be computed and
// serializes as JSON null, never as a sentinel number.
type FeatureSet struct {
	Ticker     string    `json:"ticker"`
	Timestamp  time.Time `json:"timestamp"`
	ConfigHash string    `json:"config_hash"`

	Price        *float64         `json:"price"`
	Technicals   TechnicalsGroup  `json:"technicals"`
	Volatility   VolatilityGroup  `json:"volatility"`
	IVMetrics    IVMetricsGroup   `json:"iv_metrics"`
	OptionsFront OptionsSideGroup `json:"options_front"`
	OptionsBack  OptionsSideGroup `json:"options_back"`
	Earnings     EarningsGroup    `json:"earnings"`
	Liquidity    LiquidityGroup   `json:"liquidity"`
}

// TechnicalsGroup holds indicator outputs over the price history.
type TechnicalsGroup struct {
	SMA20         *float64 `json:"sma_20"`
	SMA50         *float64 `json:"sma_50"`
	SMA200        *float64 `json:"sma_200"`
	EMA9          *float64 `json:"ema_9"`
	EMA21         *float64 `json:"ema_21"`
	RSI14         *float64 `json:"rsi_14"`
	MACD          *float64 `json:"macd"`
	MACDSignal    *float64 `json:"macd_signal"`
	MACDHistogram *float64 `json:"macd_histogram"`
	FibLevels     []float64 `json:"fib_levels,omitempty"`
	VolumeSMA20   *float64 `json:"volume_sma_20"`
	CurrentVolume *float64 `json:"current_volume"`
	Support20     *float64 `json:"support_20"`
	Resistance20  *float64 `json:"resistance_20"`
	High52W       *float64 `json:"high_52w"`
	Low52W        *float64 `json:"low_52w"`
}

// VolatilityGroup holds realized volatility estimators.
type VolatilityGroup struct {
	HV20        *float64 `json:"hv_20"`
	HV60        *float64 `json:"hv_60"`
	Parkinson   *float64 `json:"parkinson"`
	GarmanKlass *float64 `json:"garman_klass"`
	Expanding   *bool    `json:"expanding"`
	VolTrend    *string  `json:"vol_trend"` // increasing | decreasing | flat
}

// IVMetricsGroup positions current implied volatility against its own
// history and against realized volatility.
type IVMetricsGroup struct {
	IVPercentile       *float64 `json:"iv_percentile"`
	IVRank             *float64 `json:"iv_rank"`
	TermStructureRatio *float64 `json:"term_structure_ratio"`
	IVvsHV             *float64 `json:"iv_vs_hv"`
}

// OptionsSideGroup summarizes one expiration (front or back month).
type OptionsSideGroup struct {
	Expiration   *string  `json:"expiration"`
	DTE          *int     `json:"dte"`
	ATMIV        *float64 `json:"atm_iv"`
	Skew25Delta  *float64 `json:"skew_25d"`
	OpenInterest *int64   `json:"oi"`
	CallVolume   *int64   `json:"call_volume"`
	PutVolume    *int64   `json:"put_volume"`
}

// EarningsGroup carries the earnings calendar context.
type EarningsGroup struct {
	DaysToEarnings   *int    `json:"days_to_earnings"`
	NextEarningsDate *string `json:"next_earnings_date"`
}

// LiquidityGroup measures tradability at the money.
type LiquidityGroup struct {
	SpreadPct *float64 `json:"spread_pct"`
	ATMVolume *int64   `json:"atm_volume"`
}

// ToJSON serializes the feature set with native JSON types only, nil
// pointers emitting null.
func (f *FeatureSet) ToJSON() (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// fptr returns a pointer to v, coercing NaN and Inf to absent.
func fptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func iptr(v int) *int       { return &v }
func i64ptr(v int64) *int64 { return &v }
func sptr(v string) *string { return &v }
func bptr(v bool) *bool     { return &v }
