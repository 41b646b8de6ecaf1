package detectors

import (
	"math"

	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/features"
)

// Regime scenarios.
const (
	RegimeGoldenCross   = "GOLDEN_CROSS_SETUP"
	RegimeDeathCross    = "DEATH_CROSS_SETUP"
	RegimeSupportBounce = "SUPPORT_BOUNCE"
)

// macdEpsilon is the histogram magnitude below which momentum is
// treated as flat.
const macdEpsilon = 0.01

// RegimeShift flags moving-average crossover setups and bounces off the
// 50-day average.
type RegimeShift struct {
	crossGapPct float64
	log         zerolog.Logger
}

func NewRegimeShift(cfg *config.Config, log zerolog.Logger) *RegimeShift {
	return &RegimeShift{
		crossGapPct: cfg.DetectorThreshold("regime_shift", "cross_gap_pct", 0.03),
		log:         log,
	}
}

func (d *RegimeShift) Name() string        { return "RegimeShift" }
func (d *RegimeShift) ConfigKey() string   { return "regime_shift" }
func (d *RegimeShift) Description() string { return "moving-average regime change setup" }

func (d *RegimeShift) Detect(fs *features.FeatureSet) *domain.AlertCandidate {
	sma50, sma200 := fs.Technicals.SMA50, fs.Technicals.SMA200
	if sma50 == nil || sma200 == nil || fs.Price == nil {
		return nil
	}
	spot, s50, s200 := *fs.Price, *sma50, *sma200
	if s50 <= 0 || s200 <= 0 {
		return nil
	}

	crossGap := math.Abs(s50-s200) / s200

	var regime string
	var base float64
	bullish := true
	switch {
	case s50 < s200 && crossGap <= d.crossGapPct && spot > s50:
		regime = RegimeGoldenCross
		base = 60
		if spot > s50 && spot < s200 {
			base = 80
		}
	case s50 > s200 && crossGap <= d.crossGapPct && spot < s50:
		regime = RegimeDeathCross
		bullish = false
		base = 60
		if spot > s200 && spot < s50 {
			base = 80
		}
	case spot >= s50 && (spot-s50)/s50 <= d.crossGapPct:
		regime = RegimeSupportBounce
		base = 70
	default:
		return nil
	}

	sc := newScorecard(d.log, d.Name(), fs.Ticker, base)

	momentum := false
	if hist := fs.Technicals.MACDHistogram; hist != nil && math.Abs(*hist) > macdEpsilon {
		momentum = true
		sc.apply("macd_momentum", 15)
	}
	volume := false
	if fs.Technicals.CurrentVolume != nil && fs.Technicals.VolumeSMA20 != nil &&
		*fs.Technicals.CurrentVolume > 1.2**fs.Technicals.VolumeSMA20 {
		volume = true
		sc.apply("volume_surge", 10)
	}
	if rsi := fs.Technicals.RSI14; rsi != nil && *rsi >= 40 && *rsi <= 60 {
		sc.apply("rsi_neutral", -10)
	}

	score := sc.final()
	if score < scoreFloor {
		return nil
	}

	confidence := domain.ConfidenceLow
	switch {
	case momentum && volume:
		confidence = domain.ConfidenceHigh
	case momentum || volume:
		confidence = domain.ConfidenceMedium
	}

	strategies := []string{domain.StrategyWheel, domain.StrategyCashSecuredPut}
	if !bullish {
		strategies = []string{domain.StrategyCoveredCall}
	}

	metrics := map[string]float64{
		"sma_50":     s50,
		"sma_200":    s200,
		"price":      spot,
		"cross_gap":  crossGap,
		"base_score": base,
	}
	if fs.Technicals.MACDHistogram != nil {
		metrics["macd_histogram"] = *fs.Technicals.MACDHistogram
	}

	return &domain.AlertCandidate{
		DetectorName: d.Name(),
		Score:        score,
		Metrics:      metrics,
		Explanation: map[string]string{
			"regime": regime,
		},
		Strategies: strategies,
		Confidence: confidence,
	}
}
