package detectors

import (
	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/features"
)

// LowIV flags tickers whose implied volatility sits unusually low in
// its trailing window, where long premium is historically cheap.
type LowIV struct {
	threshold float64
	log       zerolog.Logger
}

func NewLowIV(cfg *config.Config, log zerolog.Logger) *LowIV {
	return &LowIV{
		threshold: cfg.DetectorThreshold("low_iv", "iv_percentile", 25),
		log:       log,
	}
}

func (d *LowIV) Name() string        { return "LowIV" }
func (d *LowIV) ConfigKey() string   { return "low_iv" }
func (d *LowIV) Description() string { return "implied volatility near the bottom of its range" }

func (d *LowIV) Detect(fs *features.FeatureSet) *domain.AlertCandidate {
	ivp := fs.IVMetrics.IVPercentile
	if ivp == nil || *ivp >= d.threshold {
		return nil
	}

	sc := newScorecard(d.log, d.Name(), fs.Ticker, 100-*ivp)

	if fs.Volatility.Expanding != nil && *fs.Volatility.Expanding {
		sc.apply("vol_expanding", -15)
	}
	if rsi := fs.Technicals.RSI14; rsi != nil && *rsi < 30 {
		sc.apply("rsi_oversold", 10)
	}
	if fs.Price != nil && fs.Technicals.Support20 != nil &&
		withinPct(*fs.Price, *fs.Technicals.Support20, 0.05) {
		sc.apply("near_support", 5)
	}

	score := sc.final()
	if score < scoreFloor {
		return nil
	}

	confidence := domain.ConfidenceLow
	switch {
	case *ivp < 15:
		confidence = domain.ConfidenceHigh
	case *ivp < 30:
		confidence = domain.ConfidenceMedium
	}

	metrics := map[string]float64{
		"iv_percentile": *ivp,
		"base_score":    sc.base,
	}
	if fs.IVMetrics.IVRank != nil {
		metrics["iv_rank"] = *fs.IVMetrics.IVRank
	}
	if fs.OptionsFront.ATMIV != nil {
		metrics["atm_iv"] = *fs.OptionsFront.ATMIV
	}

	return &domain.AlertCandidate{
		DetectorName: d.Name(),
		Score:        score,
		Metrics:      metrics,
		Explanation:  map[string]string{},
		Strategies: []string{
			domain.StrategyLongStraddle,
			domain.StrategyCalendarSpread,
			domain.StrategyBullCallSpread,
		},
		Confidence: confidence,
	}
}
