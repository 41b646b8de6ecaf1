package detectors

import (
	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/features"
)

// RichPremium flags tickers whose implied volatility sits near the top
// of its range, where selling premium is historically well paid.
type RichPremium struct {
	threshold float64
	log       zerolog.Logger
}

func NewRichPremium(cfg *config.Config, log zerolog.Logger) *RichPremium {
	return &RichPremium{
		threshold: cfg.DetectorThreshold("rich_premium", "iv_percentile", 75),
		log:       log,
	}
}

func (d *RichPremium) Name() string        { return "RichPremium" }
func (d *RichPremium) ConfigKey() string   { return "rich_premium" }
func (d *RichPremium) Description() string { return "implied volatility near the top of its range" }

func (d *RichPremium) Detect(fs *features.FeatureSet) *domain.AlertCandidate {
	ivp := fs.IVMetrics.IVPercentile
	if ivp == nil || *ivp < d.threshold {
		return nil
	}

	sc := newScorecard(d.log, d.Name(), fs.Ticker, *ivp)

	if rank := fs.IVMetrics.IVRank; rank != nil && *rank > 80 {
		sc.apply("iv_rank_extreme", 15)
	}
	if fs.Price != nil && fs.Technicals.SMA200 != nil && *fs.Price > *fs.Technicals.SMA200 {
		sc.apply("above_sma200", 10)
	}
	front, back := fs.OptionsFront.ATMIV, fs.OptionsBack.ATMIV
	if front != nil && back != nil && *back > *front {
		sc.apply("contango", 5)
	}
	if fs.Liquidity.ATMVolume != nil && fs.Technicals.VolumeSMA20 != nil &&
		float64(*fs.Liquidity.ATMVolume) < 0.2**fs.Technicals.VolumeSMA20 {
		sc.apply("thin_atm_volume", -10)
	}

	score := sc.final()
	if score < scoreFloor {
		return nil
	}

	confidence := domain.ConfidenceLow
	switch {
	case *ivp >= 85:
		confidence = domain.ConfidenceHigh
	case *ivp >= 75:
		confidence = domain.ConfidenceMedium
	}

	metrics := map[string]float64{
		"iv_percentile": *ivp,
		"base_score":    sc.base,
	}
	if fs.IVMetrics.IVRank != nil {
		metrics["iv_rank"] = *fs.IVMetrics.IVRank
	}
	if front != nil {
		metrics["atm_iv"] = *front
	}

	return &domain.AlertCandidate{
		DetectorName: d.Name(),
		Score:        score,
		Metrics:      metrics,
		Explanation:  map[string]string{},
		Strategies: []string{
			domain.StrategyCashSecuredPut,
			domain.StrategyCoveredCall,
			domain.StrategyIronCondor,
			domain.StrategyBullPutSpread,
		},
		Confidence: confidence,
	}
}
