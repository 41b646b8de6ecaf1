package detectors

import (
	"fmt"

	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/features"
)

// EarningsCrush flags elevated implied volatility into a near-term
// earnings date, where IV typically collapses after the report.
type EarningsCrush struct {
	threshold float64
	log       zerolog.Logger
}

func NewEarningsCrush(cfg *config.Config, log zerolog.Logger) *EarningsCrush {
	return &EarningsCrush{
		threshold: cfg.DetectorThreshold("earnings_crush", "iv_percentile", 60),
		log:       log,
	}
}

func (d *EarningsCrush) Name() string      { return "EarningsCrush" }
func (d *EarningsCrush) ConfigKey() string { return "earnings_crush" }
func (d *EarningsCrush) Description() string {
	return "elevated implied volatility into an earnings report"
}

func (d *EarningsCrush) Detect(fs *features.FeatureSet) *domain.AlertCandidate {
	days := fs.Earnings.DaysToEarnings
	ivp := fs.IVMetrics.IVPercentile
	if days == nil || ivp == nil {
		return nil
	}
	if *days <= 0 || *days > 14 || *ivp < d.threshold {
		return nil
	}

	var base float64
	switch {
	case *days <= 3:
		base = 95
	case *days <= 7:
		base = 85
	default:
		base = 70
	}

	sc := newScorecard(d.log, d.Name(), fs.Ticker, base)

	if rank := fs.IVMetrics.IVRank; rank != nil && *rank > 75 {
		sc.apply("iv_rank_elevated", 10)
	}
	if iv := fs.OptionsFront.ATMIV; iv != nil && *iv > 0.60 {
		sc.apply("atm_iv_extreme", 5)
	}
	if fs.Price != nil && fs.Technicals.High52W != nil &&
		*fs.Price >= 0.95**fs.Technicals.High52W {
		sc.apply("near_52w_high", -15)
	}

	score := sc.final()
	if score < scoreFloor {
		return nil
	}

	confidence := domain.ConfidenceMedium
	if *days <= 7 {
		confidence = domain.ConfidenceHigh
	}

	metrics := map[string]float64{
		"days_to_earnings": float64(*days),
		"iv_percentile":    *ivp,
		"base_score":       base,
	}
	if fs.OptionsFront.ATMIV != nil {
		metrics["atm_iv"] = *fs.OptionsFront.ATMIV
	}

	return &domain.AlertCandidate{
		DetectorName: d.Name(),
		Score:        score,
		Metrics:      metrics,
		Explanation: map[string]string{
			"warning": d.warning(*days),
		},
		Strategies: []string{
			domain.StrategyIronCondor,
			domain.StrategyBullPutSpread,
			domain.StrategyBearCallSpread,
		},
		Confidence: confidence,
	}
}

// warning escalates with proximity to the report.
func (d *EarningsCrush) warning(days int) string {
	switch {
	case days <= 3:
		return fmt.Sprintf("CRITICAL: earnings in %d day(s), expect a sharp IV crush and large gap risk", days)
	case days <= 7:
		return fmt.Sprintf("WARNING: earnings in %d days, IV crush likely within the week", days)
	default:
		return fmt.Sprintf("CAUTION: earnings in %d days, position sizing should account for the event", days)
	}
}
