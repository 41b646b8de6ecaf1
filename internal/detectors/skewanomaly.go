package detectors

import (
	"math"

	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/features"
)

// Skew directions.
const (
	DirectionPutSkew  = "PUT_SKEW"
	DirectionCallSkew = "CALL_SKEW"
)

// SkewAnomaly flags an extreme 25-delta put/call skew on the front
// month, a sign of one-sided positioning.
type SkewAnomaly struct {
	normalBand   float64
	minDeviation float64
	log          zerolog.Logger
}

func NewSkewAnomaly(cfg *config.Config, log zerolog.Logger) *SkewAnomaly {
	return &SkewAnomaly{
		normalBand:   cfg.DetectorThreshold("skew_anomaly", "normal_band", 0.10),
		minDeviation: cfg.DetectorThreshold("skew_anomaly", "min_deviation", 0.15),
		log:          log,
	}
}

func (d *SkewAnomaly) Name() string        { return "SkewAnomaly" }
func (d *SkewAnomaly) ConfigKey() string   { return "skew_anomaly" }
func (d *SkewAnomaly) Description() string { return "extreme 25-delta skew on the front month" }

func (d *SkewAnomaly) Detect(fs *features.FeatureSet) *domain.AlertCandidate {
	skewPtr := fs.OptionsFront.Skew25Delta
	if skewPtr == nil {
		return nil
	}
	skew := *skewPtr

	if skew >= -d.normalBand && skew <= d.normalBand {
		return nil
	}
	var deviation float64
	if skew > 0 {
		deviation = skew - d.normalBand
	} else {
		deviation = skew + d.normalBand
	}
	if math.Abs(deviation) < d.minDeviation {
		return nil
	}

	direction := DirectionCallSkew
	if skew > 0 {
		direction = DirectionPutSkew
	}

	base := clamp(math.Abs(deviation)/d.minDeviation*100, 0, 100)
	sc := newScorecard(d.log, d.Name(), fs.Ticker, base)

	if fs.Price != nil && nearAnyFib(*fs.Price, fs.Technicals.FibLevels) {
		sc.apply("near_fib_level", 15)
	}
	if rsi := fs.Technicals.RSI14; rsi != nil && (*rsi > 70 || *rsi < 30) {
		sc.apply("rsi_extreme", 20)
	}
	dominantVol := fs.OptionsFront.CallVolume
	if direction == DirectionPutSkew {
		dominantVol = fs.OptionsFront.PutVolume
	}
	if dominantVol != nil && fs.Technicals.VolumeSMA20 != nil &&
		float64(*dominantVol) > 1.5**fs.Technicals.VolumeSMA20 {
		sc.apply("dominant_side_volume", 10)
	}

	score := sc.final()
	if score < scoreFloor {
		return nil
	}

	absSkew := math.Abs(skew)
	confidence := domain.ConfidenceLow
	switch {
	case absSkew > 0.25:
		confidence = domain.ConfidenceHigh
	case absSkew > 0.15:
		confidence = domain.ConfidenceMedium
	}

	strategies := []string{domain.StrategyBullPutSpread}
	if direction == DirectionPutSkew {
		strategies = []string{domain.StrategyBearCallSpread}
	}

	return &domain.AlertCandidate{
		DetectorName: d.Name(),
		Score:        score,
		Metrics: map[string]float64{
			"skew_25d":   skew,
			"deviation":  deviation,
			"base_score": base,
		},
		Explanation: map[string]string{
			"direction": direction,
		},
		Strategies: strategies,
		Confidence: confidence,
	}
}

// nearAnyFib reports whether the price is within 2% of any retracement
// level.
func nearAnyFib(price float64, levels []float64) bool {
	for _, lvl := range levels {
		if withinPct(price, lvl, 0.02) {
			return true
		}
	}
	return false
}
