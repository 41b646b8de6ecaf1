package detectors

import (
	"math"

	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/features"
)

// Term structure kinds.
const (
	KindBackwardation = "BACKWARDATION"
	KindSteepContango = "STEEP_CONTANGO"
)

// TermKink flags an abnormal front/back IV term structure: either
// backwardation or unusually steep contango.
type TermKink struct {
	contangoMin float64
	contangoMax float64
	log         zerolog.Logger
}

func NewTermKink(cfg *config.Config, log zerolog.Logger) *TermKink {
	return &TermKink{
		contangoMin: cfg.DetectorThreshold("term_kink", "normal_contango_min", 0.98),
		contangoMax: cfg.DetectorThreshold("term_kink", "normal_contango_max", 1.15),
		log:         log,
	}
}

func (d *TermKink) Name() string        { return "TermKink" }
func (d *TermKink) ConfigKey() string   { return "term_kink" }
func (d *TermKink) Description() string { return "abnormal IV term structure" }

func (d *TermKink) Detect(fs *features.FeatureSet) *domain.AlertCandidate {
	front, back := fs.OptionsFront.ATMIV, fs.OptionsBack.ATMIV
	if front == nil || back == nil || *front == 0 || *back == 0 {
		return nil
	}

	r := *back / *front
	if r >= d.contangoMin && r <= d.contangoMax {
		return nil
	}

	var kind string
	var deviation float64
	if r < d.contangoMin {
		kind = KindBackwardation
		deviation = (d.contangoMin - r) / d.contangoMin
	} else {
		kind = KindSteepContango
		deviation = (r - d.contangoMax) / d.contangoMax
	}

	// A 10% deviation from the bound maps to a base of 100.
	sc := newScorecard(d.log, d.Name(), fs.Ticker, deviation*1000)

	if ivp := fs.IVMetrics.IVPercentile; ivp != nil && *ivp < 30 && kind == KindBackwardation {
		sc.apply("low_iv_backwardation", -20)
	}
	frontOI, backOI := fs.OptionsFront.OpenInterest, fs.OptionsBack.OpenInterest
	if frontOI != nil && backOI != nil && float64(*frontOI) > 1.5*float64(*backOI) {
		sc.apply("front_oi_heavy", 15)
	}
	if skew := fs.OptionsFront.Skew25Delta; skew != nil && math.Abs(*skew) > 0.15 {
		sc.apply("skew_extreme", 10)
	}

	score := sc.final()
	if score < scoreFloor {
		return nil
	}

	confidence := domain.ConfidenceLow
	switch {
	case deviation > 0.20:
		confidence = domain.ConfidenceHigh
	case deviation > 0.10:
		confidence = domain.ConfidenceMedium
	}

	metrics := map[string]float64{
		"term_ratio":    r,
		"iv_front":      *front,
		"iv_back":       *back,
		"deviation_pct": deviation * 100,
		"base_score":    sc.base,
	}

	return &domain.AlertCandidate{
		DetectorName: d.Name(),
		Score:        score,
		Metrics:      metrics,
		Explanation: map[string]string{
			"kind": kind,
		},
		Strategies: []string{domain.StrategyCalendarSpread},
		Confidence: confidence,
	}
}
