// Package detectors holds the pattern detectors that turn a feature set
// into alert candidates. Detectors are pure with respect to external
// state: they read only the feature set and their own configuration
// subtree.
package detectors

import (
	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/features"
)

// scoreFloor is the minimum score a detector may emit. Candidates below
// it are suppressed at the source.
const scoreFloor = 60

// Detector is one pattern detector. Detect returns nil when the pattern
// is not present or required inputs are absent.
type Detector interface {
	Name() string
	Description() string
	ConfigKey() string
	Detect(fs *features.FeatureSet) *domain.AlertCandidate
}

// Registry is the static ordered list of enabled detectors.
type Registry struct {
	detectors []Detector
	log       zerolog.Logger
}

// NewRegistry builds the detector list in declaration order, skipping
// detectors disabled in config.
func NewRegistry(cfg *config.Config, log zerolog.Logger) *Registry {
	log = log.With().Str("component", "detectors").Logger()

	all := []Detector{
		NewLowIV(cfg, log),
		NewRichPremium(cfg, log),
		NewEarningsCrush(cfg, log),
		NewTermKink(cfg, log),
		NewSkewAnomaly(cfg, log),
		NewRegimeShift(cfg, log),
	}

	r := &Registry{log: log}
	for _, d := range all {
		if !cfg.DetectorEnabled(d.ConfigKey()) {
			log.Info().Str("detector", d.Name()).Msg("detector disabled")
			continue
		}
		r.detectors = append(r.detectors, d)
	}
	return r
}

// Detectors returns the enabled detectors in declaration order.
func (r *Registry) Detectors() []Detector {
	return r.detectors
}

// DetectSafe runs a detector, converting any panic into an absent
// result so a broken detector never aborts a scan.
func (r *Registry) DetectSafe(d Detector, fs *features.FeatureSet) (cand *domain.AlertCandidate) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("detector", d.Name()).
				Str("ticker", fs.Ticker).
				Interface("panic", rec).
				Msg("detector failure, skipping")
			cand = nil
		}
	}()
	return d.Detect(fs)
}

// scorecard accumulates a base score and named additive modifiers, and
// logs each modifier as it is applied.
type scorecard struct {
	log      zerolog.Logger
	detector string
	ticker   string
	base     float64
	total    float64
}

func newScorecard(log zerolog.Logger, detector, ticker string, base float64) *scorecard {
	return &scorecard{log: log, detector: detector, ticker: ticker, base: base, total: base}
}

func (s *scorecard) apply(name string, delta float64) {
	s.total += delta
	s.log.Debug().
		Str("detector", s.detector).
		Str("ticker", s.ticker).
		Str("modifier", name).
		Float64("delta", delta).
		Float64("running_score", s.total).
		Msg("modifier applied")
}

// final clamps the running score to [0,100].
func (s *scorecard) final() float64 {
	return clamp(s.total, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// withinPct reports whether v lies within pct (fractional) of ref.
func withinPct(v, ref, pct float64) bool {
	if ref == 0 {
		return false
	}
	d := (v - ref) / ref
	if d < 0 {
		d = -d
	}
	return d <= pct
}
