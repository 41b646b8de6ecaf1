// Package scoring adjusts detector scores with portfolio-level context
// before the risk gate sees them.
package scoring

import (
	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/features"
	"ivscan/internal/thesis"
)

// Scorer applies contextual adjustments to alert candidates. Each
// adjustment reads a feature subfield; an absent subfield skips the
// adjustment silently.
type Scorer struct {
	theses          *thesis.Book
	minOptionVolume float64
	log             zerolog.Logger
}

func New(cfg *config.Config, book *thesis.Book, log zerolog.Logger) *Scorer {
	return &Scorer{
		theses:          book,
		minOptionVolume: cfg.Scoring.MinOptionVolume,
		log:             log.With().Str("component", "scorer").Logger(),
	}
}

// ScoreAlert returns the adjusted score in [0,100]. Adjustments apply
// in a fixed order: thesis bonus, liquidity penalty, earnings penalty,
// technical bonus, volatility bonus.
func (s *Scorer) ScoreAlert(cand *domain.AlertCandidate, ticker string, fs *features.FeatureSet) float64 {
	score := cand.Score

	apply := func(name string, delta float64) {
		score += delta
		s.log.Debug().
			Str("ticker", ticker).
			Str("detector", cand.DetectorName).
			Str("adjustment", name).
			Float64("delta", delta).
			Float64("running_score", score).
			Msg("score adjusted")
	}

	if s.theses.Has(ticker) {
		apply("thesis_bonus", 20)
	}

	spread := fs.Liquidity.SpreadPct
	atmVol := fs.Liquidity.ATMVolume
	if (spread != nil && *spread > 3) ||
		(atmVol != nil && float64(*atmVol) < s.minOptionVolume) {
		apply("liquidity_penalty", -15)
	}

	if days := fs.Earnings.DaysToEarnings; days != nil && *days >= 0 && *days <= 3 {
		apply("earnings_penalty", -10)
	}

	if hist := fs.Technicals.MACDHistogram; hist != nil && *hist > 0 {
		apply("technical_bonus", 10)
	}

	if trend := fs.Volatility.VolTrend; trend != nil && *trend == "increasing" {
		apply("volatility_bonus", 5)
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
