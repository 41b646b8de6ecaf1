// Package risk holds the portfolio-level admissibility gate applied to
// scored candidates before emission.
package risk

import (
	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/features"
)

// Gate rejection reasons.
const (
	ReasonMarginGate        = "margin_gate"
	ReasonCashGate          = "cash_gate"
	ReasonConcentrationGate = "concentration_gate"
)

// contractMultiplier is the share count per standard equity option.
const contractMultiplier = 100

// marginRatePct is the notional fraction estimated as margin for one
// short contract. A broker-accurate model would use the exchange's
// strategy-based schedule; this deterministic estimate errs high.
const marginRatePct = 0.20

// Gate checks candidates against account-level limits.
type Gate struct {
	maxConcentrationPct float64
	maxMarginUsagePct   float64
	minCashBufferPct    float64
	log                 zerolog.Logger
}

func NewGate(cfg *config.Config, log zerolog.Logger) *Gate {
	return &Gate{
		maxConcentrationPct: cfg.Risk.MaxConcentrationPct,
		maxMarginUsagePct:   cfg.Risk.MaxMarginUsagePct,
		minCashBufferPct:    cfg.Risk.MinCashBufferPct,
		log:                 log.With().Str("component", "risk").Logger(),
	}
}

// Passes reports whether a candidate clears all gates, and the first
// failed gate's reason when it does not. Sizing is estimated from one
// contract at the spot price.
func (g *Gate) Passes(cand *domain.AlertCandidate, ticker string, fs *features.FeatureSet, account *domain.AccountState) (bool, string) {
	notional := estimateNotional(fs)

	requiredMargin := notional * marginRatePct
	if account.MarginAvailable > 0 &&
		requiredMargin >= account.MarginAvailable*g.maxMarginUsagePct/100 {
		g.logDecision(cand, ticker, false, ReasonMarginGate, requiredMargin, notional, account)
		return false, ReasonMarginGate
	}

	if cashSecured(cand.Strategies) {
		requiredCash := notional
		if account.CashAvailable > 0 &&
			requiredCash >= account.CashAvailable*g.minCashBufferPct/100 {
			g.logDecision(cand, ticker, false, ReasonCashGate, requiredCash, notional, account)
			return false, ReasonCashGate
		}
	}

	if total := account.PortfolioTotal(); total > 0 {
		exposure := account.PositionValue(ticker) + notional
		if exposure/total*100 > g.maxConcentrationPct {
			g.logDecision(cand, ticker, false, ReasonConcentrationGate, exposure, notional, account)
			return false, ReasonConcentrationGate
		}
	}

	g.logDecision(cand, ticker, true, "", 0, notional, account)
	return true, ""
}

// estimateNotional sizes one contract at the spot price. A zero spot
// yields zero and every gate passes trivially.
func estimateNotional(fs *features.FeatureSet) float64 {
	if fs.Price == nil {
		return 0
	}
	return *fs.Price * contractMultiplier
}

func cashSecured(strategies []string) bool {
	for _, s := range strategies {
		if domain.RequiresCashSecurity(s) {
			return true
		}
	}
	return false
}

func (g *Gate) logDecision(cand *domain.AlertCandidate, ticker string, pass bool, reason string, required, notional float64, account *domain.AccountState) {
	evt := g.log.Info().
		Str("ticker", ticker).
		Str("detector", cand.DetectorName).
		Bool("pass", pass).
		Float64("notional", notional).
		Float64("cash_available", account.CashAvailable).
		Float64("margin_available", account.MarginAvailable)
	if !pass {
		evt = evt.Str("gate", reason).Float64("required", required)
	}
	evt.Msg("risk gate decision")
}
