// Package explain renders alert candidates into human-readable
// explanation dictionaries. Generation is template-driven and
// deterministic; a missing metric omits its sentence rather than
// emitting a placeholder.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"ivscan/internal/domain"
	"ivscan/internal/features"
)

// Generator dispatches on detector name to a per-detector template set.
type Generator struct{}

func New() *Generator { return &Generator{} }

// Generate returns the enriched explanation for a candidate. Entries
// already present on the candidate (detector-provided warnings and
// labels) are preserved.
func (g *Generator) Generate(cand *domain.AlertCandidate, ticker string, fs *features.FeatureSet) map[string]string {
	out := make(map[string]string, len(cand.Explanation)+8)
	for k, v := range cand.Explanation {
		out[k] = v
	}

	switch cand.DetectorName {
	case "LowIV":
		g.lowIV(out, cand, ticker)
	case "RichPremium":
		g.richPremium(out, cand, ticker)
	case "EarningsCrush":
		g.earningsCrush(out, cand, ticker)
	case "TermKink":
		g.termKink(out, cand, ticker)
	case "SkewAnomaly":
		g.skewAnomaly(out, cand, ticker)
	case "RegimeShift":
		g.regimeShift(out, cand, ticker)
	default:
		g.generic(out, cand, ticker)
	}

	if _, ok := out["summary"]; !ok {
		out["summary"] = fmt.Sprintf("%s signal on %s (score %.0f, %s confidence)",
			cand.DetectorName, ticker, cand.Score, cand.Confidence)
	}
	return out
}

func (g *Generator) lowIV(out map[string]string, cand *domain.AlertCandidate, ticker string) {
	if ivp, ok := cand.Metrics["iv_percentile"]; ok {
		out["summary"] = fmt.Sprintf("%s implied volatility is in the %.0fth percentile of its trailing range", ticker, ivp)
		out["reason"] = fmt.Sprintf("IV percentile %.1f is near the bottom of the window, making long premium historically cheap", ivp)
		out["trigger"] = fmt.Sprintf("iv_percentile %.1f below the low-IV threshold", ivp)
	}
	out["opportunity"] = "long volatility structures are cheap relative to this ticker's own history"
	out["timeframe"] = "position before the next volatility expansion; typically weeks"
	out["risk_factors"] = "IV can stay depressed for extended periods; time decay works against long premium"
}

func (g *Generator) richPremium(out map[string]string, cand *domain.AlertCandidate, ticker string) {
	if ivp, ok := cand.Metrics["iv_percentile"]; ok {
		out["summary"] = fmt.Sprintf("%s implied volatility is in the %.0fth percentile of its trailing range", ticker, ivp)
		out["reason"] = fmt.Sprintf("IV percentile %.1f is near the top of the window, so sold premium collects an elevated credit", ivp)
		out["trigger"] = fmt.Sprintf("iv_percentile %.1f above the rich-premium threshold", ivp)
	}
	if rank, ok := cand.Metrics["iv_rank"]; ok {
		out["opportunity"] = fmt.Sprintf("IV rank %.0f leaves room for mean reversion in the seller's favor", rank)
	}
	out["timeframe"] = "30 to 45 days to expiration captures the steepest decay"
	out["risk_factors"] = "elevated IV often precedes real events; size short premium accordingly"
}

func (g *Generator) earningsCrush(out map[string]string, cand *domain.AlertCandidate, ticker string) {
	days, hasDays := cand.Metrics["days_to_earnings"]
	if hasDays {
		out["summary"] = fmt.Sprintf("%s reports earnings in %.0f day(s) with elevated implied volatility", ticker, days)
		out["trigger"] = fmt.Sprintf("earnings in %.0f day(s) with iv_percentile above threshold", days)
		out["timeframe"] = fmt.Sprintf("event in %.0f day(s); the IV crush resolves within a session of the report", days)
	}
	if ivp, ok := cand.Metrics["iv_percentile"]; ok {
		out["reason"] = fmt.Sprintf("pre-earnings IV percentile %.1f prices a large move that historically overstates the realized one", ivp)
	}
	out["directional_implication"] = "neutral; the edge is in the volatility level, not direction"
	out["risk_factors"] = "gap risk through short strikes; the realized move occasionally exceeds the implied one"
}

func (g *Generator) termKink(out map[string]string, cand *domain.AlertCandidate, ticker string) {
	kind := out["kind"]
	if r, ok := cand.Metrics["term_ratio"]; ok {
		label := "steep contango"
		if kind == "BACKWARDATION" {
			label = "backwardation"
		}
		out["summary"] = fmt.Sprintf("%s term structure shows %s (back/front ratio %.3f)", ticker, label, r)
		out["trigger"] = fmt.Sprintf("back/front ATM IV ratio %.3f outside the normal contango band", r)
	}
	if front, ok := cand.Metrics["iv_front"]; ok {
		if back, ok2 := cand.Metrics["iv_back"]; ok2 {
			out["reason"] = fmt.Sprintf("front IV %.2f against back IV %.2f; the kink usually normalizes as near-term uncertainty resolves", front, back)
		}
	}
	if kind == "BACKWARDATION" {
		out["opportunity"] = "calendar spreads buy the cheap back month and sell the expensive front"
	} else {
		out["opportunity"] = "reverse calendar structures benefit when the steep back month softens"
	}
	out["risk_factors"] = "term kinks driven by scheduled events persist until the event passes"
}

func (g *Generator) skewAnomaly(out map[string]string, cand *domain.AlertCandidate, ticker string) {
	direction := out["direction"]
	if skew, ok := cand.Metrics["skew_25d"]; ok {
		side := "calls"
		if direction == "PUT_SKEW" {
			side = "puts"
		}
		out["summary"] = fmt.Sprintf("%s 25-delta skew of %+.2f shows heavy demand for %s", ticker, skew, side)
		out["trigger"] = fmt.Sprintf("25-delta skew %+.2f outside the normal band", skew)
		out["reason"] = fmt.Sprintf("one-sided positioning pushed the %s-side wing %.2f vol points rich", side, absOf(skew))
	}
	if direction == "PUT_SKEW" {
		out["directional_implication"] = "downside protection is expensive; the crowd is hedged or bearish"
	} else if direction == "CALL_SKEW" {
		out["directional_implication"] = "upside speculation is expensive; the crowd is chasing calls"
	}
	out["risk_factors"] = "extreme skew sometimes reflects informed flow rather than mispricing"
}

func (g *Generator) regimeShift(out map[string]string, cand *domain.AlertCandidate, ticker string) {
	regime := out["regime"]
	switch regime {
	case "GOLDEN_CROSS_SETUP":
		out["summary"] = fmt.Sprintf("%s 50-day average is closing in on the 200-day from below", ticker)
		out["directional_implication"] = "bullish regime change setup"
	case "DEATH_CROSS_SETUP":
		out["summary"] = fmt.Sprintf("%s 50-day average is closing in on the 200-day from above", ticker)
		out["directional_implication"] = "bearish regime change setup"
	case "SUPPORT_BOUNCE":
		out["summary"] = fmt.Sprintf("%s is holding its 50-day average as support", ticker)
		out["directional_implication"] = "bullish continuation while the average holds"
	}
	if s50, ok := cand.Metrics["sma_50"]; ok {
		if s200, ok2 := cand.Metrics["sma_200"]; ok2 {
			out["reason"] = fmt.Sprintf("SMA50 %.2f vs SMA200 %.2f", s50, s200)
			out["trigger"] = fmt.Sprintf("moving average gap %.1f%% within the crossover band", gapPct(s50, s200))
		}
	}
	out["timeframe"] = "crossover setups resolve over weeks; act on confirmation"
	out["risk_factors"] = "moving average signals lag; whipsaws are common in ranging markets"
}

// generic fills the baseline entries for an unknown detector from its
// metrics alone.
func (g *Generator) generic(out map[string]string, cand *domain.AlertCandidate, ticker string) {
	out["summary"] = fmt.Sprintf("%s signal on %s (score %.0f)", cand.DetectorName, ticker, cand.Score)
	if len(cand.Metrics) > 0 {
		parts := make([]string, 0, len(cand.Metrics))
		for k, v := range cand.Metrics {
			parts = append(parts, fmt.Sprintf("%s=%.2f", k, v))
		}
		// map iteration order is unstable; sort for determinism
		sort.Strings(parts)
		out["reason"] = strings.Join(parts, ", ")
	}
	out["trigger"] = fmt.Sprintf("%s threshold crossed", cand.DetectorName)
}

func absOf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func gapPct(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return absOf(a-b) / b * 100
}
