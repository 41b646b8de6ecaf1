package explain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivscan/internal/domain"
	"ivscan/internal/features"
)

func TestLowIVExplanation(t *testing.T) {
	g := New()
	cand := &domain.AlertCandidate{
		DetectorName: "LowIV",
		Score:        88,
		Confidence:   domain.ConfidenceHigh,
		Metrics:      map[string]float64{"iv_percentile": 12},
		Explanation:  map[string]string{},
	}

	out := g.Generate(cand, "AAPL", &features.FeatureSet{})
	assert.Contains(t, out["summary"], "AAPL")
	assert.Contains(t, out["summary"], "12th percentile")
	assert.Contains(t, out["reason"], "12.0")
	assert.NotEmpty(t, out["opportunity"])
	assert.NotEmpty(t, out["risk_factors"])
}

func TestMissingMetricOmitsSentence(t *testing.T) {
	g := New()
	cand := &domain.AlertCandidate{
		DetectorName: "LowIV",
		Score:        75,
		Confidence:   domain.ConfidenceMedium,
		Metrics:      map[string]float64{},
		Explanation:  map[string]string{},
	}

	out := g.Generate(cand, "AAPL", &features.FeatureSet{})
	assert.NotContains(t, out, "reason")
	assert.NotContains(t, out, "trigger")
	// the fallback summary still appears
	assert.Contains(t, out["summary"], "LowIV signal on AAPL")
	assert.Contains(t, out["summary"], "medium confidence")
}

func TestDetectorEntriesArePreserved(t *testing.T) {
	g := New()
	cand := &domain.AlertCandidate{
		DetectorName: "EarningsCrush",
		Score:        95,
		Metrics:      map[string]float64{"days_to_earnings": 2, "iv_percentile": 80},
		Explanation:  map[string]string{"warning": "CRITICAL: earnings in 2 day(s)"},
	}

	out := g.Generate(cand, "AAPL", &features.FeatureSet{})
	assert.Contains(t, out["warning"], "CRITICAL")
	assert.Contains(t, out["summary"], "2 day(s)")
	assert.Contains(t, out["directional_implication"], "neutral")
}

func TestTermKinkLabelFollowsKind(t *testing.T) {
	g := New()
	cand := &domain.AlertCandidate{
		DetectorName: "TermKink",
		Score:        100,
		Metrics:      map[string]float64{"term_ratio": 0.875, "iv_front": 0.40, "iv_back": 0.35},
		Explanation:  map[string]string{"kind": "BACKWARDATION"},
	}

	out := g.Generate(cand, "TSLA", &features.FeatureSet{})
	assert.Contains(t, out["summary"], "backwardation")
	assert.Contains(t, out["summary"], "0.875")
	assert.Contains(t, out["opportunity"], "calendar spreads")

	cand.Explanation["kind"] = "STEEP_CONTANGO"
	cand.Metrics["term_ratio"] = 1.30
	out = g.Generate(cand, "TSLA", &features.FeatureSet{})
	assert.Contains(t, out["summary"], "steep contango")
	assert.Contains(t, out["opportunity"], "reverse calendar")
}

func TestSkewAnomalyDirectionality(t *testing.T) {
	g := New()
	cand := &domain.AlertCandidate{
		DetectorName: "SkewAnomaly",
		Score:        100,
		Metrics:      map[string]float64{"skew_25d": 0.28},
		Explanation:  map[string]string{"direction": "PUT_SKEW"},
	}

	out := g.Generate(cand, "SPY", &features.FeatureSet{})
	assert.Contains(t, out["summary"], "puts")
	assert.Contains(t, out["summary"], "+0.28")
	assert.Contains(t, out["directional_implication"], "hedged or bearish")

	cand.Explanation["direction"] = "CALL_SKEW"
	cand.Metrics["skew_25d"] = -0.26
	out = g.Generate(cand, "SPY", &features.FeatureSet{})
	assert.Contains(t, out["summary"], "calls")
	assert.Contains(t, out["directional_implication"], "chasing calls")
}

func TestRegimeShiftSummaryByRegime(t *testing.T) {
	g := New()
	cand := &domain.AlertCandidate{
		DetectorName: "RegimeShift",
		Score:        95,
		Metrics:      map[string]float64{"sma_50": 99, "sma_200": 100},
		Explanation:  map[string]string{"regime": "GOLDEN_CROSS_SETUP"},
	}

	out := g.Generate(cand, "F", &features.FeatureSet{})
	assert.Contains(t, out["summary"], "from below")
	assert.Equal(t, "bullish regime change setup", out["directional_implication"])
	assert.Contains(t, out["trigger"], "1.0%")
}

func TestGenericExplanationIsDeterministic(t *testing.T) {
	g := New()
	cand := &domain.AlertCandidate{
		DetectorName: "Experimental",
		Score:        77,
		Metrics:      map[string]float64{"b_metric": 2, "a_metric": 1, "c_metric": 3},
		Explanation:  map[string]string{},
	}

	first := g.Generate(cand, "AAPL", &features.FeatureSet{})
	require.Contains(t, first, "reason")
	assert.Equal(t, "a_metric=1.00, b_metric=2.00, c_metric=3.00", first["reason"])

	for i := 0; i < 5; i++ {
		again := g.Generate(cand, "AAPL", &features.FeatureSet{})
		assert.Equal(t, first, again)
	}
}
