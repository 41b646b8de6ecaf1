package features

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivscan/internal/domain"
	"ivscan/internal/marketcal"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cal, err := marketcal.New()
	require.NoError(t, err)
	return NewEngine(0.05, cal, zerolog.Nop())
}

// bars builds a deterministic daily history ending at end.
func bars(n int, end time.Time, close func(i int) float64) []domain.PriceBar {
	out := make([]domain.PriceBar, n)
	for i := 0; i < n; i++ {
		c := close(i)
		out[i] = domain.PriceBar{
			Timestamp: end.AddDate(0, 0, -(n - 1 - i)),
			Open:      c * 0.995,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1_000_000 + int64(i),
		}
	}
	return out
}

func TestComputeNonPositiveSpot(t *testing.T) {
	e := newTestEngine(t)

	snap := &domain.MarketSnapshot{
		Ticker:    "AAPL",
		Timestamp: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		SpotPrice: 0,
	}
	fs := e.Compute(snap, "h", nil)
	assert.Equal(t, "AAPL", fs.Ticker)
	assert.Equal(t, "h", fs.ConfigHash)
	assert.Nil(t, fs.Price)
	assert.Nil(t, fs.Technicals.SMA20)
}

func TestComputeShortHistorySkipsIndicators(t *testing.T) {
	e := newTestEngine(t)

	end := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	snap := &domain.MarketSnapshot{
		Ticker:       "AAPL",
		Timestamp:    end,
		SpotPrice:    187.5,
		PriceHistory: bars(minBars-1, end, func(int) float64 { return 187 }),
	}
	fs := e.Compute(snap, "h", nil)
	require.NotNil(t, fs.Price)
	assert.InDelta(t, 187.5, *fs.Price, 1e-9)
	assert.Nil(t, fs.Technicals.SMA20)
	assert.Nil(t, fs.Volatility.HV20)
}

func TestComputeFillsFiftyTwoWeekRange(t *testing.T) {
	e := newTestEngine(t)

	snap := &domain.MarketSnapshot{
		Ticker:    "AAPL",
		Timestamp: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		SpotPrice: 187.5,
		Info: &domain.TickerInfo{
			Ticker:           "AAPL",
			FiftyTwoWeekHigh: 199.6,
			FiftyTwoWeekLow:  142.1,
		},
	}
	fs := e.Compute(snap, "h", nil)
	require.NotNil(t, fs.Technicals.High52W)
	assert.InDelta(t, 199.6, *fs.Technicals.High52W, 1e-9)
	require.NotNil(t, fs.Technicals.Low52W)
	assert.InDelta(t, 142.1, *fs.Technicals.Low52W, 1e-9)
}

func TestComputeIsDeterministic(t *testing.T) {
	e := newTestEngine(t)

	end := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	exp := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	earnings := time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)
	mk := func() *domain.MarketSnapshot {
		return &domain.MarketSnapshot{
			Ticker:       "AAPL",
			Timestamp:    end,
			SpotPrice:    100,
			PriceHistory: bars(60, end, func(i int) float64 { return 95 + 0.1*float64(i) }),
			OptionsChains: map[string]*domain.OptionsChain{
				"2026-03-20": {
					Ticker:     "AAPL",
					Expiration: exp,
					Calls: []domain.OptionContract{
						{Strike: 95, Type: domain.OptionCall, Bid: 5.5, Ask: 5.9, Volume: 300, OpenInterest: 900, ImpliedVolatility: 0.32},
						{Strike: 100, Type: domain.OptionCall, Bid: 2.1, Ask: 2.3, Volume: 800, OpenInterest: 2500, ImpliedVolatility: 0.30},
						{Strike: 105, Type: domain.OptionCall, Bid: 0.8, Ask: 1.0, Volume: 400, OpenInterest: 1200, ImpliedVolatility: 0.31},
					},
					Puts: []domain.OptionContract{
						{Strike: 95, Type: domain.OptionPut, Bid: 0.7, Ask: 0.9, Volume: 500, OpenInterest: 1100, ImpliedVolatility: 0.34},
						{Strike: 100, Type: domain.OptionPut, Bid: 2.0, Ask: 2.2, Volume: 600, OpenInterest: 1800, ImpliedVolatility: 0.33},
					},
				},
			},
			Info: &domain.TickerInfo{Ticker: "AAPL", FiftyTwoWeekHigh: 110, NextEarningsDate: &earnings},
		}
	}

	window := []float64{0.25, 0.28, 0.35, 0.40}
	a, err := e.Compute(mk(), "h", window).ToJSON()
	require.NoError(t, err)
	b, err := e.Compute(mk(), "h", window).ToJSON()
	require.NoError(t, err)
	assert.Equal(t, a, b, "equal inputs must serialize identically")
}

func TestFrontAndBackOrdering(t *testing.T) {
	e := newTestEngine(t)

	end := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	mkChain := func(exp time.Time, iv float64) *domain.OptionsChain {
		return &domain.OptionsChain{
			Expiration: exp,
			Calls: []domain.OptionContract{
				{Strike: 100, Bid: 2, Ask: 2.2, ImpliedVolatility: iv},
			},
		}
	}
	snap := &domain.MarketSnapshot{
		Ticker:    "AAPL",
		Timestamp: end,
		SpotPrice: 100,
		OptionsChains: map[string]*domain.OptionsChain{
			"2026-04-17": mkChain(time.Date(2026, 4, 17, 0, 0, 0, 0, time.UTC), 0.36),
			"2026-03-20": mkChain(time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), 0.40),
		},
	}

	fs := e.Compute(snap, "h", nil)
	require.NotNil(t, fs.OptionsFront.Expiration)
	assert.Equal(t, "2026-03-20", *fs.OptionsFront.Expiration)
	require.NotNil(t, fs.OptionsBack.Expiration)
	assert.Equal(t, "2026-04-17", *fs.OptionsBack.Expiration)
	require.NotNil(t, fs.IVMetrics.TermStructureRatio)
	assert.InDelta(t, 0.9, *fs.IVMetrics.TermStructureRatio, 1e-9)
}

func TestIVPercentileAndRank(t *testing.T) {
	e := newTestEngine(t)

	fs := &FeatureSet{Ticker: "AAPL"}
	fs.OptionsFront.ATMIV = fptr(0.35)

	g := e.computeIVMetrics(fs, []float64{0.2, 0.3, 0.4})
	require.NotNil(t, g.IVPercentile)
	assert.InDelta(t, 50, *g.IVPercentile, 1e-9, "2 of 4 observations below current")
	require.NotNil(t, g.IVRank)
	assert.InDelta(t, 75, *g.IVRank, 1e-9)
}

func TestIVPercentileNeedsWindow(t *testing.T) {
	e := newTestEngine(t)

	fs := &FeatureSet{Ticker: "AAPL"}
	fs.OptionsFront.ATMIV = fptr(0.35)

	g := e.computeIVMetrics(fs, []float64{0.3})
	assert.Nil(t, g.IVPercentile)
	assert.Nil(t, g.IVRank)

	g = e.computeIVMetrics(&FeatureSet{}, []float64{0.2, 0.3, 0.4})
	assert.Nil(t, g.IVPercentile, "no current IV, no percentile")
}

func TestIVRankDegenerateWindow(t *testing.T) {
	e := newTestEngine(t)

	fs := &FeatureSet{Ticker: "AAPL"}
	fs.OptionsFront.ATMIV = fptr(0.30)

	g := e.computeIVMetrics(fs, []float64{0.30, 0.30})
	assert.Nil(t, g.IVRank, "flat window has no rank")
	require.NotNil(t, g.IVPercentile)
	assert.Zero(t, *g.IVPercentile)
}

func TestEarningsDaysUseETDates(t *testing.T) {
	e := newTestEngine(t)

	// 2026-03-06 00:30 UTC is still 2026-03-05 in New York
	earnings := time.Date(2026, 3, 6, 0, 30, 0, 0, time.UTC)
	snap := &domain.MarketSnapshot{
		Ticker:    "AAPL",
		Timestamp: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		Info:      &domain.TickerInfo{Ticker: "AAPL", NextEarningsDate: &earnings},
	}

	g := e.computeEarnings(snap)
	require.NotNil(t, g.DaysToEarnings)
	assert.Equal(t, 3, *g.DaysToEarnings)
	require.NotNil(t, g.NextEarningsDate)
	assert.Equal(t, "2026-03-06", *g.NextEarningsDate)
}

func TestATMIVInterpolation(t *testing.T) {
	contracts := []domain.OptionContract{
		{Strike: 90, ImpliedVolatility: 0.30},
		{Strike: 100, ImpliedVolatility: 0.40},
		{Strike: 110, ImpliedVolatility: 0.50},
	}

	iv := atmIV(contracts, 95)
	require.NotNil(t, iv)
	assert.InDelta(t, 0.35, *iv, 1e-9)

	iv = atmIV(contracts, 80)
	require.NotNil(t, iv)
	assert.InDelta(t, 0.30, *iv, 1e-9, "below the lowest strike takes the edge IV")

	iv = atmIV(contracts, 120)
	require.NotNil(t, iv)
	assert.InDelta(t, 0.50, *iv, 1e-9, "above the highest strike takes the edge IV")

	assert.Nil(t, atmIV(nil, 100))
	assert.Nil(t, atmIV(contracts, 0))
}

func TestFibLevels(t *testing.T) {
	levels := fibLevels(110, 100)
	require.Len(t, levels, 5)
	assert.InDelta(t, 107.64, levels[0], 1e-9)
	assert.InDelta(t, 105.0, levels[2], 1e-9)
	assert.InDelta(t, 102.14, levels[4], 1e-9)

	assert.Nil(t, fibLevels(100, 100))
	assert.Nil(t, fibLevels(90, 100))
}

func TestHistoricalVolConstantGrowthIsZero(t *testing.T) {
	end := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	history := bars(21, end, func(i int) float64 { return 100 * math.Pow(1.01, float64(i)) })

	hv := historicalVol(history, 20)
	require.NotNil(t, hv)
	assert.InDelta(t, 0, *hv, 1e-9, "constant log returns have zero variance")

	assert.Nil(t, historicalVol(history, 21), "window needs one extra bar for returns")
}

func TestRangeEstimatorsDegenerateBars(t *testing.T) {
	end := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	flat := make([]domain.PriceBar, 20)
	for i := range flat {
		flat[i] = domain.PriceBar{
			Timestamp: end.AddDate(0, 0, i-19),
			Open:      100, High: 100, Low: 100, Close: 100,
			Volume: 1000,
		}
	}

	p := parkinson(flat, 20)
	require.NotNil(t, p)
	assert.Zero(t, *p)

	gk := garmanKlass(flat, 20)
	require.NotNil(t, gk)
	assert.Zero(t, *gk)

	assert.Nil(t, parkinson(flat[:10], 20))
	assert.Nil(t, garmanKlass(flat[:10], 20))
}

func TestVolTrendClassification(t *testing.T) {
	end := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	// quiet for 41 bars, then 20 bars of alternating 2% swings
	expanding := bars(61, end, func(i int) float64 {
		if i < 41 {
			return 100
		}
		if i%2 == 0 {
			return 102
		}
		return 100
	})
	v := computeVolatility(expanding)
	require.NotNil(t, v.Expanding)
	assert.True(t, *v.Expanding)
	require.NotNil(t, v.VolTrend)
	assert.Equal(t, "increasing", *v.VolTrend)

	// wild early, flat for the last 20 bars
	contracting := bars(61, end, func(i int) float64 {
		if i >= 40 {
			return 100
		}
		if i%2 == 0 {
			return 104
		}
		return 100
	})
	v = computeVolatility(contracting)
	require.NotNil(t, v.Expanding)
	assert.False(t, *v.Expanding)
	assert.Equal(t, "decreasing", *v.VolTrend)
}

func TestLiquidityFromFrontChain(t *testing.T) {
	front := &domain.OptionsChain{
		Expiration: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
		Calls: []domain.OptionContract{
			{Strike: 95, Bid: 5.0, Ask: 5.4, Volume: 200},
			{Strike: 100, Bid: 1.0, Ask: 1.2, Volume: 800},
		},
		Puts: []domain.OptionContract{
			{Strike: 100, Bid: 0.9, Ask: 1.1, Volume: 600},
		},
	}

	g := computeLiquidity(front, 100)
	require.NotNil(t, g.SpreadPct)
	assert.InDelta(t, 0.2/1.1*100, *g.SpreadPct, 1e-9)
	require.NotNil(t, g.ATMVolume)
	assert.Equal(t, int64(1400), *g.ATMVolume, "ATM call plus ATM put volume")

	empty := computeLiquidity(nil, 100)
	assert.Nil(t, empty.SpreadPct)
	assert.Nil(t, empty.ATMVolume)
}

func TestToJSONEmitsNulls(t *testing.T) {
	fs := &FeatureSet{Ticker: "AAPL"}
	out, err := fs.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"price":null`)
	assert.Contains(t, out, `"sma_20":null`)
	assert.NotContains(t, out, "NaN")
}

func TestChainATMIVFallsBackToPuts(t *testing.T) {
	chain := &domain.OptionsChain{
		Calls: nil,
		Puts: []domain.OptionContract{
			{Strike: 90, ImpliedVolatility: 0.30},
			{Strike: 110, ImpliedVolatility: 0.40},
		},
	}

	iv := ChainATMIV(chain, 100)
	require.NotNil(t, iv)
	assert.InDelta(t, 0.35, *iv, 1e-9)

	assert.Nil(t, ChainATMIV(nil, 100))
	assert.Nil(t, ChainATMIV(&domain.OptionsChain{}, 100))
}
