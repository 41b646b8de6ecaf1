package features

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"ivscan/internal/domain"
	"ivscan/internal/marketcal"
)

// Engine computes feature sets. Compute is deterministic given its
// inputs; the trailing IV window is passed in by the caller rather than
// read here, so equal inputs always produce equal outputs.
type Engine struct {
	riskFreeRate float64
	cal          *marketcal.Calendar
	log          zerolog.Logger
}

// NewEngine creates a feature engine.
func NewEngine(riskFreeRate float64, cal *marketcal.Calendar, log zerolog.Logger) *Engine {
	return &Engine{
		riskFreeRate: riskFreeRate,
		cal:          cal,
		log:          log.With().Str("component", "features").Logger(),
	}
}

// minBars is the history floor below which no features are computed
// beyond the spot price.
const minBars = 20

// Compute builds the feature vector for one snapshot. ivWindow is the
// trailing series of front ATM IV observations for the ticker, oldest
// first, excluding the current scan. Missing inputs produce absent
// subfields, never errors.
func (e *Engine) Compute(snapshot *domain.MarketSnapshot, configHash string, ivWindow []float64) *FeatureSet {
	fs := &FeatureSet{
		Ticker:     snapshot.Ticker,
		Timestamp:  snapshot.Timestamp,
		ConfigHash: configHash,
	}

	if snapshot.SpotPrice <= 0 {
		return fs
	}
	fs.Price = fptr(snapshot.SpotPrice)

	if len(snapshot.PriceHistory) >= minBars {
		closes := make([]float64, len(snapshot.PriceHistory))
		highs := make([]float64, len(snapshot.PriceHistory))
		lows := make([]float64, len(snapshot.PriceHistory))
		volumes := make([]float64, len(snapshot.PriceHistory))
		for i, b := range snapshot.PriceHistory {
			closes[i] = b.Close
			highs[i] = b.High
			lows[i] = b.Low
			volumes[i] = float64(b.Volume)
		}

		fs.Technicals = computeTechnicals(closes, highs, lows, volumes)
		fs.Volatility = computeVolatility(snapshot.PriceHistory)
	}

	if snapshot.Info != nil {
		if snapshot.Info.FiftyTwoWeekHigh > 0 {
			fs.Technicals.High52W = fptr(snapshot.Info.FiftyTwoWeekHigh)
		}
		if snapshot.Info.FiftyTwoWeekLow > 0 {
			fs.Technicals.Low52W = fptr(snapshot.Info.FiftyTwoWeekLow)
		}
	}

	front, back := frontAndBack(snapshot)
	now := snapshot.Timestamp
	fs.OptionsFront = summarizeSide(front, snapshot.SpotPrice, e.riskFreeRate, now)
	fs.OptionsBack = summarizeSide(back, snapshot.SpotPrice, e.riskFreeRate, now)
	fs.Liquidity = computeLiquidity(front, snapshot.SpotPrice)

	fs.IVMetrics = e.computeIVMetrics(fs, ivWindow)
	fs.Earnings = e.computeEarnings(snapshot)

	return fs
}

// frontAndBack picks the nearest and second-nearest expirations.
func frontAndBack(snapshot *domain.MarketSnapshot) (*domain.OptionsChain, *domain.OptionsChain) {
	exps := snapshot.SortedExpirations()
	var front, back *domain.OptionsChain
	if len(exps) > 0 {
		front = snapshot.OptionsChains[exps[0]]
	}
	if len(exps) > 1 {
		back = snapshot.OptionsChains[exps[1]]
	}
	return front, back
}

// computeIVMetrics positions front ATM IV against its trailing window
// and against realized volatility.
func (e *Engine) computeIVMetrics(fs *FeatureSet, ivWindow []float64) IVMetricsGroup {
	var g IVMetricsGroup

	frontIV := fs.OptionsFront.ATMIV
	backIV := fs.OptionsBack.ATMIV

	if frontIV != nil && backIV != nil && *frontIV > 0 {
		g.TermStructureRatio = fptr(*backIV / *frontIV)
	}
	if frontIV != nil && fs.Volatility.HV20 != nil && *fs.Volatility.HV20 > 0 {
		g.IVvsHV = fptr(*frontIV / *fs.Volatility.HV20)
	}

	if frontIV == nil || len(ivWindow) < 2 {
		return g
	}

	window := make([]float64, len(ivWindow), len(ivWindow)+1)
	copy(window, ivWindow)
	window = append(window, *frontIV)
	sort.Float64s(window)

	below := 0
	for _, v := range window {
		if v < *frontIV {
			below++
		}
	}
	g.IVPercentile = fptr(float64(below) / float64(len(window)) * 100)

	lo, hi := window[0], window[len(window)-1]
	if hi > lo {
		g.IVRank = fptr((*frontIV - lo) / (hi - lo) * 100)
	}

	return g
}

// computeEarnings derives whole ET days until the next earnings date.
func (e *Engine) computeEarnings(snapshot *domain.MarketSnapshot) EarningsGroup {
	var g EarningsGroup
	if snapshot.Info == nil || snapshot.Info.NextEarningsDate == nil {
		return g
	}

	next := *snapshot.Info.NextEarningsDate
	g.NextEarningsDate = sptr(next.Format("2006-01-02"))

	todayET, _ := time.Parse("2006-01-02", e.cal.ETDate(snapshot.Timestamp))
	earningsET, _ := time.Parse("2006-01-02", e.cal.ETDate(next))
	days := int(earningsET.Sub(todayET).Hours() / 24)
	g.DaysToEarnings = iptr(days)

	return g
}
