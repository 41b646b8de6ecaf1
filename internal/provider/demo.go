package provider

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"ivscan/internal/domain"
)

// Demo is a deterministic synthetic market data provider. Every value
// is derived from a per-ticker seed, so repeated runs over the same
// watchlist produce identical snapshots and the whole pipeline can be
// exercised offline.
type Demo struct {
	now func() time.Time
}

// NewDemo creates a demo provider.
func NewDemo() *Demo {
	return &Demo{now: func() time.Time { return time.Now().UTC() }}
}

// NewDemoAt creates a demo provider pinned to a fixed clock, for tests.
func NewDemoAt(now func() time.Time) *Demo {
	return &Demo{now: now}
}

func tickerSeed(ticker string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ticker))
	return int64(h.Sum64() & math.MaxInt64)
}

// basePrice derives a stable spot anchor in [25, 525).
func basePrice(ticker string) float64 {
	rng := rand.New(rand.NewSource(tickerSeed(ticker)))
	return 25 + rng.Float64()*500
}

// GetCurrentPrice returns the ticker's synthetic spot price.
func (d *Demo) GetCurrentPrice(_ context.Context, ticker string) (float64, error) {
	bars, err := d.GetPriceHistory(context.Background(), ticker, 1)
	if err != nil || len(bars) == 0 {
		return basePrice(ticker), nil
	}
	return bars[len(bars)-1].Close, nil
}

// GetPriceHistory returns a deterministic random walk of daily bars.
func (d *Demo) GetPriceHistory(_ context.Context, ticker string, lookbackDays int) ([]domain.PriceBar, error) {
	if lookbackDays <= 0 {
		lookbackDays = 365
	}
	rng := rand.New(rand.NewSource(tickerSeed(ticker)))
	price := basePrice(ticker)
	drift := (rng.Float64() - 0.45) * 0.001
	dailyVol := 0.008 + rng.Float64()*0.02

	// Walk a full year then slice, so the tail is stable regardless of
	// the requested lookback.
	const span = 365
	end := d.now().Truncate(24 * time.Hour)
	bars := make([]domain.PriceBar, 0, span)
	for i := span - 1; i >= 0; i-- {
		ret := drift + rng.NormFloat64()*dailyVol
		open := price
		price = price * (1 + ret)
		high := math.Max(open, price) * (1 + rng.Float64()*dailyVol)
		low := math.Min(open, price) * (1 - rng.Float64()*dailyVol)
		bars = append(bars, domain.PriceBar{
			Timestamp: end.AddDate(0, 0, -i),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    int64(1_000_000 + rng.Intn(9_000_000)),
		})
	}
	if lookbackDays < len(bars) {
		bars = bars[len(bars)-lookbackDays:]
	}
	return bars, nil
}

// GetOptionsExpirations returns two synthetic monthly expirations,
// roughly 30 and 60 days out.
func (d *Demo) GetOptionsExpirations(_ context.Context, ticker string) ([]time.Time, error) {
	base := d.now().Truncate(24 * time.Hour)
	return []time.Time{
		base.AddDate(0, 0, 30),
		base.AddDate(0, 0, 60),
	}, nil
}

// GetOptionsChain builds a full synthetic chain with an IV smile around
// a per-ticker base volatility.
func (d *Demo) GetOptionsChain(ctx context.Context, ticker string, expiration time.Time) (*domain.OptionsChain, error) {
	spot, err := d.GetCurrentPrice(ctx, ticker)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(tickerSeed(ticker) ^ expiration.Unix()))
	baseIV := 0.18 + rand.New(rand.NewSource(tickerSeed(ticker))).Float64()*0.35
	dte := expiration.Sub(d.now()).Hours() / 24
	if dte < 1 {
		dte = 1
	}
	// Mild contango: longer dated IV slightly higher.
	baseIV *= 1 + 0.0008*dte

	chain := &domain.OptionsChain{
		Ticker:     ticker,
		Expiration: expiration,
		SnapshotAt: d.now(),
	}

	step := strikeStep(spot)
	lowest := math.Floor(spot*0.8/step) * step
	for i := 0; i < 21; i++ {
		strike := lowest + float64(i)*step
		if strike <= 0 {
			continue
		}
		moneyness := math.Log(strike / spot)
		// Put-side smile: OTM puts carry more IV than OTM calls.
		smile := 0.10*moneyness*moneyness - 0.05*moneyness
		iv := baseIV + smile

		callMid := bsPrice(spot, strike, iv, dte/365, true)
		putMid := bsPrice(spot, strike, iv, dte/365, false)
		spread := math.Max(0.02, callMid*0.03)

		chain.Calls = append(chain.Calls, domain.OptionContract{
			Strike:            strike,
			Type:              domain.OptionCall,
			Bid:               math.Max(0, callMid-spread/2),
			Ask:               callMid + spread/2,
			Volume:            int64(rng.Intn(5000)),
			OpenInterest:      int64(rng.Intn(20000)),
			ImpliedVolatility: iv,
		})
		chain.Puts = append(chain.Puts, domain.OptionContract{
			Strike:            strike,
			Type:              domain.OptionPut,
			Bid:               math.Max(0, putMid-spread/2),
			Ask:               putMid + spread/2,
			Volume:            int64(rng.Intn(5000)),
			OpenInterest:      int64(rng.Intn(20000)),
			ImpliedVolatility: iv,
		})
	}

	return chain, nil
}

// GetTickerInfo returns synthetic reference data including a next
// earnings date 5-49 days out.
func (d *Demo) GetTickerInfo(_ context.Context, ticker string) (*domain.TickerInfo, error) {
	rng := rand.New(rand.NewSource(tickerSeed(ticker) * 31))
	spot := basePrice(ticker)
	earnings := d.now().AddDate(0, 0, 5+rng.Intn(45))
	return &domain.TickerInfo{
		Ticker:           ticker,
		Name:             ticker + " Inc.",
		Sector:           sectors[rng.Intn(len(sectors))],
		FiftyTwoWeekHigh: spot * (1.05 + rng.Float64()*0.4),
		FiftyTwoWeekLow:  spot * (0.55 + rng.Float64()*0.3),
		NextEarningsDate: &earnings,
	}, nil
}

// GetFullSnapshot composes the individual endpoints into one snapshot.
func (d *Demo) GetFullSnapshot(ctx context.Context, ticker string) (*domain.MarketSnapshot, error) {
	return buildSnapshot(ctx, d, ticker)
}

var sectors = []string{
	"Technology", "Healthcare", "Financials", "Energy",
	"Consumer Discretionary", "Industrials", "Utilities",
}

func strikeStep(spot float64) float64 {
	switch {
	case spot < 50:
		return 1
	case spot < 200:
		return 5
	default:
		return 10
	}
}

// bsPrice is a plain Black-Scholes price used only to make synthetic
// quotes internally consistent with their IVs. r is held at zero here;
// the feature engine applies the configured risk-free rate itself.
func bsPrice(spot, strike, iv, t float64, call bool) float64 {
	if t <= 0 || iv <= 0 {
		if call {
			return math.Max(0, spot-strike)
		}
		return math.Max(0, strike-spot)
	}
	d1 := (math.Log(spot/strike) + 0.5*iv*iv*t) / (iv * math.Sqrt(t))
	d2 := d1 - iv*math.Sqrt(t)
	if call {
		return spot*normCDF(d1) - strike*normCDF(d2)
	}
	return strike*normCDF(-d2) - spot*normCDF(-d1)
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
