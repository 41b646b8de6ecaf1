// Package domain provides core domain models and types.
package domain

import (
	"sort"
	"time"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// PriceBar is one OHLCV bar.
// Invariant: Low <= min(Open, Close) <= max(Open, Close) <= High, Volume >= 0.
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Valid reports whether the bar satisfies the OHLCV invariant.
func (b PriceBar) Valid() bool {
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return b.Low <= lo && hi <= b.High && b.Volume >= 0
}

// OptionContract is one strike row in an options chain.
type OptionContract struct {
	Strike            float64    `json:"strike"`
	Type              OptionType `json:"type"`
	Bid               float64    `json:"bid"`
	Ask               float64    `json:"ask"`
	Volume            int64      `json:"volume"`
	OpenInterest      int64      `json:"open_interest"`
	ImpliedVolatility float64    `json:"implied_volatility"`
}

// Mid returns the bid/ask midpoint.
func (c OptionContract) Mid() float64 {
	return (c.Bid + c.Ask) / 2
}

// OptionsChain holds both sides of one expiration, strikes sorted
// ascending and unique within each side.
type OptionsChain struct {
	Ticker     string           `json:"ticker"`
	Expiration time.Time        `json:"expiration"`
	SnapshotAt time.Time        `json:"snapshot_timestamp"`
	Calls      []OptionContract `json:"calls"`
	Puts       []OptionContract `json:"puts"`
}

// DTE returns calendar days from now until expiration, floored at zero.
func (c OptionsChain) DTE(now time.Time) int {
	d := int(c.Expiration.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// TickerInfo carries slow-moving reference data about a ticker.
type TickerInfo struct {
	Ticker           string     `json:"ticker"`
	Name             string     `json:"name"`
	Sector           string     `json:"sector"`
	FiftyTwoWeekHigh float64    `json:"fifty_two_week_high"`
	FiftyTwoWeekLow  float64    `json:"fifty_two_week_low"`
	NextEarningsDate *time.Time `json:"next_earnings_date,omitempty"`
}

// MarketSnapshot bundles everything the feature engine needs for one
// ticker. It is owned by the scan invocation that produced it and is
// never cached beyond one scan.
type MarketSnapshot struct {
	Ticker        string                    `json:"ticker"`
	Timestamp     time.Time                 `json:"timestamp"`
	SpotPrice     float64                   `json:"spot_price"`
	PriceHistory  []PriceBar                `json:"price_history"`
	OptionsChains map[string]*OptionsChain  `json:"options_chains"` // keyed by expiration YYYY-MM-DD
	Info          *TickerInfo               `json:"ticker_info,omitempty"`
}

// SortedExpirations returns the chain expirations in ascending order.
func (s *MarketSnapshot) SortedExpirations() []string {
	out := make([]string, 0, len(s.OptionsChains))
	for exp := range s.OptionsChains {
		out = append(out, exp)
	}
	sort.Strings(out)
	return out
}

// Position is one held position as seen by the risk gate.
type Position struct {
	Ticker      string  `json:"ticker"`
	MarketValue float64 `json:"market_value"`
	Quantity    float64 `json:"quantity"`
}

// AccountState is the account view the risk gate checks candidates
// against. Loaded from configuration; immutable within a scan.
type AccountState struct {
	CashAvailable   float64    `json:"cash_available"`
	MarginAvailable float64    `json:"margin_available"`
	Positions       []Position `json:"positions"`
}

// PositionValue returns the market value currently held in ticker.
func (a AccountState) PositionValue(ticker string) float64 {
	for _, p := range a.Positions {
		if p.Ticker == ticker {
			return p.MarketValue
		}
	}
	return 0
}

// PortfolioTotal returns cash plus all position values.
func (a AccountState) PortfolioTotal() float64 {
	total := a.CashAvailable
	for _, p := range a.Positions {
		total += p.MarketValue
	}
	return total
}
