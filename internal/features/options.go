package features

import (
	"math"
	"time"

	"ivscan/internal/domain"
)

// atmIV interpolates implied volatility at the spot price linearly on
// strike across the given side of a chain.
func atmIV(contracts []domain.OptionContract, spot float64) *float64 {
	if len(contracts) == 0 || spot <= 0 {
		return nil
	}

	// Below the lowest or above the highest strike, take the edge IV.
	if spot <= contracts[0].Strike {
		return fptr(contracts[0].ImpliedVolatility)
	}
	last := contracts[len(contracts)-1]
	if spot >= last.Strike {
		return fptr(last.ImpliedVolatility)
	}

	for i := 1; i < len(contracts); i++ {
		lo, hi := contracts[i-1], contracts[i]
		if spot >= lo.Strike && spot <= hi.Strike {
			span := hi.Strike - lo.Strike
			if span == 0 {
				return fptr(lo.ImpliedVolatility)
			}
			w := (spot - lo.Strike) / span
			return fptr(lo.ImpliedVolatility*(1-w) + hi.ImpliedVolatility*w)
		}
	}
	return nil
}

// bsDelta is the Black-Scholes delta used to locate 25-delta strikes.
func bsDelta(spot, strike, iv, t, r float64, call bool) float64 {
	if spot <= 0 || strike <= 0 || iv <= 0 || t <= 0 {
		return math.NaN()
	}
	d1 := (math.Log(spot/strike) + (r+0.5*iv*iv)*t) / (iv * math.Sqrt(t))
	if call {
		return normCDF(d1)
	}
	return normCDF(d1) - 1
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// ivAtDelta interpolates a side's IV at a target absolute delta. The
// side's deltas are computed per contract, then IV is interpolated
// linearly on delta between the two bracketing strikes.
func ivAtDelta(contracts []domain.OptionContract, spot, t, r, targetAbsDelta float64, call bool) *float64 {
	type point struct{ absDelta, iv float64 }
	var pts []point
	for _, c := range contracts {
		d := bsDelta(spot, c.Strike, c.ImpliedVolatility, t, r, call)
		if math.IsNaN(d) {
			continue
		}
		pts = append(pts, point{math.Abs(d), c.ImpliedVolatility})
	}
	if len(pts) < 2 {
		return nil
	}

	// Deltas decrease with strike for calls and increase for puts;
	// scan for the bracketing pair in either direction.
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		lo, hi := a, b
		if lo.absDelta > hi.absDelta {
			lo, hi = hi, lo
		}
		if targetAbsDelta >= lo.absDelta && targetAbsDelta <= hi.absDelta {
			span := hi.absDelta - lo.absDelta
			if span == 0 {
				return fptr(lo.iv)
			}
			w := (targetAbsDelta - lo.absDelta) / span
			return fptr(lo.iv*(1-w) + hi.iv*w)
		}
	}
	return nil
}

// skew25Delta is 25-delta put IV minus 25-delta call IV.
func skew25Delta(chain *domain.OptionsChain, spot, t, r float64) *float64 {
	putIV := ivAtDelta(chain.Puts, spot, t, r, 0.25, false)
	callIV := ivAtDelta(chain.Calls, spot, t, r, 0.25, true)
	if putIV == nil || callIV == nil {
		return nil
	}
	return fptr(*putIV - *callIV)
}

// ChainATMIV interpolates the at-the-money IV for one chain, falling
// back to the put side when the calls carry no usable quotes.
func ChainATMIV(chain *domain.OptionsChain, spot float64) *float64 {
	if chain == nil {
		return nil
	}
	iv := atmIV(chain.Calls, spot)
	if iv == nil {
		iv = atmIV(chain.Puts, spot)
	}
	return iv
}

// summarizeSide builds the options group for one expiration.
func summarizeSide(chain *domain.OptionsChain, spot, riskFreeRate float64, now time.Time) OptionsSideGroup {
	var g OptionsSideGroup
	if chain == nil {
		return g
	}

	exp := chain.Expiration.Format("2006-01-02")
	g.Expiration = sptr(exp)
	dte := chain.DTE(now)
	g.DTE = iptr(dte)

	g.ATMIV = ChainATMIV(chain, spot)

	t := float64(dte) / 365
	if t > 0 {
		g.Skew25Delta = skew25Delta(chain, spot, t, riskFreeRate)
	}

	var oi, callVol, putVol int64
	for _, c := range chain.Calls {
		oi += c.OpenInterest
		callVol += c.Volume
	}
	for _, p := range chain.Puts {
		oi += p.OpenInterest
		putVol += p.Volume
	}
	g.OpenInterest = i64ptr(oi)
	g.CallVolume = i64ptr(callVol)
	g.PutVolume = i64ptr(putVol)

	return g
}

// atmContract returns the contract with strike closest to spot.
func atmContract(contracts []domain.OptionContract, spot float64) *domain.OptionContract {
	if len(contracts) == 0 {
		return nil
	}
	best := &contracts[0]
	bestDist := math.Abs(contracts[0].Strike - spot)
	for i := 1; i < len(contracts); i++ {
		d := math.Abs(contracts[i].Strike - spot)
		if d < bestDist {
			best = &contracts[i]
			bestDist = d
		}
	}
	return best
}

// computeLiquidity measures the ATM spread and volume on the front
// month.
func computeLiquidity(front *domain.OptionsChain, spot float64) LiquidityGroup {
	var g LiquidityGroup
	if front == nil {
		return g
	}

	atm := atmContract(front.Calls, spot)
	if atm == nil {
		return g
	}
	mid := atm.Mid()
	if mid > 0 {
		g.SpreadPct = fptr((atm.Ask - atm.Bid) / mid * 100)
	}

	vol := atm.Volume
	if atmPut := atmContract(front.Puts, spot); atmPut != nil {
		vol += atmPut.Volume
	}
	g.ATMVolume = i64ptr(vol)

	return g
}
