package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"ivscan/internal/domain"
)

// Annualization factor for daily observations.
const tradingDaysPerYear = 252

// expandingEpsilon is the relative HV20/HV60 gap that counts as a
// volatility expansion.
const expandingEpsilon = 0.05

// computeVolatility fills the realized volatility group.
func computeVolatility(bars []domain.PriceBar) VolatilityGroup {
	var v VolatilityGroup

	v.HV20 = historicalVol(bars, 20)
	v.HV60 = historicalVol(bars, 60)
	v.Parkinson = parkinson(bars, 20)
	v.GarmanKlass = garmanKlass(bars, 20)

	if v.HV20 != nil && v.HV60 != nil && *v.HV60 > 0 {
		rel := (*v.HV20 - *v.HV60) / *v.HV60
		v.Expanding = bptr(rel > expandingEpsilon)
		switch {
		case rel > expandingEpsilon:
			v.VolTrend = sptr("increasing")
		case rel < -expandingEpsilon:
			v.VolTrend = sptr("decreasing")
		default:
			v.VolTrend = sptr("flat")
		}
	}

	return v
}

// historicalVol is the annualized stddev of log returns over the
// trailing window.
func historicalVol(bars []domain.PriceBar, window int) *float64 {
	if len(bars) < window+1 {
		return nil
	}
	tail := bars[len(bars)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		prev, cur := tail[i-1].Close, tail[i].Close
		if prev <= 0 || cur <= 0 {
			return nil
		}
		returns = append(returns, math.Log(cur/prev))
	}
	sd := stat.StdDev(returns, nil)
	return fptr(sd * math.Sqrt(tradingDaysPerYear))
}

// parkinson estimates volatility from high/low ranges.
func parkinson(bars []domain.PriceBar, window int) *float64 {
	if len(bars) < window {
		return nil
	}
	tail := bars[len(bars)-window:]
	sum := 0.0
	for _, b := range tail {
		if b.Low <= 0 || b.High <= 0 {
			return nil
		}
		r := math.Log(b.High / b.Low)
		sum += r * r
	}
	variance := sum / (4 * math.Ln2 * float64(window))
	return fptr(math.Sqrt(variance * tradingDaysPerYear))
}

// garmanKlass combines range and close-to-open information.
func garmanKlass(bars []domain.PriceBar, window int) *float64 {
	if len(bars) < window {
		return nil
	}
	tail := bars[len(bars)-window:]
	sum := 0.0
	for _, b := range tail {
		if b.Low <= 0 || b.Open <= 0 {
			return nil
		}
		hl := math.Log(b.High / b.Low)
		co := math.Log(b.Close / b.Open)
		sum += 0.5*hl*hl - (2*math.Ln2-1)*co*co
	}
	variance := sum / float64(window)
	if variance < 0 {
		return nil
	}
	return fptr(math.Sqrt(variance * tradingDaysPerYear))
}
