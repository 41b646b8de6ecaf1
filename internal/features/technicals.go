package features

import (
	"github.com/markcheno/go-talib"
)

// computeTechnicals fills the technicals group from the bar history.
// Each indicator needs its own minimum history; anything that cannot be
// computed stays absent.
func computeTechnicals(closes, highs, lows, volumes []float64) TechnicalsGroup {
	var t TechnicalsGroup

	t.SMA20 = lastOf(talibSafe(closes, 20, func() []float64 { return talib.Sma(closes, 20) }))
	t.SMA50 = lastOf(talibSafe(closes, 50, func() []float64 { return talib.Sma(closes, 50) }))
	t.SMA200 = lastOf(talibSafe(closes, 200, func() []float64 { return talib.Sma(closes, 200) }))
	t.EMA9 = lastOf(talibSafe(closes, 9, func() []float64 { return talib.Ema(closes, 9) }))
	t.EMA21 = lastOf(talibSafe(closes, 21, func() []float64 { return talib.Ema(closes, 21) }))
	t.RSI14 = lastOf(talibSafe(closes, 15, func() []float64 { return talib.Rsi(closes, 14) }))

	if len(closes) >= 35 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		t.MACD = lastOf(macd)
		t.MACDSignal = lastOf(signal)
		t.MACDHistogram = lastOf(hist)
	}

	if len(volumes) >= 20 {
		t.VolumeSMA20 = lastOf(talib.Sma(volumes, 20))
	}
	if len(volumes) > 0 {
		t.CurrentVolume = fptr(volumes[len(volumes)-1])
	}

	if len(highs) >= 20 && len(lows) >= 20 {
		hi := highs[len(highs)-20:]
		lo := lows[len(lows)-20:]
		t.Resistance20 = fptr(maxOf(hi))
		t.Support20 = fptr(minOf(lo))
		t.FibLevels = fibLevels(maxOf(hi), minOf(lo))
	}

	return t
}

// fibLevels returns retracement levels between a rolling high and low.
func fibLevels(high, low float64) []float64 {
	if high <= low {
		return nil
	}
	span := high - low
	ratios := []float64{0.236, 0.382, 0.5, 0.618, 0.786}
	levels := make([]float64, 0, len(ratios))
	for _, r := range ratios {
		levels = append(levels, high-span*r)
	}
	return levels
}

// talibSafe guards an indicator call behind its minimum history length.
func talibSafe(input []float64, minLen int, call func() []float64) []float64 {
	if len(input) < minLen {
		return nil
	}
	return call()
}

// lastOf returns the last value of a series, or absent. NaN and Inf
// coerce to absent via fptr.
func lastOf(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	return fptr(series[len(series)-1])
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
