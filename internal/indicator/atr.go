package indicator

import "math"

// wilderATR computes the Wilder-smoothed Average True Range. The true
// range at i uses the previous close; the first ATR is a simple mean of
// the first period true ranges. Needs at least period+1 bars.
func wilderATR(high, low, close []float64, period int) (float64, bool) {
	n := len(close)
	if period <= 0 || n < period+1 || len(high) != n || len(low) != n {
		return 0, false
	}

	tr := func(i int) float64 {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		return math.Max(hl, math.Max(hc, lc))
	}

	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += tr(i)
	}
	atr /= float64(period)

	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + tr(i)) / float64(period)
	}
	return atr, true
}
