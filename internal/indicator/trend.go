package indicator

const (
	trendUp   = "up"
	trendDown = "down"
	trendFlat = "flat"
)

// regressionTrend fits a least-squares line through the last window
// values of the rolling SMA(smaPeriod) of closes and classifies the
// slope (converted to pips per bar) against thresholdPips. Ready only
// when the regression could actually be computed.
func regressionTrend(closes []float64, smaPeriod, window int, thresholdPips, pipSize float64) Trend {
	t := Trend{Method: "regression", Window: window, Direction: trendFlat}
	if smaPeriod <= 0 || window < 2 || pipSize <= 0 {
		return t
	}

	series, ok := smaSeries(closes, smaPeriod)
	valid := make([]float64, 0, len(series))
	for i, v := range series {
		if ok[i] {
			valid = append(valid, v)
		}
	}
	if len(valid) < window {
		return t
	}
	recent := valid[len(valid)-window:]

	// x = 0..n-1; closed-form least-squares slope.
	n := float64(window)
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range recent {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return t
	}
	slope := (n*sumXY - sumX*sumY) / denom
	slopePips := slope / pipSize

	t.Slope = &slope
	t.SlopePips = &slopePips
	t.Ready = true
	// Strictly beyond the threshold; a slope exactly at it stays flat.
	switch {
	case slopePips > thresholdPips:
		t.Direction = trendUp
	case slopePips < -thresholdPips:
		t.Direction = trendDown
	}
	return t
}
