package indicator

// lastSMA returns the simple moving average of the trailing period
// values. ok is false while fewer than period values exist.
func lastSMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// smaSeries computes the rolling SMA over values. Positions before the
// warm-up are reported as absent via the ok slice.
func smaSeries(values []float64, period int) ([]float64, []bool) {
	out := make([]float64, len(values))
	ok := make([]bool, len(values))
	if period <= 0 {
		return out, ok
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
			ok[i] = true
		}
	}
	return out, ok
}
