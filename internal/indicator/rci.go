package indicator

// rci computes the Rank Correlation Index over the trailing period
// closes: a Spearman correlation between price rank (ascending, ties get
// the minimum rank) and time index 1..n, scaled to [-100, 100].
func rci(closes []float64, period int) (float64, bool) {
	if period < 2 || len(closes) < period {
		return 0, false
	}
	window := closes[len(closes)-period:]
	n := float64(period)

	sumD2 := 0.0
	for i, v := range window {
		rank := 1
		for _, other := range window {
			if other < v {
				rank++
			}
		}
		d := float64(rank) - float64(i+1)
		sumD2 += d * d
	}
	return (1 - 6*sumD2/(n*(n*n-1))) * 100, true
}
