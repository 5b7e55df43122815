package indicator

import "math"

// bollinger computes the Bollinger band triple over the trailing period
// closes: mid is the SMA, upper/lower sit sigma sample standard
// deviations away.
func bollinger(closes []float64, period int, sigma float64) (Band, bool) {
	mid, ok := lastSMA(closes, period)
	if !ok || period < 2 {
		return Band{}, false
	}
	window := closes[len(closes)-period:]
	sumSq := 0.0
	for _, v := range window {
		d := v - mid
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(period-1))
	upper := mid + sigma*std
	lower := mid - sigma*std
	return Band{Lower: &lower, Mid: &mid, Upper: &upper}, true
}
