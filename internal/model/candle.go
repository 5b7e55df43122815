package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Candle is a single OHLCV bar. Timestamp is the bucket start (UTC).
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// ClosedCandle is a finalized candle together with its symbol and
// timeframe (seconds). It is what the aggregator emits downstream.
type ClosedCandle struct {
	Symbol    string
	Timeframe int
	Candle    Candle
}

// MarshalJSON flattens the candle fields and renders the timeframe as a
// human label ("1m", "5m"), which is the shape broadcast subscribers see.
func (c ClosedCandle) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Symbol    string    `json:"symbol"`
		Timeframe string    `json:"timeframe"`
		Timestamp time.Time `json:"timestamp"`
		Open      float64   `json:"open"`
		High      float64   `json:"high"`
		Low       float64   `json:"low"`
		Close     float64   `json:"close"`
		Volume    float64   `json:"volume"`
	}{
		Symbol:    c.Symbol,
		Timeframe: TimeframeLabel(c.Timeframe),
		Timestamp: c.Candle.Timestamp,
		Open:      c.Candle.Open,
		High:      c.Candle.High,
		Low:       c.Candle.Low,
		Close:     c.Candle.Close,
		Volume:    c.Candle.Volume,
	})
}

// TimeframeLabel renders a timeframe in seconds as a short label:
// whole minutes become "Nm", everything else "Ns".
func TimeframeLabel(seconds int) string {
	if seconds > 0 && seconds%60 == 0 {
		return strconv.Itoa(seconds/60) + "m"
	}
	return strconv.Itoa(seconds) + "s"
}
