// Package indicator computes technical indicators over closed-candle
// frames and caches the latest snapshot per (symbol, timeframe).
//
// Values are recomputed over the full retained frame on every closed
// candle. Indicators whose warm-up is not yet satisfied are simply absent
// from the snapshot maps; consumers probe with the Get helpers.
package indicator

import (
	"strconv"
	"time"
)

// Band is one Bollinger band triple. Pointers: a band can be present with
// the mid only while the std is still warming up.
type Band struct {
	Lower *float64 `json:"lower"`
	Mid   *float64 `json:"mid"`
	Upper *float64 `json:"upper"`
}

// Trend describes the SMA regression-slope trend state.
type Trend struct {
	Method    string   `json:"method"`
	Window    int      `json:"window"`
	Slope     *float64 `json:"slope"`
	SlopePips *float64 `json:"slope_pips"`
	Direction string   `json:"direction"`
	Ready     bool     `json:"ready"`
}

// Snapshot is the full indicator state after one closed candle.
// Map keys are stringified periods; Bollinger keys are "period_sigma".
type Snapshot struct {
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe"`
	Timestamp time.Time          `json:"timestamp"`
	Close     float64            `json:"close"`
	SMA       map[string]float64 `json:"sma"`
	RSI       map[string]float64 `json:"rsi"`
	RCI       map[string]float64 `json:"rci"`
	BB        map[string]Band    `json:"bb"`
	Trend     Trend              `json:"trend"`
	ATR       map[string]float64 `json:"atr"`
}

// Fallback builds a minimal snapshot for consumers that need one before
// the first candle of a series has closed (e.g. stop-loss close events).
// All indicator maps are empty and the trend is not ready.
func Fallback(symbol string, timeframe int, price float64, ts time.Time) *Snapshot {
	return &Snapshot{
		Symbol:    symbol,
		Timeframe: strconv.Itoa(timeframe),
		Timestamp: ts,
		Close:     price,
		SMA:       map[string]float64{},
		RSI:       map[string]float64{},
		RCI:       map[string]float64{},
		BB:        map[string]Band{},
		ATR:       map[string]float64{},
	}
}

// GetSMA returns the SMA for period, if computed.
func (s *Snapshot) GetSMA(period int) (float64, bool) {
	v, ok := s.SMA[strconv.Itoa(period)]
	return v, ok
}

// GetRSI returns the RSI for period, if computed.
func (s *Snapshot) GetRSI(period int) (float64, bool) {
	v, ok := s.RSI[strconv.Itoa(period)]
	return v, ok
}

// GetRCI returns the RCI for period, if computed.
func (s *Snapshot) GetRCI(period int) (float64, bool) {
	v, ok := s.RCI[strconv.Itoa(period)]
	return v, ok
}

// GetATR returns the ATR for period, if computed.
func (s *Snapshot) GetATR(period int) (float64, bool) {
	v, ok := s.ATR[strconv.Itoa(period)]
	return v, ok
}

// GetBB returns the upper/lower band for (period, sigma). Either pointer
// may be nil while the band is warming up.
func (s *Snapshot) GetBB(period int, sigma float64) (upper, lower *float64) {
	b, ok := s.BB[bbKey(period, sigma)]
	if !ok {
		return nil, nil
	}
	return b.Upper, b.Lower
}

// bbKey keeps a trailing ".0" on whole sigmas so "21_2.0" and "21_2.5"
// read uniformly in serialized snapshots.
func bbKey(period int, sigma float64) string {
	s := strconv.FormatFloat(sigma, 'f', -1, 64)
	if !containsDot(s) {
		s += ".0"
	}
	return strconv.Itoa(period) + "_" + s
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}
