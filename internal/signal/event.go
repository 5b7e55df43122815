package signal

import (
	"encoding/json"
	"time"

	"aurafx/internal/indicator"
)

// Trade actions describing what the position manager did with a signal.
const (
	ActionNone    = "NONE"
	ActionOpen    = "OPEN"
	ActionClose   = "CLOSE"
	ActionReverse = "REVERSE"
)

// Event is one emitted trading signal with the indicator snapshot it was
// derived from. PnL/Pips are set on close events only.
type Event struct {
	Symbol      string
	Timeframe   string
	Direction   string // "BUY" or "SELL"
	Price       float64
	OccurredAt  time.Time
	Indicator   *indicator.Snapshot
	Strategy    Strategy
	TradeAction string
	PnL         *float64
	Pips        *float64
}

// MarshalJSON flattens the event and its indicator snapshot into the
// wire shape broadcast and persisted by the engine.
func (e *Event) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"symbol":        e.Symbol,
		"timeframe":     e.Timeframe,
		"direction":     e.Direction,
		"price":         e.Price,
		"occurred_at":   e.OccurredAt.Format(time.RFC3339Nano),
		"strategy":      string(e.Strategy),
		"strategy_name": e.Strategy.Label(),
		"trade_action":  e.TradeAction,
	}
	if e.Indicator != nil {
		out["indicator_timestamp"] = e.Indicator.Timestamp.Format(time.RFC3339Nano)
		out["close"] = e.Indicator.Close
		out["sma"] = e.Indicator.SMA
		out["rsi"] = e.Indicator.RSI
		out["rci"] = e.Indicator.RCI
		out["bb"] = e.Indicator.BB
		out["trend"] = e.Indicator.Trend
	}
	if e.PnL != nil {
		out["pnl"] = *e.PnL
	}
	if e.Pips != nil {
		out["pips"] = *e.Pips
	}
	return json.Marshal(out)
}
