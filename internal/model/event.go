package model

// Event is the envelope published on the broadcast hub. Type is one of
// "ticker", "candle", "indicator", "signal", "position". Data holds the
// type-specific payload and must be JSON-marshalable.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
