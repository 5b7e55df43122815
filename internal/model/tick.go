// Package model defines the core data types shared across the engine
// pipeline: ticks, candles, and the broadcast event envelope.
package model

import "time"

// Tick is a normalized price update extracted from a broker ticker frame.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Spread    *float64  `json:"spread,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
