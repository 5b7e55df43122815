// Package position tracks simulated positions per (symbol, strategy),
// applies stop-loss / take-profit supervision on every tick and accounts
// fees on both sides of a trade.
package position

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Event types emitted by the manager.
const (
	EventOpen        = "OPEN"
	EventStopLoss    = "STOP_LOSS"
	EventTakeProfit  = "TAKE_PROFIT"
	EventManualClose = "MANUAL_CLOSE"
)

// Position is one open simulated position. Economics (pip size, fees,
// SL/TP distances) are frozen at open time: later config updates apply
// to new positions only.
type Position struct {
	Symbol     string
	Strategy   string
	Direction  string // "BUY" or "SELL"
	EntryPrice float64
	LotSize    float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
	FeeRate    float64
	OpenFee    float64
	PipSize    float64
}

// Unrealized returns the mark-to-market PnL before fees.
func (p *Position) Unrealized(price float64) float64 {
	sign := 1.0
	if p.Direction == "SELL" {
		sign = -1.0
	}
	return (price - p.EntryPrice) * p.LotSize * sign
}

// Pips returns the signed pip distance from entry to price.
func (p *Position) Pips(price float64) float64 {
	sign := 1.0
	if p.Direction == "SELL" {
		sign = -1.0
	}
	return (price - p.EntryPrice) * sign / p.PipSize
}

// Event records an open or close of a position.
type Event struct {
	Type      string
	Position  Position
	Price     float64
	Timestamp time.Time
	PnL       float64
	FeePaid   float64
	Pips      float64
}

// MarshalJSON flattens the position into the event for broadcast.
func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"type":         e.Type,
		"symbol":       e.Position.Symbol,
		"strategy":     e.Position.Strategy,
		"direction":    e.Position.Direction,
		"entry_price":  e.Position.EntryPrice,
		"lot_size":     e.Position.LotSize,
		"stop_loss":    e.Position.StopLoss,
		"take_profit":  e.Position.TakeProfit,
		"opened_at":    e.Position.OpenedAt.Format(time.RFC3339Nano),
		"price":        e.Price,
		"timestamp":    e.Timestamp.Format(time.RFC3339Nano),
		"pnl":          e.PnL,
		"fee_paid":     e.FeePaid,
		"pips":         e.Pips,
	})
}

// Config holds the trade economics applied to newly opened positions.
type Config struct {
	PipSize        float64
	LotSize        float64
	StopLossPips   float64
	TakeProfitPips float64
	FeeRate        float64
}

// ConfigUpdate is a partial config change; nil fields keep their value.
type ConfigUpdate struct {
	PipSize        *float64
	LotSize        *float64
	StopLossPips   *float64
	TakeProfitPips *float64
	FeeRate        *float64
}

type posKey struct {
	symbol   string
	strategy string
}

// Manager owns the position book. Called from the pipeline goroutine and
// from API handlers, so all access is mutex-guarded.
type Manager struct {
	mu            sync.Mutex
	cfg           Config
	tradingActive bool
	positions     map[posKey]*Position
	lastPrice     map[string]float64
}

// NewManager creates a manager with trading active.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:           cfg,
		tradingActive: true,
		positions:     make(map[posKey]*Position),
		lastPrice:     make(map[string]float64),
	}
}

// HandleSignal opens a position for (symbol, strategy) if none exists.
// A signal matching an existing position's direction is a no-op, and so
// is an opposing signal: positions only leave the book through SL/TP or
// an explicit close.
func (m *Manager) HandleSignal(symbol, direction string, price float64, ts time.Time, strategy string) []*Event {
	if direction != "BUY" && direction != "SELL" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPrice[symbol] = price

	if !m.tradingActive {
		return nil
	}
	if _, exists := m.positions[posKey{symbol: symbol, strategy: strategy}]; exists {
		return nil
	}

	pos := m.createPosition(symbol, strategy, direction, price, ts)
	m.positions[posKey{symbol: symbol, strategy: strategy}] = pos
	return []*Event{{
		Type:      EventOpen,
		Position:  *pos,
		Price:     price,
		Timestamp: ts,
		PnL:       -pos.OpenFee,
		FeePaid:   pos.OpenFee,
	}}
}

// EvaluatePrice checks SL/TP for the symbol's positions and closes at
// most one per tick; remaining candidates trigger on subsequent ticks.
func (m *Manager) EvaluatePrice(symbol string, price float64, ts time.Time) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.sortedKeys(symbol)
	if len(keys) == 0 {
		return nil
	}
	m.lastPrice[symbol] = price
	for _, k := range keys {
		pos := m.positions[k]
		if pos.Direction == "BUY" {
			if price <= pos.StopLoss {
				return m.closeLocked(k, price, ts, EventStopLoss)
			}
			if price >= pos.TakeProfit {
				return m.closeLocked(k, price, ts, EventTakeProfit)
			}
		} else {
			if price >= pos.StopLoss {
				return m.closeLocked(k, price, ts, EventStopLoss)
			}
			if price <= pos.TakeProfit {
				return m.closeLocked(k, price, ts, EventTakeProfit)
			}
		}
	}
	return nil
}

// ClosePosition closes the symbol's first position (strategy order) at
// price. Returns nil when the symbol has no open position.
func (m *Manager) ClosePosition(symbol string, price float64, ts time.Time, reason string) *Event {
	if reason == "" {
		reason = EventManualClose
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.sortedKeys(symbol)
	if len(keys) == 0 {
		return nil
	}
	return m.closeLocked(keys[0], price, ts, reason)
}

// Snapshot is the serialized view of one open position.
type Snapshot struct {
	Symbol        string  `json:"symbol"`
	Strategy      string  `json:"strategy"`
	Direction     string  `json:"direction"`
	EntryPrice    float64 `json:"entry_price"`
	LotSize       float64 `json:"lot_size"`
	StopLoss      float64 `json:"stop_loss"`
	TakeProfit    float64 `json:"take_profit"`
	OpenedAt      string  `json:"opened_at"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	LastPrice     float64 `json:"last_price"`
	OpenFee       float64 `json:"open_fee"`
	FeeRate       float64 `json:"fee_rate"`
}

// Serialize returns all open positions marked to the last seen price,
// net of the open fee, in deterministic (symbol, strategy) order.
func (m *Manager) Serialize() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]posKey, 0, len(m.positions))
	for k := range m.positions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].strategy < keys[j].strategy
	})

	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		pos := m.positions[k]
		price := m.lastPriceLocked(k.symbol)
		out = append(out, Snapshot{
			Symbol:        pos.Symbol,
			Strategy:      pos.Strategy,
			Direction:     pos.Direction,
			EntryPrice:    pos.EntryPrice,
			LotSize:       pos.LotSize,
			StopLoss:      pos.StopLoss,
			TakeProfit:    pos.TakeProfit,
			OpenedAt:      pos.OpenedAt.Format(time.RFC3339Nano),
			UnrealizedPnL: pos.Unrealized(price) - pos.OpenFee,
			LastPrice:     price,
			OpenFee:       pos.OpenFee,
			FeeRate:       pos.FeeRate,
		})
	}
	return out
}

// Positions returns copies of the open positions.
func (m *Manager) Positions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// HasPosition reports whether the symbol has any open position.
func (m *Manager) HasPosition(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sortedKeys(symbol)) > 0
}

// GetConfig returns the current trade economics.
func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateConfig applies the non-nil fields. Existing positions keep the
// economics they were opened with.
func (m *Manager) UpdateConfig(u ConfigUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.PipSize != nil {
		m.cfg.PipSize = *u.PipSize
	}
	if u.LotSize != nil {
		m.cfg.LotSize = *u.LotSize
	}
	if u.StopLossPips != nil {
		m.cfg.StopLossPips = *u.StopLossPips
	}
	if u.TakeProfitPips != nil {
		m.cfg.TakeProfitPips = *u.TakeProfitPips
	}
	if u.FeeRate != nil {
		m.cfg.FeeRate = *u.FeeRate
	}
}

// SetTradingActive flips the master switch gating new opens.
func (m *Manager) SetTradingActive(active bool) {
	m.mu.Lock()
	m.tradingActive = active
	m.mu.Unlock()
}

// TradingActive reports the master switch state.
func (m *Manager) TradingActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tradingActive
}

// LastPrice returns the last seen price for symbol; falls back to the
// entry price of an open position, then zero.
func (m *Manager) LastPrice(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPriceLocked(symbol)
}

func (m *Manager) lastPriceLocked(symbol string) float64 {
	if p, ok := m.lastPrice[symbol]; ok {
		return p
	}
	for _, k := range m.sortedKeys(symbol) {
		return m.positions[k].EntryPrice
	}
	return 0
}

func (m *Manager) sortedKeys(symbol string) []posKey {
	var keys []posKey
	for k := range m.positions {
		if k.symbol == symbol {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].strategy < keys[j].strategy })
	return keys
}

func (m *Manager) closeLocked(k posKey, price float64, ts time.Time, reason string) *Event {
	pos, ok := m.positions[k]
	if !ok {
		return nil
	}
	delete(m.positions, k)
	closeFee := price * pos.LotSize * pos.FeeRate
	m.lastPrice[k.symbol] = price
	return &Event{
		Type:      reason,
		Position:  *pos,
		Price:     price,
		Timestamp: ts,
		PnL:       pos.Unrealized(price) - closeFee,
		FeePaid:   closeFee,
		Pips:      pos.Pips(price),
	}
}

func (m *Manager) createPosition(symbol, strategy, direction string, price float64, ts time.Time) *Position {
	offset := m.cfg.PipSize
	stopLoss := price - m.cfg.StopLossPips*offset
	takeProfit := price + m.cfg.TakeProfitPips*offset
	if direction == "SELL" {
		stopLoss = price + m.cfg.StopLossPips*offset
		takeProfit = price - m.cfg.TakeProfitPips*offset
	}
	openFee := price * m.cfg.LotSize * m.cfg.FeeRate
	return &Position{
		Symbol:     symbol,
		Strategy:   strategy,
		Direction:  direction,
		EntryPrice: price,
		LotSize:    m.cfg.LotSize,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   ts,
		FeeRate:    m.cfg.FeeRate,
		OpenFee:    openFee,
		PipSize:    m.cfg.PipSize,
	}
}
