// Package signal evaluates indicator snapshots against a table of
// strategies and keeps the per-strategy signal history.
package signal

import (
	"math"
	"sync"
	"time"

	"aurafx/internal/blackout"
	"aurafx/internal/indicator"
	"aurafx/internal/model"
)

type sigKey struct {
	strategy  Strategy
	symbol    string
	timeframe string
	direction string
}

type prevKey struct {
	symbol    string
	timeframe string
}

// Config parameterizes the signal engine.
type Config struct {
	PipSize          float64
	Cooldown         time.Duration
	BBPeriod         int
	BBSigma          float64
	HistoryLimit     int
	ATRThresholdPips float64
}

// Engine turns indicator snapshots into signal events. Evaluate runs on
// the pipeline goroutine; history/summary queries and the ATR threshold
// setter come from API handlers, hence the mutex.
type Engine struct {
	mu       sync.Mutex
	store    *indicator.Store
	calendar *blackout.Calendar

	pipSize          float64
	cooldown         time.Duration
	bbPeriod         int
	bbSigma          float64
	historyLimit     int
	atrThresholdPips float64

	lastSignal      map[sigKey]time.Time
	lastIndicatorTS map[sigKey]time.Time
	histories       map[Strategy][]*Event
	prevSnapshots   map[prevKey]*indicator.Snapshot
}

// NewEngine creates a signal engine reading snapshots from store and
// gating on calendar.
func NewEngine(store *indicator.Store, calendar *blackout.Calendar, cfg Config) *Engine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.BBPeriod <= 0 {
		cfg.BBPeriod = 21
	}
	if cfg.BBSigma <= 0 {
		cfg.BBSigma = 2.0
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	return &Engine{
		store:            store,
		calendar:         calendar,
		pipSize:          cfg.PipSize,
		cooldown:         cfg.Cooldown,
		bbPeriod:         cfg.BBPeriod,
		bbSigma:          cfg.BBSigma,
		historyLimit:     cfg.HistoryLimit,
		atrThresholdPips: cfg.ATRThresholdPips,
		lastSignal:       make(map[sigKey]time.Time),
		lastIndicatorTS:  make(map[sigKey]time.Time),
		histories:        make(map[Strategy][]*Event),
		prevSnapshots:    make(map[prevKey]*indicator.Snapshot),
	}
}

// SetATRThresholdPips updates the 1m volatility floor.
func (e *Engine) SetATRThresholdPips(pips float64) {
	e.mu.Lock()
	e.atrThresholdPips = pips
	e.mu.Unlock()
}

// ATRThresholdPips returns the 1m volatility floor.
func (e *Engine) ATRThresholdPips() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.atrThresholdPips
}

// Evaluate runs every strategy registered for the timeframe and returns
// the events that survived dedup and cooldown. The blackout gate uses
// the evaluation timestamp, not the wall clock.
func (e *Engine) Evaluate(symbol, timeframe string, timeframeSeconds int, price float64,
	ind *indicator.Snapshot, ts time.Time, candles []model.Candle) []*Event {

	if e.calendar != nil && e.calendar.IsBlackout(ts) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := &Context{
		Symbol:           symbol,
		Timeframe:        timeframe,
		TimeframeSeconds: timeframeSeconds,
		Price:            price,
		Indicator:        ind,
		Previous:         e.prevSnapshots[prevKey{symbol: symbol, timeframe: timeframe}],
		Timestamp:        ts,
		Candles:          candles,
		OtherSnapshot: func(tfSeconds int) *indicator.Snapshot {
			return e.store.Get(symbol, tfSeconds)
		},
		PipSize: e.pipSize,
	}

	// Gated evaluations leave the previous-snapshot cache untouched: the
	// next full run compares against the last snapshot strategies saw.
	var events []*Event
	if !ind.Trend.Ready {
		return events
	}

	// Volatility floor: skip quiet 1m markets entirely.
	if timeframe == "1m" && e.atrThresholdPips > 0 {
		if atr14, ok := ind.GetATR(14); ok {
			if atr14/e.pipSize < e.atrThresholdPips {
				return events
			}
		}
	}

	for _, strategy := range strategiesForTimeframe(timeframe) {
		ev := strategyHandlers[strategy](e, ctx)
		if ev == nil {
			continue
		}
		if e.registerEvent(ev, ind) {
			events = append(events, ev)
		}
	}

	e.prevSnapshots[prevKey{symbol: symbol, timeframe: timeframe}] = ind
	return events
}

// RecordCloseEvent records a position close as a signal event. Close
// events bypass the cooldown but still dedup on the indicator timestamp.
func (e *Engine) RecordCloseEvent(symbol, timeframe string, price float64, ts time.Time,
	ind *indicator.Snapshot, direction string, pnl, pips float64, strategyKey string) *Event {

	strategy, _ := ParseStrategy(strategyKey)
	p, pp := pnl, pips
	ev := &Event{
		Symbol:      symbol,
		Timeframe:   timeframe,
		Direction:   direction,
		Price:       price,
		OccurredAt:  ts,
		Indicator:   ind,
		Strategy:    strategy,
		TradeAction: ActionClose,
		PnL:         &p,
		Pips:        &pp,
	}
	e.mu.Lock()
	e.registerEvent(ev, ind)
	e.mu.Unlock()
	return ev
}

// registerEvent applies dedup (same indicator timestamp as the last
// registered event for the key) and, for non-close events, the cooldown.
// Caller holds e.mu.
func (e *Engine) registerEvent(ev *Event, ind *indicator.Snapshot) bool {
	key := sigKey{strategy: ev.Strategy, symbol: ev.Symbol, timeframe: ev.Timeframe, direction: ev.Direction}

	if last, ok := e.lastIndicatorTS[key]; ok && last.Equal(ind.Timestamp) {
		return false
	}

	if ev.TradeAction != ActionClose {
		if last, ok := e.lastSignal[key]; ok && ev.OccurredAt.Sub(last) < e.cooldown {
			return false
		}
	}

	e.lastIndicatorTS[key] = ind.Timestamp
	e.lastSignal[key] = ev.OccurredAt
	e.appendHistory(ev)
	return true
}

func (e *Engine) appendHistory(ev *Event) {
	h := e.histories[ev.Strategy]
	if len(h) >= e.historyLimit {
		copy(h, h[1:])
		h[len(h)-1] = ev
	} else {
		h = append(h, ev)
	}
	e.histories[ev.Strategy] = h
}

// History returns the retained events per strategy, oldest first.
// A nil strategy returns all strategies; empty histories are omitted.
func (e *Engine) History(strategy *Strategy) map[string][]*Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	strategies := AllStrategies
	if strategy != nil {
		strategies = []Strategy{*strategy}
	}
	result := make(map[string][]*Event)
	for _, s := range strategies {
		h := e.histories[s]
		if len(h) == 0 {
			continue
		}
		result[string(s)] = append([]*Event(nil), h...)
	}
	return result
}

// Summary aggregates per-strategy performance over retained events.
type Summary struct {
	Strategy     string  `json:"strategy"`
	StrategyName string  `json:"strategy_name"`
	TotalSignals int     `json:"total_signals"`
	TotalTrades  int     `json:"total_trades"`
	TotalCloses  int     `json:"total_closes"`
	WinCount     int     `json:"win_count"`
	LossCount    int     `json:"loss_count"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	TotalPips    float64 `json:"total_pips"`
	AvgPnL       float64 `json:"avg_pnl"`
	MaxProfit    float64 `json:"max_profit"`
	MaxLoss      float64 `json:"max_loss"`
}

// Summarize computes per-strategy statistics, optionally filtered by
// strategy and an inclusive occurred_at range.
func (e *Engine) Summarize(strategy *Strategy, from, to *time.Time) map[string]Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	strategies := AllStrategies
	if strategy != nil {
		strategies = []Strategy{*strategy}
	}

	result := make(map[string]Summary)
	for _, s := range strategies {
		var filtered []*Event
		for _, ev := range e.histories[s] {
			if from != nil && ev.OccurredAt.Before(*from) {
				continue
			}
			if to != nil && ev.OccurredAt.After(*to) {
				continue
			}
			filtered = append(filtered, ev)
		}
		if len(filtered) == 0 {
			continue
		}

		sum := Summary{Strategy: string(s), StrategyName: s.Label(), TotalSignals: len(filtered)}
		var closes []*Event
		for _, ev := range filtered {
			switch ev.TradeAction {
			case ActionOpen, ActionReverse:
				sum.TotalTrades++
			case ActionClose:
				closes = append(closes, ev)
			}
		}
		sum.TotalCloses = len(closes)

		maxProfit, maxLoss := 0.0, 0.0
		for _, ev := range closes {
			if ev.PnL != nil {
				sum.TotalPnL += *ev.PnL
				if *ev.PnL > maxProfit {
					maxProfit = *ev.PnL
				}
				if *ev.PnL < maxLoss {
					maxLoss = *ev.PnL
				}
			}
			if ev.Pips != nil {
				sum.TotalPips += *ev.Pips
				if *ev.Pips > 0 {
					sum.WinCount++
				} else if *ev.Pips < 0 {
					sum.LossCount++
				}
			}
		}
		if len(closes) > 0 {
			sum.WinRate = round2(float64(sum.WinCount) / float64(len(closes)) * 100)
			sum.AvgPnL = round2(sum.TotalPnL / float64(len(closes)))
		}
		sum.TotalPnL = round2(sum.TotalPnL)
		sum.TotalPips = round2(sum.TotalPips)
		sum.MaxProfit = round2(maxProfit)
		sum.MaxLoss = round2(maxLoss)

		result[string(s)] = sum
	}
	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
