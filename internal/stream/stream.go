// Package stream connects to the broker's public WebSocket, normalizes
// ticker frames and drives the whole per-tick pipeline: position
// supervision, candle aggregation, indicator computation, signal
// evaluation and live order submission, publishing every stage to the
// broadcast hub in a fixed order.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"aurafx/internal/broadcast"
	"aurafx/internal/candle"
	"aurafx/internal/indicator"
	"aurafx/internal/live"
	"aurafx/internal/metrics"
	"aurafx/internal/model"
	"aurafx/internal/position"
	"aurafx/internal/ratelimit"
	"aurafx/internal/signal"
)

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 20 * time.Second
	readTimeout    = 60 * time.Second
	subscribePause = 50 * time.Millisecond
)

// EventSink persists signal events; satisfied by the sqlite store.
type EventSink interface {
	InsertEvents(ctx context.Context, events []*signal.Event) error
}

// Config sets the connection parameters.
type Config struct {
	Endpoint string
	Symbols  []string
}

// Deps are the pipeline stages the stream drives. Live, Events and
// Metrics may be nil.
type Deps struct {
	Hub        *broadcast.Hub
	Aggregator *candle.Aggregator
	Indicators *indicator.Engine
	Store      *indicator.Store
	Signals    *signal.Engine
	Positions  *position.Manager
	Live       *live.Controller
	Events     EventSink
	Limiter    *ratelimit.Limiter
	Metrics    *metrics.Metrics
}

// Stream is the market data client and pipeline driver.
type Stream struct {
	cfg    Config
	deps   Deps
	dialer websocket.Dialer
}

// New creates a stream.
func New(cfg Config, deps Deps) *Stream {
	return &Stream{
		cfg:    cfg,
		deps:   deps,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run connects and processes frames until ctx is cancelled, reconnecting
// after errors. On shutdown, open candles are flushed and published so
// partial bars are not lost.
func (s *Stream) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[stream] connection error: %v", err)
			if s.deps.Metrics != nil {
				s.deps.Metrics.WSReconnects.Inc()
			}
			select {
			case <-ctx.Done():
			case <-time.After(reconnectDelay):
			}
		}
	}

	for _, cc := range s.deps.Aggregator.FlushOpen() {
		s.deps.Hub.Publish(model.Event{Type: "candle", Data: cc})
	}
	return nil
}

func (s *Stream) runOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.Endpoint, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// Keepalive pings; closing the conn on ctx.Done unblocks ReadMessage.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingDone:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	if err := s.subscribeAll(ctx, conn); err != nil {
		return err
	}
	log.Printf("[stream] subscribed to %d symbols", len(s.cfg.Symbols))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		s.handleMessage(ctx, raw)
	}
}

func (s *Stream) subscribeAll(ctx context.Context, conn *websocket.Conn) error {
	for _, symbol := range s.cfg.Symbols {
		if s.deps.Limiter != nil {
			if err := s.deps.Limiter.Acquire(ctx, "ws-sub"); err != nil {
				return err
			}
		}
		cmd := map[string]string{"command": "subscribe", "channel": "ticker", "symbol": symbol}
		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
		time.Sleep(subscribePause)
	}
	return nil
}

// tickerFrame is a raw ticker message. Numeric fields arrive as strings
// or numbers depending on the feed, hence json.RawMessage.
type tickerFrame struct {
	Symbol    string          `json:"symbol"`
	Timestamp string          `json:"timestamp"`
	Bid       json.RawMessage `json:"bid"`
	Ask       json.RawMessage `json:"ask"`
	Last      json.RawMessage `json:"last"`
	Price     json.RawMessage `json:"price"`
	Volume    json.RawMessage `json:"volume"`
}

func (s *Stream) handleMessage(ctx context.Context, raw []byte) {
	var frame tickerFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("[stream] non-JSON message: %.120s", raw)
		return
	}
	if frame.Symbol == "" {
		return
	}

	s.deps.Hub.Publish(model.Event{Type: "ticker", Data: json.RawMessage(raw)})

	price, err := extractPrice(&frame)
	if err != nil {
		log.Printf("[stream] %s: %v", frame.Symbol, err)
		return
	}
	ts, err := parseTimestamp(frame.Timestamp)
	if err != nil {
		log.Printf("[stream] %s: bad timestamp %q", frame.Symbol, frame.Timestamp)
		return
	}
	volume := 0.0
	if v := parseNumber(frame.Volume); v != nil {
		volume = *v
	}

	s.HandleTick(ctx, model.Tick{
		Symbol:    frame.Symbol,
		Price:     price,
		Volume:    volume,
		Spread:    extractSpread(&frame),
		Timestamp: ts,
	})
}

// HandleTick runs the full pipeline for one normalized tick. Exported so
// tests can drive the pipeline without a WebSocket.
func (s *Stream) HandleTick(ctx context.Context, tick model.Tick) {
	start := time.Now()
	if s.deps.Metrics != nil {
		s.deps.Metrics.TicksTotal.Inc()
		defer func() {
			s.deps.Metrics.TickHandleDur.Observe(time.Since(start).Seconds())
		}()
	}

	symbol, price, ts := tick.Symbol, tick.Price, tick.Timestamp

	// Stop-loss / take-profit supervision runs before aggregation so the
	// close is attributed to the tick that breached the level.
	if posEvent := s.deps.Positions.EvaluatePrice(symbol, price, ts); posEvent != nil {
		s.publishPositionEvent(posEvent)
		closeSignal := s.recordClose(symbol, 60, price, posEvent)
		s.publishSignalEvent(closeSignal)
		s.persistSignals(ctx, []*signal.Event{closeSignal})
		if s.deps.Live != nil {
			s.deps.Live.HandlePositionEvent(ctx, posEvent)
		}
	}

	for _, cc := range s.deps.Aggregator.AddTick(symbol, price, tick.Volume, ts) {
		s.deps.Hub.Publish(model.Event{Type: "candle", Data: cc})
		if s.deps.Metrics != nil {
			s.deps.Metrics.CandlesTotal.WithLabelValues(model.TimeframeLabel(cc.Timeframe)).Inc()
		}
		if snap := s.deps.Indicators.HandleCandle(cc.Symbol, cc.Timeframe, cc.Candle); snap != nil {
			s.deps.Hub.Publish(model.Event{Type: "indicator", Data: snap})
			if s.deps.Metrics != nil {
				s.deps.Metrics.IndicatorsTotal.Inc()
			}
		}
	}

	for _, tf := range s.deps.Aggregator.Timeframes() {
		snap := s.deps.Store.Get(symbol, tf)
		if snap == nil {
			continue
		}
		label := model.TimeframeLabel(tf)
		candles := s.deps.Aggregator.Candles(symbol, tf)
		events := s.deps.Signals.Evaluate(symbol, label, tf, price, snap, ts, candles)
		for _, ev := range events {
			var posEvents []*position.Event
			if ev.Direction == "BUY" || ev.Direction == "SELL" {
				posEvents = s.deps.Positions.HandleSignal(symbol, ev.Direction, price, ts, string(ev.Strategy))
			}
			ev.TradeAction = classifyTradeAction(posEvents)

			for _, pe := range posEvents {
				if pe.Type == position.EventOpen {
					continue
				}
				closeSignal := s.recordClose(symbol, tf, price, pe)
				s.publishSignalEvent(closeSignal)
				s.persistSignals(ctx, []*signal.Event{closeSignal})
				if s.deps.Live != nil {
					s.deps.Live.HandlePositionEvent(ctx, pe)
				}
			}
			if s.deps.Live != nil {
				s.deps.Live.HandleSignal(ctx, ev, tick.Spread)
			}
			s.publishSignalEvent(ev)
			for _, pe := range posEvents {
				s.publishPositionEvent(pe)
			}
		}
		s.persistSignals(ctx, events)
	}
}

func (s *Stream) recordClose(symbol string, timeframe int, price float64, pe *position.Event) *signal.Event {
	snap := s.deps.Store.Get(symbol, timeframe)
	if snap == nil {
		snap = indicator.Fallback(symbol, timeframe, price, pe.Timestamp)
	}
	return s.deps.Signals.RecordCloseEvent(
		symbol, model.TimeframeLabel(timeframe), pe.Price, pe.Timestamp,
		snap, pe.Position.Direction, pe.PnL, pe.Pips, pe.Position.Strategy,
	)
}

func (s *Stream) publishSignalEvent(ev *signal.Event) {
	s.deps.Hub.Publish(model.Event{Type: "signal", Data: ev})
	if s.deps.Metrics != nil {
		s.deps.Metrics.SignalsTotal.WithLabelValues(string(ev.Strategy)).Inc()
	}
}

func (s *Stream) publishPositionEvent(pe *position.Event) {
	s.deps.Hub.Publish(model.Event{Type: "position", Data: pe})
	if s.deps.Metrics != nil {
		s.deps.Metrics.PositionEvents.WithLabelValues(pe.Type).Inc()
	}
}

func (s *Stream) persistSignals(ctx context.Context, events []*signal.Event) {
	if len(events) == 0 || s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.InsertEvents(ctx, events); err != nil {
		log.Printf("[stream] persist signal events: %v", err)
	}
}

// classifyTradeAction summarizes what the position manager did.
func classifyTradeAction(posEvents []*position.Event) string {
	if len(posEvents) == 0 {
		return signal.ActionNone
	}
	hasOpen, hasClose := false, false
	for _, pe := range posEvents {
		switch pe.Type {
		case position.EventOpen:
			hasOpen = true
		case position.EventStopLoss, position.EventTakeProfit, position.EventManualClose:
			hasClose = true
		}
	}
	switch {
	case hasOpen && hasClose:
		return signal.ActionReverse
	case hasOpen:
		return signal.ActionOpen
	case hasClose:
		return signal.ActionClose
	}
	return signal.ActionNone
}

// extractPrice prefers the bid/ask midpoint, then last/price, then one
// side alone.
func extractPrice(f *tickerFrame) (float64, error) {
	bid := parseNumber(f.Bid)
	ask := parseNumber(f.Ask)
	if bid != nil && ask != nil {
		return (*bid + *ask) / 2, nil
	}
	if last := parseNumber(f.Last); last != nil {
		return *last, nil
	}
	if p := parseNumber(f.Price); p != nil {
		return *p, nil
	}
	if ask != nil {
		return *ask, nil
	}
	if bid != nil {
		return *bid, nil
	}
	return 0, errors.New("no price fields in ticker frame")
}

func extractSpread(f *tickerFrame) *float64 {
	bid := parseNumber(f.Bid)
	ask := parseNumber(f.Ask)
	if bid == nil || ask == nil {
		return nil
	}
	spread := *ask - *bid
	return &spread
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return &num
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return nil
	}
	num, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return nil
	}
	return &num
}

func parseTimestamp(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}
