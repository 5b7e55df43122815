// Package api serves the dashboard HTTP surface: trading config,
// positions, signal history and the /ws/prices event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"aurafx/internal/blackout"
	"aurafx/internal/broadcast"
	"aurafx/internal/configstore"
	"aurafx/internal/indicator"
	"aurafx/internal/live"
	"aurafx/internal/model"
	"aurafx/internal/position"
	"aurafx/internal/signal"
)

// EventHistory reads persisted signal events; satisfied by the sqlite
// store. May be nil when persistence is disabled.
type EventHistory interface {
	RecentEvents(ctx context.Context, limit int) ([]map[string]interface{}, error)
}

// EventSink persists signal events emitted by manual closes.
type EventSink interface {
	InsertEvents(ctx context.Context, events []*signal.Event) error
}

// Deps are the engine components the API exposes. Live, History and
// Sink may be nil.
type Deps struct {
	Hub        *broadcast.Hub
	Positions  *position.Manager
	Signals    *signal.Engine
	Indicators *indicator.Engine
	Store      *indicator.Store
	Calendar   *blackout.Calendar
	Config     *configstore.Store
	History    EventHistory
	Sink       EventSink
	Live       *live.Controller
}

// Server is the dashboard API server.
type Server struct {
	deps     Deps
	upgrader websocket.Upgrader
	now      func() time.Time
}

// New creates the API server.
func New(deps Deps) *Server {
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard is served from a different origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Router returns the HTTP mux with all routes registered.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok")
	})
	mux.HandleFunc("/api/trading/config", s.handleConfig)
	mux.HandleFunc("/api/trading/positions", s.handlePositions)
	mux.HandleFunc("/api/trading/positions/", s.handlePositionClose)
	mux.HandleFunc("/api/signals/history", s.handleSignalHistory)
	mux.HandleFunc("/api/signals/summary", s.handleSignalSummary)
	mux.HandleFunc("/api/signals/recent", s.handleSignalRecent)
	mux.HandleFunc("/ws/prices", s.handlePricesWS)
	return mux
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.currentConfig())
	case http.MethodPut:
		s.handleConfigUpdate(w, r)
	default:
		http.Error(w, "GET or PUT only", http.StatusMethodNotAllowed)
	}
}

// configUpdate is a partial update; absent fields keep their value.
type configUpdate struct {
	PipSize            *float64               `json:"pip_size"`
	LotSize            *float64               `json:"lot_size"`
	StopLossPips       *float64               `json:"stop_loss_pips"`
	TakeProfitPips     *float64               `json:"take_profit_pips"`
	FeeRate            *float64               `json:"fee_rate"`
	TradingActive      *bool                  `json:"trading_active"`
	TrendSMAPeriod     *int                   `json:"trend_sma_period"`
	TrendThresholdPips *float64               `json:"trend_threshold_pips"`
	ATRThresholdPips   *float64               `json:"atr_threshold_pips"`
	BlackoutWindows    *[]blackout.WindowSpec `json:"blackout_windows"`
}

func (u *configUpdate) validate() error {
	checkPositive := func(name string, v *float64) error {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, *v)
		}
		return nil
	}
	for name, v := range map[string]*float64{
		"pip_size":             u.PipSize,
		"lot_size":             u.LotSize,
		"stop_loss_pips":       u.StopLossPips,
		"take_profit_pips":     u.TakeProfitPips,
		"trend_threshold_pips": u.TrendThresholdPips,
	} {
		if err := checkPositive(name, v); err != nil {
			return err
		}
	}
	if u.FeeRate != nil && *u.FeeRate < 0 {
		return fmt.Errorf("fee_rate must not be negative, got %v", *u.FeeRate)
	}
	if u.ATRThresholdPips != nil && *u.ATRThresholdPips < 0 {
		return fmt.Errorf("atr_threshold_pips must not be negative, got %v", *u.ATRThresholdPips)
	}
	if u.TrendSMAPeriod != nil && *u.TrendSMAPeriod <= 0 {
		return fmt.Errorf("trend_sma_period must be positive, got %d", *u.TrendSMAPeriod)
	}
	return nil
}

func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var update configUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := update.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Parse the window set before touching any engine so a bad request
	// changes nothing.
	var windows []blackout.Window
	if update.BlackoutWindows != nil {
		parsed, err := blackout.ParseWindows(*update.BlackoutWindows)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		windows = parsed
	}

	s.deps.Positions.UpdateConfig(position.ConfigUpdate{
		PipSize:        update.PipSize,
		LotSize:        update.LotSize,
		StopLossPips:   update.StopLossPips,
		TakeProfitPips: update.TakeProfitPips,
		FeeRate:        update.FeeRate,
	})
	if update.TradingActive != nil {
		s.deps.Positions.SetTradingActive(*update.TradingActive)
	}
	if update.TrendSMAPeriod != nil {
		s.deps.Indicators.SetTrendSMAPeriod(*update.TrendSMAPeriod)
	}
	if update.TrendThresholdPips != nil {
		s.deps.Indicators.SetTrendThresholdPips(*update.TrendThresholdPips)
	}
	if update.ATRThresholdPips != nil {
		s.deps.Signals.SetATRThresholdPips(*update.ATRThresholdPips)
	}
	if update.BlackoutWindows != nil {
		s.deps.Calendar.SetWindows(windows)
	}

	cfg := s.currentConfig()
	if s.deps.Config != nil {
		data := configDataFrom(cfg)
		if err := s.deps.Config.Save(&data); err != nil {
			log.Printf("[api] persist trading config: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, cfg)
}

// currentConfig assembles the effective runtime configuration.
func (s *Server) currentConfig() map[string]interface{} {
	cfg := s.deps.Positions.GetConfig()
	out := map[string]interface{}{
		"pip_size":             cfg.PipSize,
		"lot_size":             cfg.LotSize,
		"stop_loss_pips":       cfg.StopLossPips,
		"take_profit_pips":     cfg.TakeProfitPips,
		"fee_rate":             cfg.FeeRate,
		"trading_active":       s.deps.Positions.TradingActive(),
		"trend_sma_period":     s.deps.Indicators.TrendSMAPeriod(),
		"trend_threshold_pips": s.deps.Indicators.TrendThresholdPips(),
		"atr_threshold_pips":   s.deps.Signals.ATRThresholdPips(),
		"blackout_windows":     s.deps.Calendar.Specs(),
		"blackout_active":      s.deps.Calendar.IsBlackout(s.now()),
	}
	return out
}

func configDataFrom(cfg map[string]interface{}) configstore.Data {
	return configstore.Data{
		PipSize:            cfg["pip_size"].(float64),
		LotSize:            cfg["lot_size"].(float64),
		StopLossPips:       cfg["stop_loss_pips"].(float64),
		TakeProfitPips:     cfg["take_profit_pips"].(float64),
		FeeRate:            cfg["fee_rate"].(float64),
		TradingActive:      cfg["trading_active"].(bool),
		TrendSMAPeriod:     cfg["trend_sma_period"].(int),
		TrendThresholdPips: cfg["trend_threshold_pips"].(float64),
		ATRThresholdPips:   cfg["atr_threshold_pips"].(float64),
		BlackoutWindows:    cfg["blackout_windows"].([]blackout.WindowSpec),
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions":      s.deps.Positions.Serialize(),
		"trading_active": s.deps.Positions.TradingActive(),
	})
}

// handlePositionClose serves POST /api/trading/positions/{symbol}/close.
func (s *Server) handlePositionClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/trading/positions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "close" {
		http.NotFound(w, r)
		return
	}
	symbol := parts[0]

	price := s.deps.Positions.LastPrice(symbol)
	ev := s.deps.Positions.ClosePosition(symbol, price, s.now(), position.EventManualClose)
	if ev == nil {
		http.Error(w, fmt.Sprintf("no open position for %s", symbol), http.StatusNotFound)
		return
	}
	log.Printf("[api] manual close %s %s at %v (pnl=%.2f)",
		symbol, ev.Position.Strategy, price, ev.PnL)

	s.deps.Hub.Publish(model.Event{Type: "position", Data: ev})
	closeSignal := s.recordClose(symbol, ev)
	s.deps.Hub.Publish(model.Event{Type: "signal", Data: closeSignal})
	if s.deps.Sink != nil {
		if err := s.deps.Sink.InsertEvents(r.Context(), []*signal.Event{closeSignal}); err != nil {
			log.Printf("[api] persist close event: %v", err)
		}
	}
	if s.deps.Live != nil {
		s.deps.Live.ClosePosition(r.Context(), symbol, ev.Position.Direction, ev.Position.LotSize)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"closed": ev})
}

func (s *Server) recordClose(symbol string, ev *position.Event) *signal.Event {
	snap := s.deps.Store.Get(symbol, 60)
	if snap == nil {
		snap = indicator.Fallback(symbol, 60, ev.Price, ev.Timestamp)
	}
	return s.deps.Signals.RecordCloseEvent(
		symbol, "1m", ev.Price, ev.Timestamp,
		snap, ev.Position.Direction, ev.PnL, ev.Pips, ev.Position.Strategy,
	)
}

func (s *Server) handleSignalHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	strategy, err := strategyParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signals": s.deps.Signals.History(strategy),
	})
}

func (s *Server) handleSignalSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	strategy, err := strategyParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, err := timeParam(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": s.deps.Signals.Summarize(strategy, from, to),
	})
}

func (s *Server) handleSignalRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events := []map[string]interface{}{}
	if s.deps.History != nil {
		got, err := s.deps.History.RecentEvents(r.Context(), limit)
		if err != nil {
			log.Printf("[api] recent events: %v", err)
			http.Error(w, "event history unavailable", http.StatusInternalServerError)
			return
		}
		if got != nil {
			events = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// handlePricesWS streams every hub event to the client as JSON.
func (s *Server) handlePricesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] ws upgrade: %v", err)
		return
	}
	sub := s.deps.Hub.Subscribe()
	defer func() {
		s.deps.Hub.Unsubscribe(sub)
		conn.Close()
	}()

	// Reader only detects disconnect; clients never send payloads.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for ev := range sub.Events() {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func strategyParam(r *http.Request) (*signal.Strategy, error) {
	raw := r.URL.Query().Get("strategy")
	if raw == "" {
		return nil, nil
	}
	strategy, ok := signal.ParseStrategy(raw)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", raw)
	}
	return &strategy, nil
}

func timeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC3339, got %q", name, raw)
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}
