package indicator

import (
	"fmt"
	"strconv"
	"sync"

	"aurafx/internal/model"
)

// Config holds the indicator parameter set.
type Config struct {
	SMAPeriods []int
	RSIPeriods []int
	RCIPeriods []int

	BBPeriod int
	BBSigmas []float64

	ATRPeriods []int

	TrendWindow        int
	TrendSMAPeriod     int
	TrendThresholdPips float64

	PipSize float64
	MaxRows int // retained candles per (symbol, timeframe) frame
}

// DefaultConfig returns the stock parameter set for FX minute candles.
func DefaultConfig() Config {
	return Config{
		SMAPeriods:         []int{5, 21},
		RSIPeriods:         []int{14},
		RCIPeriods:         []int{6, 9, 27},
		BBPeriod:           21,
		BBSigmas:           []float64{2.0, 3.0},
		ATRPeriods:         []int{14},
		TrendWindow:        10,
		TrendSMAPeriod:     21,
		TrendThresholdPips: 1.5,
		PipSize:            0.001,
		MaxRows:            1000,
	}
}

type frameKey struct {
	symbol    string
	timeframe int
}

// frame is the retained OHLC window for one (symbol, timeframe).
type frame struct {
	high  []float64
	low   []float64
	close []float64
}

// Engine recomputes all configured indicators over the retained frame
// each time a candle closes, and publishes the result to the Store.
// HandleCandle is single-goroutine (the pipeline); the trend setters may
// be called from the config API concurrently.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	store  *Store
	frames map[frameKey]*frame
}

// NewEngine creates an indicator engine backed by store.
func NewEngine(store *Store, cfg Config) *Engine {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		frames: make(map[frameKey]*frame),
	}
}

// HandleCandle appends a closed candle to the frame, recomputes the
// snapshot and caches it. The snapshot timestamp is the candle's bucket
// start.
func (e *Engine) HandleCandle(symbol string, timeframe int, c model.Candle) *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := frameKey{symbol: symbol, timeframe: timeframe}
	f, ok := e.frames[k]
	if !ok {
		f = &frame{}
		e.frames[k] = f
	}
	f.high = appendBounded(f.high, c.High, e.cfg.MaxRows)
	f.low = appendBounded(f.low, c.Low, e.cfg.MaxRows)
	f.close = appendBounded(f.close, c.Close, e.cfg.MaxRows)

	snap := &Snapshot{
		Symbol:    symbol,
		Timeframe: strconv.Itoa(timeframe),
		Timestamp: c.Timestamp,
		Close:     c.Close,
		SMA:       map[string]float64{},
		RSI:       map[string]float64{},
		RCI:       map[string]float64{},
		BB:        map[string]Band{},
		ATR:       map[string]float64{},
	}

	for _, p := range e.cfg.SMAPeriods {
		if v, ok := lastSMA(f.close, p); ok {
			snap.SMA[strconv.Itoa(p)] = v
		}
	}
	for _, p := range e.cfg.RSIPeriods {
		if v, ok := wilderRSI(f.close, p); ok {
			snap.RSI[strconv.Itoa(p)] = v
		}
	}
	for _, p := range e.cfg.RCIPeriods {
		if v, ok := rci(f.close, p); ok {
			snap.RCI[strconv.Itoa(p)] = v
		}
	}
	for _, sigma := range e.cfg.BBSigmas {
		if band, ok := bollinger(f.close, e.cfg.BBPeriod, sigma); ok {
			snap.BB[bbKey(e.cfg.BBPeriod, sigma)] = band
		}
	}
	for _, p := range e.cfg.ATRPeriods {
		if v, ok := wilderATR(f.high, f.low, f.close, p); ok {
			snap.ATR[strconv.Itoa(p)] = v
		}
	}
	snap.Trend = regressionTrend(f.close, e.cfg.TrendSMAPeriod, e.cfg.TrendWindow,
		e.cfg.TrendThresholdPips, e.cfg.PipSize)

	e.store.Set(symbol, timeframe, snap)
	return snap
}

// BBPeriod returns the configured Bollinger period.
func (e *Engine) BBPeriod() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.BBPeriod
}

// TrendSMAPeriod returns the SMA period feeding the trend regression.
func (e *Engine) TrendSMAPeriod() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.TrendSMAPeriod
}

// SetTrendSMAPeriod updates the SMA period feeding the trend regression.
func (e *Engine) SetTrendSMAPeriod(period int) error {
	if period <= 0 {
		return fmt.Errorf("trend sma period must be positive, got %d", period)
	}
	e.mu.Lock()
	e.cfg.TrendSMAPeriod = period
	e.mu.Unlock()
	return nil
}

// TrendThresholdPips returns the slope threshold in pips per bar.
func (e *Engine) TrendThresholdPips() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.TrendThresholdPips
}

// SetTrendThresholdPips updates the slope threshold in pips per bar.
func (e *Engine) SetTrendThresholdPips(pips float64) error {
	if pips <= 0 {
		return fmt.Errorf("trend threshold must be positive, got %v", pips)
	}
	e.mu.Lock()
	e.cfg.TrendThresholdPips = pips
	e.mu.Unlock()
	return nil
}

func appendBounded(s []float64, v float64, limit int) []float64 {
	if len(s) >= limit {
		copy(s, s[1:])
		s[len(s)-1] = v
		return s
	}
	return append(s, v)
}
