package indicator

import (
	"math"
	"testing"
	"time"

	"aurafx/internal/model"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLastSMA(t *testing.T) {
	if _, ok := lastSMA([]float64{1, 2}, 3); ok {
		t.Fatal("SMA reported ready before warm-up")
	}
	v, ok := lastSMA([]float64{1, 2, 3, 4}, 3)
	if !ok || !almostEqual(v, 3) {
		t.Errorf("SMA(3) over [1 2 3 4] = %v (%v), want 3", v, ok)
	}
}

func TestWilderRSI(t *testing.T) {
	if _, ok := wilderRSI([]float64{1, 2, 3}, 3); ok {
		t.Fatal("RSI reported ready with only period closes")
	}

	// All gains: RSI pegs at 100.
	v, ok := wilderRSI([]float64{1, 2, 3, 4, 5}, 3)
	if !ok || v != 100 {
		t.Errorf("RSI of monotone rise = %v (%v), want 100", v, ok)
	}

	// Seed mean over first 3 deltas, one smoothed step after.
	v, ok = wilderRSI([]float64{1, 2, 3, 2, 3}, 3)
	if !ok {
		t.Fatal("RSI not ready")
	}
	want := 100 - 100/(1+3.5)
	if !almostEqual(v, want) {
		t.Errorf("RSI = %v, want %v", v, want)
	}
}

func TestRCIExtremes(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5, 6}
	v, ok := rci(up, 6)
	if !ok || !almostEqual(v, 100) {
		t.Errorf("RCI of rising series = %v (%v), want 100", v, ok)
	}

	down := []float64{6, 5, 4, 3, 2, 1}
	v, ok = rci(down, 6)
	if !ok || !almostEqual(v, -100) {
		t.Errorf("RCI of falling series = %v (%v), want -100", v, ok)
	}

	if _, ok := rci([]float64{1, 2}, 6); ok {
		t.Error("RCI reported ready before warm-up")
	}
}

func TestBollinger(t *testing.T) {
	band, ok := bollinger([]float64{1, 2, 3}, 3, 2)
	if !ok {
		t.Fatal("bollinger not ready")
	}
	if !almostEqual(*band.Mid, 2) {
		t.Errorf("mid = %v, want 2", *band.Mid)
	}
	// Sample std of [1 2 3] is 1.
	if !almostEqual(*band.Upper, 4) || !almostEqual(*band.Lower, 0) {
		t.Errorf("bands = %v/%v, want 4/0", *band.Upper, *band.Lower)
	}

	if _, ok := bollinger([]float64{1, 2}, 3, 2); ok {
		t.Error("bollinger reported ready before warm-up")
	}
}

func TestWilderATR(t *testing.T) {
	high := []float64{2, 3, 4}
	low := []float64{1, 2, 3}
	close := []float64{1.5, 2.5, 3.5}
	v, ok := wilderATR(high, low, close, 2)
	if !ok || !almostEqual(v, 1.5) {
		t.Errorf("ATR = %v (%v), want 1.5", v, ok)
	}

	if _, ok := wilderATR(high[:2], low[:2], close[:2], 2); ok {
		t.Error("ATR reported ready before warm-up")
	}
}

func TestRegressionTrendDirections(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = 150 + float64(i)*0.001
	}
	tr := regressionTrend(rising, 2, 3, 0.5, 0.001)
	if !tr.Ready || tr.Direction != "up" {
		t.Errorf("rising trend = %+v, want ready up", tr)
	}
	if tr.SlopePips == nil || !almostEqual(*tr.SlopePips, 1) {
		t.Errorf("slope pips = %v, want 1", tr.SlopePips)
	}

	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = 150 - float64(i)*0.001
	}
	tr = regressionTrend(falling, 2, 3, 0.5, 0.001)
	if !tr.Ready || tr.Direction != "down" {
		t.Errorf("falling trend = %+v, want ready down", tr)
	}

	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 150
	}
	tr = regressionTrend(flat, 2, 3, 0.5, 0.001)
	if !tr.Ready || tr.Direction != "flat" {
		t.Errorf("flat trend = %+v, want ready flat", tr)
	}

	// Not enough SMA values for the window: not ready, direction flat.
	tr = regressionTrend(rising[:3], 2, 10, 0.5, 0.001)
	if tr.Ready || tr.Direction != "flat" || tr.Slope != nil {
		t.Errorf("short-frame trend = %+v, want not ready", tr)
	}
}

func TestRegressionTrendThresholdIsExclusive(t *testing.T) {
	// Integer steps keep the slope exact: 2 units/bar at pip size 1.
	series := make([]float64, 20)
	for i := range series {
		series[i] = 100 + 2*float64(i)
	}

	tr := regressionTrend(series, 1, 3, 2.0, 1.0)
	if !tr.Ready || tr.SlopePips == nil || !almostEqual(*tr.SlopePips, 2.0) {
		t.Fatalf("trend = %+v, want ready with slope 2.0 pips", tr)
	}
	if tr.Direction != "flat" {
		t.Errorf("slope exactly at the threshold = %q, want flat", tr.Direction)
	}
	if tr.Method != "regression" {
		t.Errorf("method = %q, want regression", tr.Method)
	}

	// Just beyond the threshold classifies.
	tr = regressionTrend(series, 1, 3, 1.9, 1.0)
	if tr.Direction != "up" {
		t.Errorf("slope above the threshold = %q, want up", tr.Direction)
	}
}

func TestBBKeyFormat(t *testing.T) {
	if got := bbKey(21, 2.0); got != "21_2.0" {
		t.Errorf("bbKey(21, 2.0) = %q, want \"21_2.0\"", got)
	}
	if got := bbKey(21, 2.5); got != "21_2.5" {
		t.Errorf("bbKey(21, 2.5) = %q, want \"21_2.5\"", got)
	}
}

func TestEngineWarmupAndSnapshot(t *testing.T) {
	store := NewStore()
	cfg := Config{
		SMAPeriods:         []int{2},
		RSIPeriods:         []int{2},
		RCIPeriods:         []int{3},
		BBPeriod:           2,
		BBSigmas:           []float64{2.0},
		ATRPeriods:         []int{2},
		TrendWindow:        2,
		TrendSMAPeriod:     2,
		TrendThresholdPips: 0.5,
		PipSize:            0.001,
		MaxRows:            10,
	}
	eng := NewEngine(store, cfg)

	base := time.Unix(1_700_000_100, 0).UTC()
	mk := func(i int, close float64) model.Candle {
		return model.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      close, High: close + 0.01, Low: close - 0.01, Close: close,
		}
	}

	snap := eng.HandleCandle("USD_JPY", 60, mk(0, 150.00))
	if len(snap.SMA) != 0 || len(snap.RSI) != 0 || snap.Trend.Ready {
		t.Errorf("first snapshot should be empty, got %+v", snap)
	}
	if snap.Timestamp != base || snap.Close != 150.00 {
		t.Errorf("snapshot ts/close = %v/%v", snap.Timestamp, snap.Close)
	}

	eng.HandleCandle("USD_JPY", 60, mk(1, 150.01))
	eng.HandleCandle("USD_JPY", 60, mk(2, 150.02))
	snap = eng.HandleCandle("USD_JPY", 60, mk(3, 150.03))

	if _, ok := snap.GetSMA(2); !ok {
		t.Error("SMA(2) absent after warm-up")
	}
	if _, ok := snap.GetRSI(2); !ok {
		t.Error("RSI(2) absent after warm-up")
	}
	if _, ok := snap.GetRCI(3); !ok {
		t.Error("RCI(3) absent after warm-up")
	}
	if _, ok := snap.GetATR(2); !ok {
		t.Error("ATR(2) absent after warm-up")
	}
	if up, low := snap.GetBB(2, 2.0); up == nil || low == nil {
		t.Error("BB(2, 2.0) absent after warm-up")
	}
	if !snap.Trend.Ready {
		t.Error("trend not ready after warm-up")
	}

	if got := store.Get("USD_JPY", 60); got != snap {
		t.Error("store does not hold the latest snapshot")
	}
	if got := store.Get("USD_JPY", 300); got != nil {
		t.Error("store returned a snapshot for an unseen timeframe")
	}
}

func TestEngineTrendSetters(t *testing.T) {
	eng := NewEngine(NewStore(), DefaultConfig())
	if err := eng.SetTrendSMAPeriod(0); err == nil {
		t.Error("SetTrendSMAPeriod(0) accepted")
	}
	if err := eng.SetTrendSMAPeriod(30); err != nil || eng.TrendSMAPeriod() != 30 {
		t.Error("SetTrendSMAPeriod(30) not applied")
	}
	if err := eng.SetTrendThresholdPips(-1); err == nil {
		t.Error("SetTrendThresholdPips(-1) accepted")
	}
	if err := eng.SetTrendThresholdPips(2.5); err != nil || eng.TrendThresholdPips() != 2.5 {
		t.Error("SetTrendThresholdPips(2.5) not applied")
	}
}

func TestFallbackSnapshot(t *testing.T) {
	ts := time.Unix(1_700_000_100, 0).UTC()
	snap := Fallback("USD_JPY", 60, 150.0, ts)
	if snap.Close != 150.0 || snap.Timeframe != "60" {
		t.Errorf("fallback = %+v", snap)
	}
	if snap.SMA == nil || len(snap.SMA) != 0 || snap.Trend.Ready {
		t.Error("fallback must carry empty maps and a not-ready trend")
	}
}
