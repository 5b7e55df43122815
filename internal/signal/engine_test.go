package signal

import (
	"testing"
	"time"

	"aurafx/internal/blackout"
	"aurafx/internal/indicator"
	"aurafx/internal/model"
)

func fp(v float64) *float64 { return &v }

// bbSellSnapshot triggers bb_mean_reversion_1m SELL and nothing else.
func bbSellSnapshot(ts time.Time, price float64) *indicator.Snapshot {
	return &indicator.Snapshot{
		Symbol:    "USD_JPY",
		Timeframe: "60",
		Timestamp: ts,
		Close:     price,
		SMA:       map[string]float64{},
		RSI:       map[string]float64{"14": 70},
		RCI:       map[string]float64{},
		BB: map[string]indicator.Band{
			"21_2.0": {Lower: fp(price - 0.1), Mid: fp(price - 0.05), Upper: fp(price)},
		},
		ATR:   map[string]float64{},
		Trend: indicator.Trend{Direction: "flat", Ready: true},
	}
}

func newTestEngine(t *testing.T, store *indicator.Store, cal *blackout.Calendar) *Engine {
	t.Helper()
	if store == nil {
		store = indicator.NewStore()
	}
	return NewEngine(store, cal, Config{PipSize: 0.001, Cooldown: 30 * time.Second})
}

func TestBBMeanReversionBoundaryTriggers(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ts := time.Unix(1_700_000_100, 0).UTC()

	// price == upper band and RSI exactly 70 still trigger (>= comparisons).
	events := eng.Evaluate("USD_JPY", "1m", 60, 150.0, bbSellSnapshot(ts, 150.0), ts, nil)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Strategy != BBMeanReversion1m || ev.Direction != "SELL" {
		t.Errorf("event = %s/%s, want bb_mean_reversion_1m/SELL", ev.Strategy, ev.Direction)
	}
	if ev.TradeAction != ActionNone {
		t.Errorf("trade_action = %q, want NONE before position handling", ev.TradeAction)
	}
}

func TestBBMeanReversionBuyAtLowerBand(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ts := time.Unix(1_700_000_100, 0).UTC()
	snap := bbSellSnapshot(ts, 150.0)
	snap.RSI["14"] = 30
	snap.BB["21_2.0"] = indicator.Band{Lower: fp(150.0), Mid: fp(150.05), Upper: fp(150.1)}

	events := eng.Evaluate("USD_JPY", "1m", 60, 150.0, snap, ts, nil)
	if len(events) != 1 || events[0].Direction != "BUY" {
		t.Fatalf("events = %v, want one BUY", events)
	}
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	t0 := time.Unix(1_700_000_100, 0).UTC()

	if got := eng.Evaluate("USD_JPY", "1m", 60, 150.0, bbSellSnapshot(t0, 150.0), t0, nil); len(got) != 1 {
		t.Fatalf("first evaluation: %d events, want 1", len(got))
	}

	// New indicator timestamp but inside the cooldown: suppressed.
	t1 := t0.Add(10 * time.Second)
	if got := eng.Evaluate("USD_JPY", "1m", 60, 150.0, bbSellSnapshot(t1, 150.0), t1, nil); len(got) != 0 {
		t.Fatalf("within cooldown: %d events, want 0", len(got))
	}

	// Past the cooldown: emitted again.
	t2 := t0.Add(31 * time.Second)
	if got := eng.Evaluate("USD_JPY", "1m", 60, 150.0, bbSellSnapshot(t2, 150.0), t2, nil); len(got) != 1 {
		t.Fatalf("after cooldown: %d events, want 1", len(got))
	}
}

func TestDedupOnSameIndicatorTimestamp(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	t0 := time.Unix(1_700_000_100, 0).UTC()
	snap := bbSellSnapshot(t0, 150.0)

	eng.Evaluate("USD_JPY", "1m", 60, 150.0, snap, t0, nil)

	// Same candle bucket, even a minute of wall time later: deduplicated.
	later := t0.Add(2 * time.Minute)
	if got := eng.Evaluate("USD_JPY", "1m", 60, 150.0, snap, later, nil); len(got) != 0 {
		t.Fatalf("same indicator timestamp re-emitted %d events", len(got))
	}
}

func TestBlackoutGateUsesEventTimestamp(t *testing.T) {
	cal, err := blackout.NewCalendar([]blackout.WindowSpec{{Start: "04:00", End: "09:15"}})
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	eng := newTestEngine(t, nil, cal)

	// 05:00 JST == 20:00 UTC the previous day.
	inside := time.Date(2026, 1, 9, 20, 0, 0, 0, time.UTC)
	if got := eng.Evaluate("USD_JPY", "1m", 60, 150.0, bbSellSnapshot(inside, 150.0), inside, nil); len(got) != 0 {
		t.Fatalf("blackout evaluation emitted %d events", len(got))
	}

	outside := time.Date(2026, 1, 9, 3, 0, 0, 0, time.UTC) // 12:00 JST
	if got := eng.Evaluate("USD_JPY", "1m", 60, 150.0, bbSellSnapshot(outside, 150.0), outside, nil); len(got) != 1 {
		t.Fatalf("clear evaluation emitted %d events, want 1", len(got))
	}
}

func TestTrendNotReadyGate(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ts := time.Unix(1_700_000_100, 0).UTC()
	snap := bbSellSnapshot(ts, 150.0)
	snap.Trend.Ready = false

	if got := eng.Evaluate("USD_JPY", "1m", 60, 150.0, snap, ts, nil); len(got) != 0 {
		t.Fatalf("not-ready trend emitted %d events", len(got))
	}
}

func TestATRThresholdGate(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	eng.SetATRThresholdPips(2.0)
	ts := time.Unix(1_700_000_100, 0).UTC()

	snap := bbSellSnapshot(ts, 150.0)
	snap.ATR["14"] = 0.001 // 1 pip: below the floor
	if got := eng.Evaluate("USD_JPY", "1m", 60, 150.0, snap, ts, nil); len(got) != 0 {
		t.Fatalf("quiet market emitted %d events", len(got))
	}

	snap2 := bbSellSnapshot(ts.Add(time.Minute), 150.0)
	snap2.ATR["14"] = 0.003 // 3 pips: above the floor
	ts2 := ts.Add(time.Minute)
	if got := eng.Evaluate("USD_JPY", "1m", 60, 150.0, snap2, ts2, nil); len(got) != 1 {
		t.Fatalf("active market emitted %d events, want 1", len(got))
	}
}

func TestMACrossTrendNeedsPreviousSnapshot(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	t0 := time.Unix(1_700_000_100, 0).UTC()

	mkSnap := func(ts time.Time, sma5, sma21 float64) *indicator.Snapshot {
		return &indicator.Snapshot{
			Symbol: "USD_JPY", Timeframe: "60", Timestamp: ts, Close: 150.0,
			SMA:   map[string]float64{"5": sma5, "21": sma21},
			RSI:   map[string]float64{}, RCI: map[string]float64{},
			BB:    map[string]indicator.Band{}, ATR: map[string]float64{},
			Trend: indicator.Trend{Direction: "up", Ready: true},
		}
	}

	// First pass records the previous snapshot, no cross possible yet.
	// Price below sma21 keeps trend_pullback quiet.
	if got := eng.Evaluate("USD_JPY", "1m", 60, 149.0, mkSnap(t0, 149.9, 150.0), t0, nil); len(got) != 0 {
		t.Fatalf("first pass emitted %d events", len(got))
	}

	t1 := t0.Add(time.Minute)
	got := eng.Evaluate("USD_JPY", "1m", 60, 149.0, mkSnap(t1, 150.1, 150.0), t1, nil)
	if len(got) != 1 || got[0].Strategy != MACrossTrend1m || got[0].Direction != "BUY" {
		t.Fatalf("cross pass = %v, want one ma_cross_trend_1m BUY", got)
	}
}

func TestGatedEvaluationKeepsPreviousSnapshot(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	t0 := time.Unix(1_700_000_100, 0).UTC()

	mkSnap := func(ts time.Time, sma5, sma21 float64, ready bool) *indicator.Snapshot {
		return &indicator.Snapshot{
			Symbol: "USD_JPY", Timeframe: "60", Timestamp: ts, Close: 150.0,
			SMA:   map[string]float64{"5": sma5, "21": sma21},
			RSI:   map[string]float64{}, RCI: map[string]float64{},
			BB:    map[string]indicator.Band{}, ATR: map[string]float64{},
			Trend: indicator.Trend{Direction: "up", Ready: ready},
		}
	}

	// Full run below the cross: recorded as the previous snapshot.
	if got := eng.Evaluate("USD_JPY", "1m", 60, 149.0, mkSnap(t0, 149.9, 150.0, true), t0, nil); len(got) != 0 {
		t.Fatalf("baseline pass emitted %d events", len(got))
	}

	// A trend-not-ready snapshot already above the cross is gated and
	// must not become the comparison point.
	t1 := t0.Add(time.Minute)
	if got := eng.Evaluate("USD_JPY", "1m", 60, 149.0, mkSnap(t1, 150.1, 150.0, false), t1, nil); len(got) != 0 {
		t.Fatalf("gated pass emitted %d events", len(got))
	}

	// Likewise for a snapshot stopped by the ATR floor.
	eng.SetATRThresholdPips(2.0)
	t2 := t0.Add(2 * time.Minute)
	quiet := mkSnap(t2, 150.1, 150.0, true)
	quiet.ATR["14"] = 0.001
	if got := eng.Evaluate("USD_JPY", "1m", 60, 149.0, quiet, t2, nil); len(got) != 0 {
		t.Fatalf("atr-gated pass emitted %d events", len(got))
	}
	eng.SetATRThresholdPips(0)

	// The next full run still compares against the baseline and sees
	// the cross.
	t3 := t0.Add(3 * time.Minute)
	got := eng.Evaluate("USD_JPY", "1m", 60, 149.0, mkSnap(t3, 150.1, 150.0, true), t3, nil)
	if len(got) != 1 || got[0].Strategy != MACrossTrend1m || got[0].Direction != "BUY" {
		t.Fatalf("post-gate pass = %v, want one ma_cross_trend_1m BUY", got)
	}
}

func TestMATouchBounce(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ts := time.Unix(1_700_000_100, 0).UTC()
	snap := &indicator.Snapshot{
		Symbol: "USD_JPY", Timeframe: "300", Timestamp: ts, Close: 150.05,
		SMA:   map[string]float64{"21": 150.0},
		RSI:   map[string]float64{}, RCI: map[string]float64{},
		BB:    map[string]indicator.Band{}, ATR: map[string]float64{},
		Trend: indicator.Trend{Direction: "up", Ready: true},
	}
	candles := []model.Candle{
		{Timestamp: ts, Open: 150.02, High: 150.08, Low: 149.98, Close: 150.05},
	}

	got := eng.Evaluate("USD_JPY", "5m", 300, 150.05, snap, ts, candles)
	if len(got) != 1 || got[0].Strategy != MATouchBounce5m || got[0].Direction != "BUY" {
		t.Fatalf("got %v, want one ma_touch_bounce_5m BUY", got)
	}
}

func TestFakeBreakout(t *testing.T) {
	store := indicator.NewStore()
	eng := newTestEngine(t, store, nil)
	ts := time.Unix(1_700_000_100, 0).UTC()

	// Both 1m and 5m trend must be flat.
	store.Set("USD_JPY", 300, &indicator.Snapshot{
		Symbol: "USD_JPY", Timeframe: "300", Timestamp: ts,
		SMA: map[string]float64{}, RSI: map[string]float64{}, RCI: map[string]float64{},
		BB:  map[string]indicator.Band{}, ATR: map[string]float64{},
		Trend: indicator.Trend{Direction: "flat", Ready: true},
	})
	snap := &indicator.Snapshot{
		Symbol: "USD_JPY", Timeframe: "60", Timestamp: ts, Close: 150.0,
		SMA: map[string]float64{}, RSI: map[string]float64{}, RCI: map[string]float64{},
		BB:  map[string]indicator.Band{}, ATR: map[string]float64{},
		Trend: indicator.Trend{Direction: "flat", Ready: true},
	}

	base := time.Unix(1_700_000_000, 0).UTC()
	candles := make([]model.Candle, 0, 6)
	for i := 0; i < 5; i++ {
		candles = append(candles, model.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      150.0, High: 150.10, Low: 149.90, Close: 150.0,
		})
	}
	// Break above the range high, close back inside: fade it.
	candles = append(candles, model.Candle{
		Timestamp: base.Add(5 * time.Minute),
		Open:      150.0, High: 150.15, Low: 149.95, Close: 150.05,
	})

	got := eng.Evaluate("USD_JPY", "1m", 60, 150.05, snap, ts, candles)
	if len(got) != 1 || got[0].Strategy != FakeBreakout1m || got[0].Direction != "SELL" {
		t.Fatalf("got %v, want one fake_breakout_1m SELL", got)
	}
}

func TestRecordCloseEventBypassesCooldown(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	t0 := time.Unix(1_700_000_100, 0).UTC()

	snap := bbSellSnapshot(t0, 150.0)
	eng.Evaluate("USD_JPY", "1m", 60, 150.0, snap, t0, nil)

	// Seconds later and for the same strategy key: close events are not
	// subject to the cooldown.
	t1 := t0.Add(5 * time.Second)
	closeSnap := bbSellSnapshot(t1, 150.1)
	ev := eng.RecordCloseEvent("USD_JPY", "1m", 150.1, t1, closeSnap, "SELL", -10.0, -1.0, string(BBMeanReversion1m))
	if ev.TradeAction != ActionClose || ev.PnL == nil || *ev.PnL != -10.0 {
		t.Fatalf("close event = %+v", ev)
	}

	hist := eng.History(nil)
	if got := len(hist[string(BBMeanReversion1m)]); got != 2 {
		t.Fatalf("history length = %d, want 2", got)
	}
}

func TestRecordCloseEventUnknownStrategy(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	t0 := time.Unix(1_700_000_100, 0).UTC()
	ev := eng.RecordCloseEvent("USD_JPY", "1m", 150.0, t0, bbSellSnapshot(t0, 150.0), "BUY", 5.0, 0.5, "manual")
	if ev.Strategy != PositionClose {
		t.Fatalf("strategy = %q, want position_close", ev.Strategy)
	}
}

func TestSummarize(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	t0 := time.Unix(1_700_000_100, 0).UTC()

	open := eng.Evaluate("USD_JPY", "1m", 60, 150.0, bbSellSnapshot(t0, 150.0), t0, nil)
	if len(open) != 1 {
		t.Fatalf("setup: %d events", len(open))
	}
	open[0].TradeAction = ActionOpen

	eng.RecordCloseEvent("USD_JPY", "1m", 150.1, t0.Add(time.Minute),
		bbSellSnapshot(t0.Add(time.Minute), 150.1), "SELL", 20.0, 2.0, string(BBMeanReversion1m))
	eng.RecordCloseEvent("USD_JPY", "1m", 150.2, t0.Add(2*time.Minute),
		bbSellSnapshot(t0.Add(2*time.Minute), 150.2), "SELL", -10.0, -1.0, string(BBMeanReversion1m))

	sums := eng.Summarize(nil, nil, nil)
	s, ok := sums[string(BBMeanReversion1m)]
	if !ok {
		t.Fatal("summary missing bb_mean_reversion_1m")
	}
	if s.TotalSignals != 3 || s.TotalTrades != 1 || s.TotalCloses != 2 {
		t.Errorf("counts = %d/%d/%d, want 3/1/2", s.TotalSignals, s.TotalTrades, s.TotalCloses)
	}
	if s.WinCount != 1 || s.LossCount != 1 || s.WinRate != 50.0 {
		t.Errorf("wins = %d/%d rate %v, want 1/1 50", s.WinCount, s.LossCount, s.WinRate)
	}
	if s.TotalPnL != 10.0 || s.TotalPips != 1.0 || s.AvgPnL != 5.0 {
		t.Errorf("pnl = %v pips %v avg %v, want 10/1/5", s.TotalPnL, s.TotalPips, s.AvgPnL)
	}
	if s.MaxProfit != 20.0 || s.MaxLoss != -10.0 {
		t.Errorf("max = %v/%v, want 20/-10", s.MaxProfit, s.MaxLoss)
	}

	// Date filter excluding everything.
	from := t0.Add(time.Hour)
	if got := eng.Summarize(nil, &from, nil); len(got) != 0 {
		t.Errorf("filtered summary has %d entries, want 0", len(got))
	}
}
