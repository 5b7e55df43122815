package candle

import (
	"testing"
	"time"
)

func ts(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func TestAddTickAggregatesWithinBucket(t *testing.T) {
	agg, err := New([]int{60}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := int64(1_700_000_040) // not bucket-aligned on purpose
	if closed := agg.AddTick("USD_JPY", 150.00, 1, ts(base)); len(closed) != 0 {
		t.Fatalf("first tick closed %d candles, want 0", len(closed))
	}
	agg.AddTick("USD_JPY", 150.10, 1, ts(base+10))
	agg.AddTick("USD_JPY", 149.95, 1, ts(base+15))

	// Next bucket: the previous candle closes.
	closed := agg.AddTick("USD_JPY", 150.05, 1, ts(base+60))
	if len(closed) != 1 {
		t.Fatalf("got %d closed candles, want 1", len(closed))
	}
	c := closed[0].Candle
	if c.Open != 150.00 || c.High != 150.10 || c.Low != 149.95 || c.Close != 149.95 {
		t.Errorf("OHLC = %v/%v/%v/%v, want 150.00/150.10/149.95/149.95", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != 3 {
		t.Errorf("volume = %v, want 3", c.Volume)
	}
	if got := c.Timestamp.Unix(); got%60 != 0 {
		t.Errorf("candle timestamp %d not bucket-aligned", got)
	}
}

func TestMultiTimeframeCloseOrder(t *testing.T) {
	agg, err := New([]int{300, 60}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := agg.Timeframes(); got[0] != 60 || got[1] != 300 {
		t.Fatalf("timeframes = %v, want ascending [60 300]", got)
	}

	base := int64(1_700_000_100) // aligned to both 60 and 300
	agg.AddTick("USD_JPY", 150.0, 1, ts(base))
	agg.AddTick("USD_JPY", 150.2, 1, ts(base+120))

	// Crossing a 300s boundary closes both the 1m and the 5m candle,
	// ascending timeframe first.
	closed := agg.AddTick("USD_JPY", 150.4, 1, ts(base+300))
	if len(closed) != 2 {
		t.Fatalf("got %d closed candles, want 2", len(closed))
	}
	if closed[0].Timeframe != 60 || closed[1].Timeframe != 300 {
		t.Errorf("close order = [%d %d], want [60 300]", closed[0].Timeframe, closed[1].Timeframe)
	}
	if closed[1].Candle.Open != 150.0 || closed[1].Candle.Close != 150.2 {
		t.Errorf("5m candle O/C = %v/%v, want 150.0/150.2", closed[1].Candle.Open, closed[1].Candle.Close)
	}
}

func TestLateTickClampsIntoOpenCandle(t *testing.T) {
	agg, _ := New([]int{60}, 0)

	base := int64(1_700_000_100)
	agg.AddTick("USD_JPY", 150.0, 1, ts(base))
	agg.AddTick("USD_JPY", 150.3, 1, ts(base+60)) // closes bucket 1, opens bucket 2

	// A tick stamped inside the already-closed bucket must not rewind:
	// it folds into the currently open candle.
	if closed := agg.AddTick("USD_JPY", 149.8, 1, ts(base+30)); len(closed) != 0 {
		t.Fatalf("late tick closed %d candles, want 0", len(closed))
	}
	closed := agg.AddTick("USD_JPY", 150.1, 1, ts(base+120))
	if len(closed) != 1 {
		t.Fatalf("got %d closed candles, want 1", len(closed))
	}
	c := closed[0].Candle
	if c.Low != 149.8 || c.Close != 149.8 {
		t.Errorf("late tick not clamped: low=%v close=%v", c.Low, c.Close)
	}
	if got := c.Timestamp.Unix(); got != base+60 {
		t.Errorf("open bucket moved: ts=%d want %d", got, base+60)
	}
}

func TestFlushOpenEmitsPartials(t *testing.T) {
	agg, _ := New([]int{60, 300}, 0)
	agg.AddTick("USD_JPY", 150.0, 1, ts(1_700_000_100))

	closed := agg.FlushOpen()
	if len(closed) != 2 {
		t.Fatalf("flushed %d candles, want 2", len(closed))
	}
	if again := agg.FlushOpen(); len(again) != 0 {
		t.Errorf("second flush returned %d candles, want 0", len(again))
	}
	if h := agg.Candles("USD_JPY", 60); len(h) != 1 {
		t.Errorf("history after flush = %d, want 1", len(h))
	}
}

func TestHistoryBounded(t *testing.T) {
	agg, _ := New([]int{60}, 5)

	base := int64(1_700_000_100)
	for i := 0; i < 10; i++ {
		agg.AddTick("USD_JPY", 150.0+float64(i)*0.01, 1, ts(base+int64(i)*60))
	}

	h := agg.Candles("USD_JPY", 60)
	if len(h) != 5 {
		t.Fatalf("history length = %d, want 5", len(h))
	}
	// Oldest entries evicted: the first surviving candle is the 5th.
	if got := h[0].Timestamp.Unix(); got != base+4*60 {
		t.Errorf("oldest candle ts = %d, want %d", got, base+4*60)
	}
	if got := h[len(h)-1].Timestamp.Unix(); got != base+8*60 {
		t.Errorf("newest candle ts = %d, want %d", got, base+8*60)
	}
}

func TestNewRejectsEmptyTimeframes(t *testing.T) {
	if _, err := New(nil, 0); err == nil {
		t.Fatal("New(nil) succeeded, want error")
	}
	if _, err := New([]int{0}, 0); err == nil {
		t.Fatal("New([0]) succeeded, want error")
	}
}
