package signal

import (
	"time"

	"aurafx/internal/indicator"
	"aurafx/internal/model"
)

// Strategy identifies a signal strategy.
type Strategy string

const (
	BBMeanReversion1m Strategy = "bb_mean_reversion_1m"
	MATouchBounce1m   Strategy = "ma_touch_bounce_1m"
	MATouchBounce5m   Strategy = "ma_touch_bounce_5m"
	FakeBreakout1m    Strategy = "fake_breakout_1m"
	MACrossTrend1m    Strategy = "ma_cross_trend_1m"
	TrendPullback1m   Strategy = "trend_pullback_1m"
	PositionClose     Strategy = "position_close"
)

// AllStrategies is the fixed enumeration order used by history and
// summary responses.
var AllStrategies = []Strategy{
	BBMeanReversion1m,
	MATouchBounce1m,
	MATouchBounce5m,
	FakeBreakout1m,
	MACrossTrend1m,
	TrendPullback1m,
	PositionClose,
}

// Display labels shown on the dashboard, kept in Japanese as shipped.
var strategyLabels = map[Strategy]string{
	BBMeanReversion1m: "BB逆張り (1分)",
	MATouchBounce1m:   "SMA21タッチ反発 (1分)",
	MATouchBounce5m:   "SMA21タッチ反発 (5分)",
	FakeBreakout1m:    "高値・安値フェイクブレイク (1分)",
	MACrossTrend1m:    "移動平均クロス順張り (1分)",
	TrendPullback1m:   "トレンド押し目・戻り目 (1分)",
	PositionClose:     "ポジション決済",
}

// Label returns the human-readable strategy name.
func (s Strategy) Label() string {
	if l, ok := strategyLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseStrategy maps a stored strategy key back to a Strategy. Unknown
// keys fall back to PositionClose so ad-hoc closes still get recorded.
func ParseStrategy(key string) (Strategy, bool) {
	s := Strategy(key)
	if _, ok := strategyLabels[s]; ok {
		return s, true
	}
	return PositionClose, false
}

// Context carries everything a strategy handler may inspect for one
// evaluation pass.
type Context struct {
	Symbol           string
	Timeframe        string
	TimeframeSeconds int
	Price            float64
	Indicator        *indicator.Snapshot
	Previous         *indicator.Snapshot
	Timestamp        time.Time
	Candles          []model.Candle
	OtherSnapshot    func(timeframeSeconds int) *indicator.Snapshot
	PipSize          float64
}

type handler func(e *Engine, ctx *Context) *Event

var strategyHandlers = map[Strategy]handler{
	BBMeanReversion1m: (*Engine).evaluateBBMeanReversion,
	MATouchBounce1m:   (*Engine).evaluateMATouchBounce1m,
	MATouchBounce5m:   (*Engine).evaluateMATouchBounce5m,
	FakeBreakout1m:    (*Engine).evaluateFakeBreakout,
	MACrossTrend1m:    (*Engine).evaluateMACrossTrend,
	TrendPullback1m:   (*Engine).evaluateTrendPullback,
}

func strategiesForTimeframe(timeframe string) []Strategy {
	switch timeframe {
	case "1m":
		return []Strategy{
			BBMeanReversion1m,
			MATouchBounce1m,
			FakeBreakout1m,
			MACrossTrend1m,
			TrendPullback1m,
		}
	case "5m":
		return []Strategy{MATouchBounce5m}
	}
	return nil
}

// Mean reversion at the Bollinger band edge, filtered by RSI extreme
// and a non-opposing trend.
func (e *Engine) evaluateBBMeanReversion(ctx *Context) *Event {
	if ctx.Timeframe != "1m" {
		return nil
	}
	upper, lower := ctx.Indicator.GetBB(e.bbPeriod, e.bbSigma)
	if upper == nil || lower == nil {
		return nil
	}
	rsi14, ok := ctx.Indicator.GetRSI(14)
	if !ok {
		return nil
	}
	trendDir := ctx.Indicator.Trend.Direction

	switch {
	case ctx.Price >= *upper && rsi14 >= 70 && (trendDir == "flat" || trendDir == "up"):
		return newEvent(BBMeanReversion1m, ctx, "SELL")
	case ctx.Price <= *lower && rsi14 <= 30 && (trendDir == "flat" || trendDir == "down"):
		return newEvent(BBMeanReversion1m, ctx, "BUY")
	}
	return nil
}

func (e *Engine) evaluateMATouchBounce1m(ctx *Context) *Event {
	if ctx.Timeframe != "1m" {
		return nil
	}
	return evaluateMATouchBounce(MATouchBounce1m, ctx)
}

func (e *Engine) evaluateMATouchBounce5m(ctx *Context) *Event {
	if ctx.Timeframe != "5m" {
		return nil
	}
	return evaluateMATouchBounce(MATouchBounce5m, ctx)
}

// The candle must straddle SMA21 and close back on the trend side.
func evaluateMATouchBounce(strategy Strategy, ctx *Context) *Event {
	if len(ctx.Candles) == 0 {
		return nil
	}
	sma21, ok := ctx.Indicator.GetSMA(21)
	if !ok {
		return nil
	}
	last := ctx.Candles[len(ctx.Candles)-1]
	if !(last.Low <= sma21 && sma21 <= last.High) {
		return nil
	}
	trendDir := ctx.Indicator.Trend.Direction
	if trendDir == "up" && last.Close > sma21 {
		return newEvent(strategy, ctx, "BUY")
	}
	if trendDir == "down" && last.Close < sma21 {
		return newEvent(strategy, ctx, "SELL")
	}
	return nil
}

// Fade a failed break of the recent 5-candle range; only in a flat
// regime on both the 1m and 5m trend.
func (e *Engine) evaluateFakeBreakout(ctx *Context) *Event {
	if ctx.Timeframe != "1m" || len(ctx.Candles) < 6 {
		return nil
	}
	if ctx.Indicator.Trend.Direction != "flat" {
		return nil
	}
	snap5m := ctx.OtherSnapshot(300)
	if snap5m == nil || snap5m.Trend.Direction != "flat" {
		return nil
	}

	base := ctx.Candles[len(ctx.Candles)-6 : len(ctx.Candles)-1]
	last := ctx.Candles[len(ctx.Candles)-1]
	recentHigh := base[0].High
	recentLow := base[0].Low
	for _, c := range base[1:] {
		if c.High > recentHigh {
			recentHigh = c.High
		}
		if c.Low < recentLow {
			recentLow = c.Low
		}
	}

	if last.High > recentHigh && last.Close <= recentHigh {
		return newEvent(FakeBreakout1m, ctx, "SELL")
	}
	if last.Low < recentLow && last.Close >= recentLow {
		return newEvent(FakeBreakout1m, ctx, "BUY")
	}
	return nil
}

// SMA5/SMA21 cross in the trend direction, detected against the
// previous snapshot.
func (e *Engine) evaluateMACrossTrend(ctx *Context) *Event {
	if ctx.Timeframe != "1m" || ctx.Previous == nil {
		return nil
	}
	currSMA5, ok1 := ctx.Indicator.GetSMA(5)
	currSMA21, ok2 := ctx.Indicator.GetSMA(21)
	prevSMA5, ok3 := ctx.Previous.GetSMA(5)
	prevSMA21, ok4 := ctx.Previous.GetSMA(21)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	trendDir := ctx.Indicator.Trend.Direction

	crossedUp := prevSMA5 <= prevSMA21 && currSMA5 > currSMA21
	crossedDown := prevSMA5 >= prevSMA21 && currSMA5 < currSMA21

	if trendDir == "up" && crossedUp {
		return newEvent(MACrossTrend1m, ctx, "BUY")
	}
	if trendDir == "down" && crossedDown {
		return newEvent(MACrossTrend1m, ctx, "SELL")
	}
	return nil
}

// Pullback to SMA5 while the price holds the SMA21 side of a trend.
func (e *Engine) evaluateTrendPullback(ctx *Context) *Event {
	if ctx.Timeframe != "1m" || len(ctx.Candles) == 0 {
		return nil
	}
	sma5, ok1 := ctx.Indicator.GetSMA(5)
	sma21, ok2 := ctx.Indicator.GetSMA(21)
	if !ok1 || !ok2 {
		return nil
	}
	last := ctx.Candles[len(ctx.Candles)-1]
	trendDir := ctx.Indicator.Trend.Direction
	touched := last.Low <= sma5 && sma5 <= last.High

	if trendDir == "up" && ctx.Price >= sma21 && touched {
		return newEvent(TrendPullback1m, ctx, "BUY")
	}
	if trendDir == "down" && ctx.Price <= sma21 && touched {
		return newEvent(TrendPullback1m, ctx, "SELL")
	}
	return nil
}

func newEvent(strategy Strategy, ctx *Context, direction string) *Event {
	return &Event{
		Symbol:      ctx.Symbol,
		Timeframe:   ctx.Timeframe,
		Direction:   direction,
		Price:       ctx.Price,
		OccurredAt:  ctx.Timestamp,
		Indicator:   ctx.Indicator,
		Strategy:    strategy,
		TradeAction: ActionNone,
	}
}
