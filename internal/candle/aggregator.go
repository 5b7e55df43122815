// Package candle aggregates ticks into fixed-interval OHLCV candles for
// several timeframes at once and keeps a bounded per-key history.
package candle

import (
	"fmt"
	"sort"
	"time"

	"aurafx/internal/model"
)

const defaultHistoryLimit = 500

type key struct {
	symbol    string
	timeframe int
}

// Aggregator buckets ticks into candles. It is driven by a single
// goroutine (the market stream) and is not safe for concurrent use.
type Aggregator struct {
	timeframes   []int
	historyLimit int
	open         map[key]*model.Candle
	history      map[key][]model.Candle
}

// New creates an aggregator for the given timeframes (seconds).
func New(timeframes []int, historyLimit int) (*Aggregator, error) {
	if len(timeframes) == 0 {
		return nil, fmt.Errorf("aggregator: at least one timeframe required")
	}
	tfs := make([]int, 0, len(timeframes))
	for _, tf := range timeframes {
		if tf <= 0 {
			return nil, fmt.Errorf("aggregator: invalid timeframe %d", tf)
		}
		tfs = append(tfs, tf)
	}
	sort.Ints(tfs)
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Aggregator{
		timeframes:   tfs,
		historyLimit: historyLimit,
		open:         make(map[key]*model.Candle),
		history:      make(map[key][]model.Candle),
	}, nil
}

// Timeframes returns the configured timeframes in ascending order.
func (a *Aggregator) Timeframes() []int {
	return a.timeframes
}

// AddTick folds a tick into every timeframe and returns the candles that
// closed as a result, ordered by ascending timeframe. A tick whose bucket
// is not newer than the open candle's bucket is clamped into the open
// candle, so out-of-order ticks never rewind a series.
func (a *Aggregator) AddTick(symbol string, price, volume float64, ts time.Time) []model.ClosedCandle {
	var closed []model.ClosedCandle
	for _, tf := range a.timeframes {
		k := key{symbol: symbol, timeframe: tf}
		bucket := bucketStart(ts, tf)

		cur, ok := a.open[k]
		if !ok {
			a.open[k] = newCandle(bucket, price, volume)
			continue
		}
		if bucket.After(cur.Timestamp) {
			a.appendHistory(k, *cur)
			closed = append(closed, model.ClosedCandle{Symbol: symbol, Timeframe: tf, Candle: *cur})
			a.open[k] = newCandle(bucket, price, volume)
			continue
		}
		applyTick(cur, price, volume)
	}
	return closed
}

// FlushOpen finalizes every open candle and returns them. Used on
// shutdown so partial candles are not silently lost.
func (a *Aggregator) FlushOpen() []model.ClosedCandle {
	keys := make([]key, 0, len(a.open))
	for k := range a.open {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].timeframe < keys[j].timeframe
	})

	var closed []model.ClosedCandle
	for _, k := range keys {
		c := a.open[k]
		a.appendHistory(k, *c)
		closed = append(closed, model.ClosedCandle{Symbol: k.symbol, Timeframe: k.timeframe, Candle: *c})
		delete(a.open, k)
	}
	return closed
}

// Candles returns the closed-candle history for (symbol, timeframe),
// oldest first. The returned slice is a copy.
func (a *Aggregator) Candles(symbol string, timeframe int) []model.Candle {
	h := a.history[key{symbol: symbol, timeframe: timeframe}]
	out := make([]model.Candle, len(h))
	copy(out, h)
	return out
}

func (a *Aggregator) appendHistory(k key, c model.Candle) {
	h := a.history[k]
	if len(h) >= a.historyLimit {
		copy(h, h[1:])
		h[len(h)-1] = c
	} else {
		h = append(h, c)
	}
	a.history[k] = h
}

func bucketStart(ts time.Time, tf int) time.Time {
	sec := ts.Unix()
	return time.Unix(sec-sec%int64(tf), 0).UTC()
}

func newCandle(bucket time.Time, price, volume float64) *model.Candle {
	return &model.Candle{
		Timestamp: bucket,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
	}
}

func applyTick(c *model.Candle, price, volume float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += volume
}
