// Package live bridges the signal stream to real broker orders. All
// calls funnel through the order dispatcher; failures are logged and
// never propagate back into the pipeline.
package live

import (
	"context"
	"log"
	"time"

	"aurafx/internal/blackout"
	"aurafx/internal/dispatch"
	"aurafx/internal/position"
	"aurafx/internal/signal"
)

const maxSpread = 0.5

// OrderClient is the broker surface the controller needs.
type OrderClient interface {
	CreateMarketOrder(ctx context.Context, symbol, side string, size float64) (map[string]interface{}, error)
	CloseMarketOrder(ctx context.Context, symbol, side string, size float64) (map[string]interface{}, error)
}

// Submitter enqueues one broker call; satisfied by dispatch.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, factory dispatch.Factory, description string) <-chan dispatch.Result
}

// Controller decides which signals and position events become real
// orders. A nil client disables live trading entirely.
type Controller struct {
	client     OrderClient
	positions  *position.Manager
	dispatcher Submitter
	calendar   *blackout.Calendar
	now        func() time.Time

	// OnOrder is an optional metrics hook, called per queued order.
	OnOrder func()
}

// NewController wires the live trading bridge.
func NewController(client OrderClient, positions *position.Manager, dispatcher Submitter, calendar *blackout.Calendar) *Controller {
	return &Controller{
		client:     client,
		positions:  positions,
		dispatcher: dispatcher,
		calendar:   calendar,
		now:        time.Now,
	}
}

// HandleSignal queues a market order for an opening signal. Gates:
// client configured, trading active, a tradable direction, an opening
// trade action, no blackout, and an acceptable spread.
func (c *Controller) HandleSignal(ctx context.Context, ev *signal.Event, spread *float64) {
	if c.client == nil {
		return
	}
	if !c.positions.TradingActive() {
		return
	}
	if ev.Direction != "BUY" && ev.Direction != "SELL" {
		return
	}
	if ev.TradeAction != signal.ActionOpen && ev.TradeAction != signal.ActionReverse {
		return
	}
	if c.calendar != nil && c.calendar.IsBlackout(c.now()) {
		log.Printf("[live] skipping market order for %s: blackout window", ev.Symbol)
		return
	}
	if spread != nil && *spread >= maxSpread {
		log.Printf("[live] skipping market order for %s: spread %.3f >= %.1f", ev.Symbol, *spread, maxSpread)
		return
	}

	symbol, side := ev.Symbol, ev.Direction
	size := c.positions.GetConfig().LotSize
	log.Printf("[live] queueing market order: %s %s size=%v", side, symbol, size)
	c.enqueue(ctx, "create_market_order "+symbol, func(ctx context.Context) (interface{}, error) {
		// Conditions can change while the job waits in the queue;
		// re-check at send time and skip instead of firing stale orders.
		if c.calendar != nil && c.calendar.IsBlackout(c.now()) {
			return nil, dispatch.Skip("blackout active")
		}
		if !c.positions.TradingActive() {
			return nil, dispatch.Skip("trading inactive")
		}
		return c.client.CreateMarketOrder(ctx, symbol, side, size)
	})
}

// HandlePositionEvent mirrors simulated closes to the broker with the
// inverted side. OPEN events are handled by HandleSignal.
func (c *Controller) HandlePositionEvent(ctx context.Context, ev *position.Event) {
	if c.client == nil || ev.Type == position.EventOpen {
		return
	}
	side := invert(ev.Position.Direction)
	symbol, size := ev.Position.Symbol, ev.Position.LotSize
	log.Printf("[live] queueing close order: %s %s size=%v (event=%s)", side, symbol, size, ev.Type)
	c.enqueue(ctx, "close_market_order "+symbol, func(ctx context.Context) (interface{}, error) {
		return c.client.CloseMarketOrder(ctx, symbol, side, size)
	})
}

// ClosePosition queues a close for a manually closed position.
func (c *Controller) ClosePosition(ctx context.Context, symbol, direction string, size float64) {
	if c.client == nil {
		return
	}
	side := invert(direction)
	c.enqueue(ctx, "manual_close "+symbol, func(ctx context.Context) (interface{}, error) {
		return c.client.CloseMarketOrder(ctx, symbol, side, size)
	})
}

// enqueue submits without blocking the pipeline; the result is drained
// in the background for logging only.
func (c *Controller) enqueue(ctx context.Context, description string, factory dispatch.Factory) {
	if c.dispatcher == nil {
		log.Printf("[live] order dispatcher not configured; skipping %s", description)
		return
	}
	if c.OnOrder != nil {
		c.OnOrder()
	}
	results := c.dispatcher.Submit(ctx, factory, description)
	go func() {
		if res := <-results; res.Err != nil {
			log.Printf("[live] order failed: %s: %v", description, res.Err)
		}
	}()
}

func invert(direction string) string {
	if direction == "SELL" {
		return "BUY"
	}
	return "SELL"
}
