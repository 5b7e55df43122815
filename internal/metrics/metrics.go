// Package metrics defines the Prometheus instrumentation for the engine
// and a small HTTP server exposing /metrics.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all engine collectors.
type Metrics struct {
	TicksTotal      prometheus.Counter
	CandlesTotal    *prometheus.CounterVec
	IndicatorsTotal prometheus.Counter
	SignalsTotal    *prometheus.CounterVec
	PositionEvents  *prometheus.CounterVec
	OrdersQueued    prometheus.Counter
	DispatchRetries prometheus.Counter
	DispatchSkips   prometheus.Counter
	BroadcastDrops  prometheus.Counter
	WSReconnects    prometheus.Counter
	TickHandleDur   prometheus.Histogram
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurafx_ticks_total",
			Help: "Ticks received from the market stream",
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurafx_candles_closed_total",
			Help: "Candles closed by the aggregator",
		}, []string{"timeframe"}),
		IndicatorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurafx_indicator_snapshots_total",
			Help: "Indicator snapshots computed",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurafx_signals_total",
			Help: "Signal events emitted",
		}, []string{"strategy"}),
		PositionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurafx_position_events_total",
			Help: "Position open/close events",
		}, []string{"type"}),
		OrdersQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurafx_orders_queued_total",
			Help: "Broker orders queued for dispatch",
		}),
		DispatchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurafx_dispatch_retries_total",
			Help: "Order dispatch retry attempts",
		}),
		DispatchSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurafx_dispatch_skips_total",
			Help: "Order dispatches skipped at send time",
		}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurafx_broadcast_drops_total",
			Help: "Events dropped from slow subscriber queues",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurafx_ws_reconnects_total",
			Help: "Market stream reconnect attempts",
		}),
		TickHandleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aurafx_tick_handle_seconds",
			Help:    "Per-tick pipeline processing time",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
	}
	prometheus.MustRegister(
		m.TicksTotal, m.CandlesTotal, m.IndicatorsTotal, m.SignalsTotal,
		m.PositionEvents, m.OrdersQueued, m.DispatchRetries, m.DispatchSkips,
		m.BroadcastDrops, m.WSReconnects, m.TickHandleDur,
	)
	return m
}

// Server exposes /metrics on its own listener.
type Server struct {
	srv *http.Server
}

// NewServer builds the metrics HTTP server for addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start serves until the listener fails; meant to run in a goroutine.
func (s *Server) Start() {
	log.Printf("[metrics] serving on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[metrics] server error: %v", err)
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
