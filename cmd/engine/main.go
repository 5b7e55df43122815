package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aurafx/config"
	"aurafx/internal/api"
	"aurafx/internal/blackout"
	"aurafx/internal/broadcast"
	"aurafx/internal/broker"
	"aurafx/internal/candle"
	"aurafx/internal/configstore"
	"aurafx/internal/dispatch"
	"aurafx/internal/indicator"
	"aurafx/internal/live"
	"aurafx/internal/logger"
	"aurafx/internal/metrics"
	"aurafx/internal/position"
	"aurafx/internal/ratelimit"
	sigengine "aurafx/internal/signal"
	redisstore "aurafx/internal/store/redis"
	sqlitestore "aurafx/internal/store/sqlite"
	"aurafx/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logger.Init("engine", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[engine] symbols=%v timeframes=%v live=%v", cfg.Symbols, cfg.Timeframes, cfg.LiveTradingConfigured())

	// Persisted dashboard settings override the environment defaults.
	cfgStore := configstore.New(cfg.TradingConfigPath)
	persisted, err := cfgStore.Load()
	if err != nil {
		log.Printf("[engine] trading config unreadable, using defaults: %v", err)
	}
	effective := effectiveConfig(cfg, persisted)

	calendar, err := blackout.NewCalendar(effective.BlackoutWindows)
	if err != nil {
		log.Fatalf("[engine] blackout windows: %v", err)
	}

	m := metrics.New()
	hub := broadcast.New(256)
	hub.OnDrop = m.BroadcastDrops.Inc

	aggregator, err := candle.New(cfg.Timeframes, cfg.CandleHistoryLimit)
	if err != nil {
		log.Fatalf("[engine] aggregator: %v", err)
	}

	indStore := indicator.NewStore()
	indCfg := indicator.DefaultConfig()
	indCfg.PipSize = effective.PipSize
	indCfg.TrendSMAPeriod = effective.TrendSMAPeriod
	indCfg.TrendThresholdPips = effective.TrendThresholdPips
	indicators := indicator.NewEngine(indStore, indCfg)

	signals := sigengine.NewEngine(indStore, calendar, sigengine.Config{
		PipSize:          effective.PipSize,
		Cooldown:         cfg.Cooldown(),
		HistoryLimit:     cfg.HistoryLimit,
		ATRThresholdPips: effective.ATRThresholdPips,
	})

	positions := position.NewManager(position.Config{
		PipSize:        effective.PipSize,
		LotSize:        effective.LotSize,
		StopLossPips:   effective.StopLossPips,
		TakeProfitPips: effective.TakeProfitPips,
		FeeRate:        effective.FeeRate,
	})
	positions.SetTradingActive(effective.TradingActive)

	events, err := sqlitestore.New(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[engine] sqlite: %v", err)
	}
	defer events.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RedisAddr != "" {
		mirror, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("[engine] redis: %v", err)
		}
		defer mirror.Close()
		go mirror.Run(ctx, hub.Subscribe())
	}

	var liveController *live.Controller
	var dispatcher *dispatch.Dispatcher
	if cfg.LiveTradingConfigured() {
		client := broker.New(cfg.GMOBaseURL, cfg.GMOAPIKey, cfg.GMOAPISecret)
		dispatcher = dispatch.New(dispatch.Config{})
		dispatcher.OnRetry = m.DispatchRetries.Inc
		dispatcher.OnSkip = m.DispatchSkips.Inc
		liveController = live.NewController(client, positions, dispatcher, calendar)
		liveController.OnOrder = m.OrdersQueued.Inc
		log.Printf("[engine] live trading enabled against %s", cfg.GMOBaseURL)
	} else {
		log.Printf("[engine] live trading disabled (no API credentials)")
	}

	limiter := ratelimit.New(map[string]ratelimit.Limit{
		"ws-sub": {MaxCalls: 1, Interval: time.Second},
	})

	marketStream := stream.New(stream.Config{
		Endpoint: cfg.WSEndpoint,
		Symbols:  cfg.Symbols,
	}, stream.Deps{
		Hub:        hub,
		Aggregator: aggregator,
		Indicators: indicators,
		Store:      indStore,
		Signals:    signals,
		Positions:  positions,
		Live:       liveController,
		Events:     events,
		Limiter:    limiter,
		Metrics:    m,
	})

	apiServer := api.New(api.Deps{
		Hub:        hub,
		Positions:  positions,
		Signals:    signals,
		Indicators: indicators,
		Store:      indStore,
		Calendar:   calendar,
		Config:     cfgStore,
		History:    events,
		Sink:       events,
		Live:       liveController,
	})
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: apiServer.Router()}
	go func() {
		log.Printf("[engine] API listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[engine] API server: %v", err)
		}
	}()

	metricsServer := metrics.NewServer(cfg.MetricsAddr)
	go metricsServer.Start()

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := marketStream.Run(ctx); err != nil {
			log.Printf("[engine] stream stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("[engine] shutting down")

	cancel()
	<-streamDone

	if dispatcher != nil {
		dispatcher.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[engine] API shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[engine] metrics shutdown: %v", err)
	}
	hub.Close()
	log.Printf("[engine] bye")
}

// effectiveConfig merges the persisted dashboard settings over the
// environment defaults.
func effectiveConfig(cfg config.Config, persisted *configstore.Data) configstore.Data {
	out := configstore.Data{
		PipSize:            cfg.PipSize,
		LotSize:            cfg.LotSize,
		StopLossPips:       cfg.StopLossPips,
		TakeProfitPips:     cfg.TakeProfitPips,
		FeeRate:            cfg.FeeRate,
		TradingActive:      true,
		TrendSMAPeriod:     cfg.TrendSMAPeriod,
		TrendThresholdPips: cfg.TrendThresholdPips,
		ATRThresholdPips:   cfg.ATRThresholdPips,
		BlackoutWindows:    blackout.DefaultSpecs(),
	}
	if persisted == nil {
		return out
	}
	log.Printf("[engine] restored trading config from disk")
	out = *persisted
	if len(out.BlackoutWindows) == 0 {
		out.BlackoutWindows = blackout.DefaultSpecs()
	}
	return out
}
