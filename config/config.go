// Package config reads the engine configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all env-parsed configuration for the engine.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string

	WSEndpoint string
	Symbols    []string
	Timeframes []int

	GMOBaseURL   string
	GMOAPIKey    string
	GMOAPISecret string

	SQLitePath        string
	TradingConfigPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CooldownSeconds    int
	HistoryLimit       int
	CandleHistoryLimit int

	PipSize            float64
	LotSize            float64
	StopLossPips       float64
	TakeProfitPips     float64
	FeeRate            float64
	ATRThresholdPips   float64
	TrendSMAPeriod     int
	TrendThresholdPips float64
}

// Load reads all environment variables and returns a Config.
func Load() Config {
	return Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8000"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9100"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		WSEndpoint: getEnv("WS_ENDPOINT", "wss://forex-api.coin.z.com/ws/public/v1"),
		Symbols:    parseList(getEnv("SYMBOLS", "USD_JPY")),
		Timeframes: parseInts(getEnv("TIMEFRAMES", "60,300"), []int{60, 300}),

		GMOBaseURL:   getEnv("GMO_BASE_URL", "https://forex-api.coin.z.com"),
		GMOAPIKey:    getEnv("GMO_API_KEY", ""),
		GMOAPISecret: getEnv("GMO_API_SECRET", ""),

		SQLitePath:        getEnv("SQLITE_PATH", "data/signals.db"),
		TradingConfigPath: getEnv("TRADING_CONFIG_PATH", "data/trading-config.json"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		CooldownSeconds:    getInt("SIGNAL_COOLDOWN_SEC", 30),
		HistoryLimit:       getInt("SIGNAL_HISTORY_LIMIT", 200),
		CandleHistoryLimit: getInt("CANDLE_HISTORY_LIMIT", 500),

		PipSize:            getFloat("PIP_SIZE", 0.001),
		LotSize:            getFloat("LOT_SIZE", 100),
		StopLossPips:       getFloat("STOP_LOSS_PIPS", 20),
		TakeProfitPips:     getFloat("TAKE_PROFIT_PIPS", 40),
		FeeRate:            getFloat("FEE_RATE", 0.00002),
		ATRThresholdPips:   getFloat("ATR_THRESHOLD_PIPS", 2.0),
		TrendSMAPeriod:     getInt("TREND_SMA_PERIOD", 21),
		TrendThresholdPips: getFloat("TREND_THRESHOLD_PIPS", 1.5),
	}
}

// Cooldown returns the signal cooldown as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// LiveTradingConfigured reports whether broker credentials are present.
func (c Config) LiveTradingConfigured() bool {
	return c.GMOAPIKey != "" && c.GMOAPISecret != ""
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInts(s string, fallback []int) []int {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
