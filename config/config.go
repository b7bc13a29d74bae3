package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Core
	DataDir      string
	StartingCash decimal.Decimal
	Username     string
	LogLevel     string

	// Settlement delay window
	OrderDelayMin time.Duration
	OrderDelayMax time.Duration

	// How often position valuations are refreshed from the quote source.
	// Zero disables the refresh loop.
	RevalueInterval time.Duration

	// Infrastructure
	MetricsAddr   string
	RedisAddr     string // empty disables the quote cache
	RedisPassword string
	JournalPath   string // empty disables the execution journal

	// Market data and insights
	QuoteWSURL   string // empty falls back to static quotes
	StaticQuotes string // comma-separated SYMBOL=PRICE pairs
	InsightURL   string // empty disables insights

	// Notifications
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		DataDir:      getEnv("DATA_DIR", "data"),
		StartingCash: getEnvDecimal("STARTING_CASH", "10000.00"),
		Username:     getEnv("USERNAME", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		OrderDelayMin: getEnvDurationMS("ORDER_DELAY_MIN_MS", 3000),
		OrderDelayMax: getEnvDurationMS("ORDER_DELAY_MAX_MS", 8000),

		RevalueInterval: getEnvDurationMS("REVALUE_INTERVAL_MS", 60000),

		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		JournalPath:   getEnv("JOURNAL_PATH", "data/executions.db"),

		QuoteWSURL:   getEnv("QUOTE_WS_URL", ""),
		StaticQuotes: getEnv("STATIC_QUOTES", "AAPL=189.50,MSFT=415.20,TSLA=242.80,NVDA=118.40,BTC=60123.45,ETH=2987.10,SOL=142.55,DOGE=0.1234"),
		InsightURL:   getEnv("INSIGHT_URL", ""),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// ParseStaticQuotes parses the StaticQuotes string into a symbol->price map.
func (c *Config) ParseStaticQuotes() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(c.StaticQuotes, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sym, val, ok := strings.Cut(pair, "=")
		if !ok {
			log.Printf("[config] skipping malformed quote pair: %q", pair)
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil || !price.IsPositive() {
			log.Printf("[config] skipping invalid quote price: %q", pair)
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(sym))] = price
	}
	return out
}

// QuoteSymbols returns the symbols named in StaticQuotes, for feed
// subscription.
func (c *Config) QuoteSymbols() []string {
	quotes := c.ParseStaticQuotes()
	symbols := make([]string, 0, len(quotes))
	for sym := range quotes {
		symbols = append(symbols, sym)
	}
	return symbols
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Fatalf("[config] env var %s is not a valid decimal: %q", key, v)
	}
	return d
}

func getEnvDurationMS(key string, fallbackMS int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallbackMS) * time.Millisecond
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Fatalf("[config] env var %s is not a valid millisecond count: %q", key, v)
	}
	return time.Duration(n) * time.Millisecond
}
