package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Reference asset
	Symbols []string // exchange symbols, lowercased for stream names

	// Feeds
	SpotWSURL       string
	VenueWSURL      string // venue real-time price socket
	BookWSURL       string // CLOB market channel
	OracleRPCURLs   []string
	OracleFeedAddr  string // on-chain aggregator contract
	OraclePollEvery time.Duration
	ReconnectEvery  time.Duration
	KlinesURL       string

	// Synchronizer
	TickEvery time.Duration
	RingSize  int
	SpoolPath string // CSV spool directory, empty disables

	// Tracker
	WindowSpan     time.Duration
	MoveThreshold  float64 // fraction of interval open
	IntervalLength time.Duration

	// Probability surface
	SurfacePath string

	// Strategy thresholds
	DutchBookMax      decimal.Decimal // combined ask below this triggers tier 1
	LagArbMaxCombined decimal.Decimal
	MomentumTrigger   float64
	MomentumMinEdge   float64
	MomentumMinConf   float64
	MinTimeRemaining  float64 // seconds
	FlashCrashTrigger float64
	ReversionFraction float64

	// Execution
	CLOBURL        string
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string
	PrivateKey     string
	FunderAddress  string
	FeeRate        float64

	// Sizing and risk
	BaseSize        decimal.Decimal // USD per trade before Kelly scaling
	MaxConsecLosses int
	CooldownSeconds int
	MaxDailyLoss    decimal.Decimal
	MaxExposure     decimal.Decimal

	// Storage
	DatabasePath string

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		Symbols: []string{getEnv("SYMBOL", "BTCUSDT")},

		SpotWSURL:       getEnv("SPOT_WS_URL", "wss://stream.binance.com:9443/stream"),
		VenueWSURL:      getEnv("VENUE_WS_URL", "wss://ws-live-data.polymarket.com"),
		BookWSURL:       getEnv("BOOK_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		OracleFeedAddr:  getEnv("ORACLE_FEED_ADDR", "0xc907E116054Ad103354f2D350FD2514433D57F6f"),
		OraclePollEvery: getEnvDuration("ORACLE_POLL_INTERVAL", 2*time.Second),
		ReconnectEvery:  getEnvDuration("RECONNECT_INTERVAL", 5*time.Second),
		KlinesURL:       getEnv("KLINES_URL", "https://api.binance.com/api/v3/klines"),

		TickEvery: getEnvDuration("SYNC_TICK", 100*time.Millisecond),
		RingSize:  getEnvInt("SYNC_RING_SIZE", 10000),
		SpoolPath: os.Getenv("SPOOL_PATH"),

		WindowSpan:     getEnvDuration("TRACKER_WINDOW", 10*time.Second),
		MoveThreshold:  getEnvFloat("MOVE_THRESHOLD", 0.002),
		IntervalLength: getEnvDuration("INTERVAL_LENGTH", 15*time.Minute),

		SurfacePath: os.Getenv("SURFACE_PATH"),

		DutchBookMax:      getEnvDecimal("DUTCH_BOOK_MAX", decimal.NewFromFloat(0.99)),
		LagArbMaxCombined: getEnvDecimal("LAG_ARB_MAX_COMBINED", decimal.NewFromFloat(0.995)),
		MomentumTrigger:   getEnvFloat("MOMENTUM_TRIGGER", 0.001),
		MomentumMinEdge:   getEnvFloat("MOMENTUM_MIN_EDGE", 0.03),
		MomentumMinConf:   getEnvFloat("MOMENTUM_MIN_CONF", 0.5),
		MinTimeRemaining:  getEnvFloat("MIN_TIME_REMAINING", 300),
		FlashCrashTrigger: getEnvFloat("FLASH_CRASH_TRIGGER", 0.05),
		ReversionFraction: getEnvFloat("REVERSION_FRACTION", 0.5),

		CLOBURL:        getEnv("CLOB_URL", "https://clob.polymarket.com"),
		CLOBApiKey:     os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:  os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase: os.Getenv("CLOB_PASSPHRASE"),
		PrivateKey:     os.Getenv("WALLET_PRIVATE_KEY"),
		FunderAddress:  os.Getenv("FUNDER_ADDRESS"),
		FeeRate:        getEnvFloat("FEE_RATE", 0.0),

		BaseSize:        getEnvDecimal("BASE_SIZE", decimal.NewFromFloat(10)),
		MaxConsecLosses: getEnvInt("MAX_CONSEC_LOSSES", 3),
		CooldownSeconds: getEnvInt("COOLDOWN_SECONDS", 300),
		MaxDailyLoss:    getEnvDecimal("MAX_DAILY_LOSS", decimal.NewFromFloat(100)),
		MaxExposure:     getEnvDecimal("MAX_EXPOSURE", decimal.NewFromFloat(200)),

		DatabasePath: getEnv("DATABASE_PATH", "data/updown.db"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if urls := os.Getenv("ORACLE_RPC_URLS"); urls != "" {
		cfg.OracleRPCURLs = splitCSV(urls)
	} else {
		cfg.OracleRPCURLs = []string{
			"https://polygon-rpc.com",
			"https://rpc.ankr.com/polygon",
			"https://polygon.llamarpc.com",
			"https://polygon-bor-rpc.publicnode.com",
		}
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Validate required fields
	if cfg.SurfacePath == "" {
		return nil, fmt.Errorf("SURFACE_PATH is required")
	}
	if !cfg.DryRun && cfg.PrivateKey == "" {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY is required for live trading")
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
