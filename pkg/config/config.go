package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Risk budget
	MaxNotionalPerPosition float64
	MaxConcurrentPositions int
	BaseOrderNotional      float64

	// Execution
	DryRun           bool
	Symbols          []string
	EngineShards     int
	SignalBuffer     int
	PlaceMaxAttempts int
	PlaceBackoffBase time.Duration
	PollInterval     time.Duration
	ShutdownTimeout  time.Duration

	// Paper venue simulation
	BrokerRatePerSec float64
	BrokerBurst      int
	SlippageBps      float64
	FillSteps        int

	// Mock feed
	FeedStartPrice float64
	FeedStep       float64
	FeedInterval   time.Duration

	// Persistence
	DBPath string

	// Strategies
	StrategiesPath string
}

// ConfigurationError reports an invalid or missing setting. Startup fails
// closed on any of these.
type ConfigurationError struct {
	Key string
	Msg string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Key, e.Msg)
}

// Load reads environment variables (optionally via .env) into Config and
// validates them.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		MaxNotionalPerPosition: getEnvFloat("MAX_NOTIONAL_PER_POSITION", 10000.0),
		MaxConcurrentPositions: getEnvInt("MAX_CONCURRENT_POSITIONS", 5),
		BaseOrderNotional:      getEnvFloat("BASE_ORDER_NOTIONAL", 1000.0),
		DryRun:                 getEnv("DRY_RUN", "true") == "true",
		Symbols:                splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		EngineShards:           getEnvInt("ENGINE_SHARDS", 4),
		SignalBuffer:           getEnvInt("SIGNAL_BUFFER", 100),
		PlaceMaxAttempts:       getEnvInt("PLACE_MAX_ATTEMPTS", 3),
		PlaceBackoffBase:       getEnvDuration("PLACE_BACKOFF_BASE", time.Second),
		PollInterval:           getEnvDuration("POLL_INTERVAL", 200*time.Millisecond),
		ShutdownTimeout:        getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		BrokerRatePerSec:       getEnvFloat("BROKER_RATE_PER_SEC", 20),
		BrokerBurst:            getEnvInt("BROKER_BURST", 10),
		SlippageBps:            getEnvFloat("SLIPPAGE_BPS", 2),
		FillSteps:              getEnvInt("FILL_STEPS", 1),
		FeedStartPrice:         getEnvFloat("FEED_START_PRICE", 100.0),
		FeedStep:               getEnvFloat("FEED_STEP", 0.5),
		FeedInterval:           getEnvDuration("FEED_INTERVAL", time.Second),
		DBPath:                 getEnv("DB_PATH", "./data/execution.db"),
		StrategiesPath:         getEnv("STRATEGIES_PATH", "./strategies.yaml"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxNotionalPerPosition <= 0 {
		return &ConfigurationError{Key: "MAX_NOTIONAL_PER_POSITION", Msg: "must be positive"}
	}
	if c.MaxConcurrentPositions <= 0 {
		return &ConfigurationError{Key: "MAX_CONCURRENT_POSITIONS", Msg: "must be positive"}
	}
	if c.BaseOrderNotional <= 0 {
		return &ConfigurationError{Key: "BASE_ORDER_NOTIONAL", Msg: "must be positive"}
	}
	if len(c.Symbols) == 0 {
		return &ConfigurationError{Key: "SYMBOLS", Msg: "must list at least one symbol"}
	}
	if c.PlaceMaxAttempts <= 0 {
		return &ConfigurationError{Key: "PLACE_MAX_ATTEMPTS", Msg: "must be positive"}
	}
	if c.PlaceBackoffBase <= 0 {
		return &ConfigurationError{Key: "PLACE_BACKOFF_BASE", Msg: "must be a positive duration"}
	}
	if c.PollInterval <= 0 {
		return &ConfigurationError{Key: "POLL_INTERVAL", Msg: "must be a positive duration"}
	}
	if c.DBPath == "" {
		return &ConfigurationError{Key: "DB_PATH", Msg: "must not be empty"}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
