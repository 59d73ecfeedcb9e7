package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	EngineConfig   EngineConfig   `json:"engine"`
	ServerConfig   ServerConfig   `json:"server"`
	FeedConfig     FeedConfig     `json:"feed"`
	ExecutorConfig ExecutorConfig `json:"executor"`
	RedisConfig    RedisConfig    `json:"redis"`
	DatabaseConfig DatabaseConfig `json:"database"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// EngineConfig holds the dual-track breakout engine configuration
type EngineConfig struct {
	TradedSymbol    string  `json:"traded_symbol"`     // symbol both tracks trade, e.g. "BTCUSDT"
	InstrumentClass string  `json:"instrument_class"`  // symbol substring identifying the tracked instrument class
	FixedNotional   float64 `json:"fixed_notional"`    // paper quantity = fixed_notional / entry price
	LotSize         float64 `json:"lot_size"`          // live PnL scale = quantity * lot_size
	OpenThreshold   float64 `json:"open_threshold"`    // total PnL above this promotes paper to live
	CloseThreshold  float64 `json:"close_threshold"`   // total PnL at/below this protectively closes live
	ResetTime       string  `json:"reset_time"`        // daily reset window start, "HH:MM" wall clock
	Timezone        string  `json:"timezone"`          // IANA timezone of the traded instrument
	RearmOffset     float64 `json:"rearm_offset"`      // price margin for post-reset synthetic signals
	RearmDelaySecs  int     `json:"rearm_delay_secs"`  // delay before synthetic signals after reset
	BroadcastSecs   int     `json:"broadcast_secs"`    // snapshot broadcast cadence
	PersistSecs     int     `json:"persist_secs"`      // periodic persistence cadence
	ResetCheckSecs  int     `json:"reset_check_secs"`  // how often the reset window is polled
	EventBufferSize int     `json:"event_buffer_size"` // ingestion channel capacity
}

type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	WebhookSecret   string `json:"webhook_secret"` // shared secret expected in X-Webhook-Secret, empty disables the check
	WebhookRPM      int    `json:"webhook_rpm"`    // webhook rate limit, requests per minute per IP
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// FeedConfig holds market-data WebSocket feed configuration.
// Multiple URLs mean multiple concurrent sources; ordering is per source only.
type FeedConfig struct {
	Enabled bool     `json:"enabled"`
	URLs    []string `json:"urls"`
}

// ExecutorConfig holds the outbound order-execution venues.
// Routing is static: LONG goes to the long venue, SHORT to the short venue.
type ExecutorConfig struct {
	Enabled       bool   `json:"enabled"`
	LongVenueURL  string `json:"long_venue_url"`
	ShortVenueURL string `json:"short_venue_url"`
	TimeoutSecs   int    `json:"timeout_secs"`
}

// RedisConfig holds Redis configuration for snapshot persistence
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds Postgres configuration for the closed-trade archive
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Engine config
	cfg.EngineConfig.TradedSymbol = getEnvOrDefault("ENGINE_TRADED_SYMBOL", defaultString(cfg.EngineConfig.TradedSymbol, "BTCUSDT"))
	cfg.EngineConfig.InstrumentClass = getEnvOrDefault("ENGINE_INSTRUMENT_CLASS", defaultString(cfg.EngineConfig.InstrumentClass, "BTC"))
	cfg.EngineConfig.FixedNotional = getEnvFloatOrDefault("ENGINE_FIXED_NOTIONAL", defaultFloat(cfg.EngineConfig.FixedNotional, 100000))
	cfg.EngineConfig.LotSize = getEnvFloatOrDefault("ENGINE_LOT_SIZE", defaultFloat(cfg.EngineConfig.LotSize, 1))
	cfg.EngineConfig.OpenThreshold = getEnvFloatOrDefault("ENGINE_OPEN_THRESHOLD", cfg.EngineConfig.OpenThreshold)
	cfg.EngineConfig.CloseThreshold = getEnvFloatOrDefault("ENGINE_CLOSE_THRESHOLD", cfg.EngineConfig.CloseThreshold)
	cfg.EngineConfig.ResetTime = getEnvOrDefault("ENGINE_RESET_TIME", defaultString(cfg.EngineConfig.ResetTime, "05:30"))
	cfg.EngineConfig.Timezone = getEnvOrDefault("ENGINE_TIMEZONE", defaultString(cfg.EngineConfig.Timezone, "UTC"))
	cfg.EngineConfig.RearmOffset = getEnvFloatOrDefault("ENGINE_REARM_OFFSET", defaultFloat(cfg.EngineConfig.RearmOffset, 50))
	cfg.EngineConfig.RearmDelaySecs = getEnvIntOrDefault("ENGINE_REARM_DELAY_SECS", defaultInt(cfg.EngineConfig.RearmDelaySecs, 5))
	cfg.EngineConfig.BroadcastSecs = getEnvIntOrDefault("ENGINE_BROADCAST_SECS", defaultInt(cfg.EngineConfig.BroadcastSecs, 1))
	cfg.EngineConfig.PersistSecs = getEnvIntOrDefault("ENGINE_PERSIST_SECS", defaultInt(cfg.EngineConfig.PersistSecs, 60))
	cfg.EngineConfig.ResetCheckSecs = getEnvIntOrDefault("ENGINE_RESET_CHECK_SECS", defaultInt(cfg.EngineConfig.ResetCheckSecs, 5))
	cfg.EngineConfig.EventBufferSize = getEnvIntOrDefault("ENGINE_EVENT_BUFFER", defaultInt(cfg.EngineConfig.EventBufferSize, 1024))

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.WebhookSecret = getEnvOrDefault("WEBHOOK_SECRET", cfg.ServerConfig.WebhookSecret)
	cfg.ServerConfig.WebhookRPM = getEnvIntOrDefault("WEBHOOK_RPM", defaultInt(cfg.ServerConfig.WebhookRPM, 120))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Feed config
	cfg.FeedConfig.Enabled = getEnvOrDefault("FEED_ENABLED", boolString(cfg.FeedConfig.Enabled)) == "true"
	if url := os.Getenv("FEED_URL"); url != "" {
		cfg.FeedConfig.URLs = []string{url}
	}

	// Executor config
	cfg.ExecutorConfig.Enabled = getEnvOrDefault("EXECUTOR_ENABLED", boolString(cfg.ExecutorConfig.Enabled)) == "true"
	cfg.ExecutorConfig.LongVenueURL = getEnvOrDefault("EXECUTOR_LONG_VENUE_URL", cfg.ExecutorConfig.LongVenueURL)
	cfg.ExecutorConfig.ShortVenueURL = getEnvOrDefault("EXECUTOR_SHORT_VENUE_URL", cfg.ExecutorConfig.ShortVenueURL)
	cfg.ExecutorConfig.TimeoutSecs = getEnvIntOrDefault("EXECUTOR_TIMEOUT_SECS", defaultInt(cfg.ExecutorConfig.TimeoutSecs, 5))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", boolString(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.URL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseConfig.URL)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func defaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
