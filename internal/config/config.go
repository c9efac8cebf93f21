package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Components
	Rates     RatesConfig
	Scheduler SchedulerConfig
	Storage   StorageConfig
	Notifier  NotifierConfig
	API       APIConfig
	WSGateway WSGatewayConfig
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Database,
		d.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// RatesConfig holds rate source configuration
type RatesConfig struct {
	SourceURL    string
	BaseCurrency string
	MaxAge       time.Duration // staleness window before a refresh is forced
	HTTPTimeout  time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	TickInterval time.Duration
	Timezone     string // IANA name or "Local"
}

// Location resolves the configured time zone
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// StorageConfig holds persistence configuration for rules and history
type StorageConfig struct {
	Backend           string // "memory", "file", "redis" or "postgres"
	DataDir           string
	RulesKey          string
	HistoryKey        string
	HistoryMaxEntries int // 0 keeps everything
}

// NotifierConfig holds notification delivery configuration
type NotifierConfig struct {
	Permission   string // "granted", "denied" or "default"
	RedisChannel string // empty disables Redis pub/sub delivery
	Title        string
}

// APIConfig holds REST API configuration
type APIConfig struct {
	Port         int
	RateLimitRPS int
}

// WSGatewayConfig holds WebSocket gateway configuration
type WSGatewayConfig struct {
	Enabled        bool
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration // pong wait
	PingInterval   time.Duration
	MaxConnections int
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "rate_notifier"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 5),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
		},
		Rates: RatesConfig{
			SourceURL:    getEnv("RATES_SOURCE_URL", "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"),
			BaseCurrency: strings.ToUpper(getEnv("RATES_BASE_CURRENCY", "EUR")),
			MaxAge:       getEnvAsDuration("RATES_MAX_AGE", 24*time.Hour),
			HTTPTimeout:  getEnvAsDuration("RATES_HTTP_TIMEOUT", 10*time.Second),
			MaxRetries:   getEnvAsInt("RATES_MAX_RETRIES", 3),
			RetryDelay:   getEnvAsDuration("RATES_RETRY_DELAY", 2*time.Second),
		},
		Scheduler: SchedulerConfig{
			TickInterval: getEnvAsDuration("SCHEDULER_TICK_INTERVAL", 30*time.Second),
			Timezone:     getEnv("SCHEDULER_TIMEZONE", "Local"),
		},
		Storage: StorageConfig{
			Backend:           getEnv("STORAGE_BACKEND", BackendFile),
			DataDir:           getEnv("STORAGE_DATA_DIR", "./data"),
			RulesKey:          getEnv("STORAGE_RULES_KEY", "rate-notifier:rules"),
			HistoryKey:        getEnv("STORAGE_HISTORY_KEY", "rate-notifier:history"),
			HistoryMaxEntries: getEnvAsInt("HISTORY_MAX_ENTRIES", 0),
		},
		Notifier: NotifierConfig{
			Permission:   getEnv("NOTIFY_PERMISSION", "default"),
			RedisChannel: getEnv("NOTIFY_REDIS_CHANNEL", ""),
			Title:        getEnv("NOTIFY_TITLE", "Exchange rate alert"),
		},
		API: APIConfig{
			Port:         getEnvAsInt("API_PORT", 8080),
			RateLimitRPS: getEnvAsInt("API_RATE_LIMIT_RPS", 50),
		},
		WSGateway: WSGatewayConfig{
			Enabled:        getEnvAsBool("WS_ENABLED", true),
			WriteTimeout:   getEnvAsDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			ReadTimeout:    getEnvAsDuration("WS_READ_TIMEOUT", 60*time.Second),
			PingInterval:   getEnvAsDuration("WS_PING_INTERVAL", 30*time.Second),
			MaxConnections: getEnvAsInt("WS_MAX_CONNECTIONS", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("STORAGE_DATA_DIR is required for the file backend")
		}
	case BackendRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("REDIS_HOST is required for the redis backend")
		}
	case BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (supported: memory, file, redis, postgres)", c.Storage.Backend)
	}
	if c.Notifier.RedisChannel != "" && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when NOTIFY_REDIS_CHANNEL is set")
	}
	if c.Rates.SourceURL == "" {
		return fmt.Errorf("RATES_SOURCE_URL is required")
	}
	if len(c.Rates.BaseCurrency) != 3 {
		return fmt.Errorf("RATES_BASE_CURRENCY must be a 3-letter code, got %q", c.Rates.BaseCurrency)
	}
	if c.Rates.MaxRetries < 1 {
		return fmt.Errorf("RATES_MAX_RETRIES must be at least 1")
	}
	if c.Scheduler.TickInterval <= 0 || c.Scheduler.TickInterval > time.Minute {
		return fmt.Errorf("SCHEDULER_TICK_INTERVAL must be within (0, 1m], got %s", c.Scheduler.TickInterval)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("invalid SCHEDULER_TIMEZONE %q: %w", c.Scheduler.Timezone, err)
	}
	switch c.Notifier.Permission {
	case "granted", "denied", "default":
	default:
		return fmt.Errorf("NOTIFY_PERMISSION must be granted, denied or default, got %q", c.Notifier.Permission)
	}
	if c.WSGateway.Enabled && c.WSGateway.PingInterval >= c.WSGateway.ReadTimeout {
		return fmt.Errorf("WS_PING_INTERVAL must be shorter than WS_READ_TIMEOUT")
	}
	if c.Storage.HistoryMaxEntries < 0 {
		return fmt.Errorf("HISTORY_MAX_ENTRIES must be non-negative")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
