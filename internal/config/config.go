// Package config centralises configuration parsing for the venue service.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values for the venue service binaries.
type Config struct {
	HTTPAddress        string
	MetricsAddress     string
	PostgresURL        string // Empty selects the in-memory store.
	KafkaBrokers       []string
	SchemaRegistryURL  string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	JWTSecret          string
	JWTIssuer          string
	DLQPollInterval    time.Duration // Interval between DLQ polling iterations.
	DLQMaxRetries      int           // Maximum number of DLQ retry attempts before quarantine.
	DLQBaseDelay       time.Duration // Base delay used for exponential backoff.
	ConsumerGroupID    string
	ConsumerTopics     []string

	YelpAPIKey      string
	YelpEndpoint    string
	ProviderTimeout time.Duration
	MaxRadiusMiles  int
	MaxResults      int

	CacheInvalidationURL   string
	CacheInvalidationToken string

	LogLevel string
}

// ErrMissingAPIKey is returned by Validate when no provider key is configured.
var ErrMissingAPIKey = errors.New("config: YELP_API_KEY is required")

// Load reads environment variables into Config, applying sensible defaults for local dev.
func Load() Config {
	cfg := Config{
		HTTPAddress:            getEnv("HTTP_ADDRESS", ":8080"),
		MetricsAddress:         getEnv("METRICS_ADDRESS", ":9102"),
		PostgresURL:            os.Getenv("POSTGRES_URL"),
		SchemaRegistryURL:      getEnv("SCHEMA_REGISTRY_URL", "http://schema-registry:8081"),
		OutboxPollInterval:     getDurationEnv("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:        getIntEnv("OUTBOX_BATCH_SIZE", 25),
		JWTSecret:              getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:              getEnv("JWT_ISSUER", "venues.identity"),
		DLQPollInterval:        getDurationEnv("DLQ_POLL_INTERVAL", 30*time.Second),
		DLQMaxRetries:          getIntEnv("DLQ_MAX_RETRIES", 5),
		DLQBaseDelay:           getDurationEnv("DLQ_BASE_DELAY", time.Minute),
		ConsumerGroupID:        getEnv("CONSUMER_GROUP_ID", "venue-sync-log"),
		YelpAPIKey:             os.Getenv("YELP_API_KEY"),
		YelpEndpoint:           getEnv("YELP_ENDPOINT", "https://api.yelp.com/v3/businesses/search"),
		ProviderTimeout:        getDurationEnv("PROVIDER_TIMEOUT", 10*time.Second),
		MaxRadiusMiles:         getIntEnv("MAX_RADIUS_MILES", 24),
		MaxResults:             getIntEnv("MAX_RESULTS", 50),
		CacheInvalidationURL:   os.Getenv("CACHE_INVALIDATION_URL"),
		CacheInvalidationToken: os.Getenv("CACHE_INVALIDATION_TOKEN"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092"))
	cfg.ConsumerTopics = splitAndTrim(getEnv("CONSUMER_TOPICS", "venue_sync_events"))
	return cfg
}

// Validate checks the settings the API binary cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.YelpAPIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level; unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
