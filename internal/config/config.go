package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	CatalogDriverSQLite = "sqlite"
	CatalogDriverMemory = "memory"
)

type Config struct {
	ServiceName        string
	LogLevel           string
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	// OTLPEndpoint empty disables tracing export.
	OTLPEndpoint string

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresHost       string
	PostgresPort       int
	PostgresUser       string
	PostgresPassword   string
	PostgresDB         string
	PostgresSSLMode    string
	OrdersMigrations   string
	CatalogDriver      string
	SQLitePath         string
	CatalogMigrations  string
	KafkaBrokers       []string
	KafkaTopic         string
	KafkaConsumerGroup string
	OutboxPollInterval time.Duration

	Timeouts Timeouts
	Retry    Retry
	Breaker  Breaker
}

// Timeouts bound each collaborator call independently.
type Timeouts struct {
	Cart    time.Duration
	Catalog time.Duration
	Stock   time.Duration
	Persist time.Duration
	Link    time.Duration
}

type Retry struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Breaker struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

func Load() (*Config, error) {
	l := &loader{}
	cfg := &Config{
		ServiceName:        getEnv("SERVICE_NAME", "checkout-service"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RequestTimeout:     l.duration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    l.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBodySize: int64(l.int("MAX_REQUEST_BODY_BYTES", 1<<20)),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "farm"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       l.int("REDIS_DB", 0),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     l.int("POSTGRES_PORT", 5432),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getEnv("POSTGRES_DB", "orders"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		OrdersMigrations: getEnv("ORDERS_MIGRATIONS_PATH", "internal/orders/repository/migrations"),

		CatalogDriver:     getEnv("CATALOG_DRIVER", CatalogDriverSQLite),
		SQLitePath:        getEnv("SQLITE_PATH", "catalog.db"),
		CatalogMigrations: getEnv("CATALOG_MIGRATIONS_PATH", "internal/catalog/store/migrations"),

		KafkaBrokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "order-events"),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "checkout-buyer-history"),
		OutboxPollInterval: l.duration("OUTBOX_POLL_INTERVAL", time.Second),

		Timeouts: Timeouts{
			Cart:    l.duration("CART_TIMEOUT", 2*time.Second),
			Catalog: l.duration("CATALOG_TIMEOUT", 2*time.Second),
			Stock:   l.duration("STOCK_TIMEOUT", 2*time.Second),
			Persist: l.duration("PERSIST_TIMEOUT", 3*time.Second),
			Link:    l.duration("LINK_TIMEOUT", 2*time.Second),
		},
		Retry: Retry{
			Attempts:        l.int("RETRY_ATTEMPTS", 3),
			InitialInterval: l.duration("RETRY_INITIAL_INTERVAL", 100*time.Millisecond),
			MaxInterval:     l.duration("RETRY_MAX_INTERVAL", 2*time.Second),
		},
		Breaker: Breaker{
			ConsecutiveFailures: uint32(l.int("BREAKER_FAILURES", 5)),
			OpenTimeout:         l.duration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
			HalfOpenRequests:    uint32(l.int("BREAKER_HALF_OPEN_REQUESTS", 1)),
		},
	}

	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.CatalogDriver {
	case CatalogDriverSQLite, CatalogDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("CATALOG_DRIVER must be %q or %q, got %q",
			CatalogDriverSQLite, CatalogDriverMemory, c.CatalogDriver))
	}
	if c.Retry.Attempts < 0 {
		errs = append(errs, errors.New("RETRY_ATTEMPTS must not be negative"))
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		errs = append(errs, errors.New("BREAKER_FAILURES must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"CART_TIMEOUT":    c.Timeouts.Cart,
		"CATALOG_TIMEOUT": c.Timeouts.Catalog,
		"STOCK_TIMEOUT":   c.Timeouts.Stock,
		"PERSIST_TIMEOUT": c.Timeouts.Persist,
		"LINK_TIMEOUT":    c.Timeouts.Link,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loader collects parse errors so every bad variable is reported at once.
type loader struct {
	errs []error
}

func (l *loader) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return n
}

func (l *loader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return defaultValue
	}
	return d
}
