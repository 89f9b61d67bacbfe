package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // SEARCH_TIMEZONE must load in minimal containers

	"github.com/spf13/viper"
)

// Store drivers accepted in STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Store    StoreConfig
	Geocoder GeocoderConfig
	Search   SearchConfig
	Kafka    KafkaConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings. Redis only backs the shared
// geocoding cache, so it is optional.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"REDIS_ENABLED"`
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// StoreConfig selects the trip store backend.
type StoreConfig struct {
	Driver     string `mapstructure:"STORE_DRIVER"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`
}

// GeocoderConfig holds the upstream geocoding settings.
type GeocoderConfig struct {
	BaseURL      string        `mapstructure:"GEOCODER_BASE_URL"`
	UserAgent    string        `mapstructure:"GEOCODER_USER_AGENT"`
	Timeout      time.Duration `mapstructure:"GEOCODER_TIMEOUT"`
	Attempts     int           `mapstructure:"GEOCODER_ATTEMPTS"`
	BackoffBase  time.Duration `mapstructure:"GEOCODER_BACKOFF_BASE"`
	BackoffMax   time.Duration `mapstructure:"GEOCODER_BACKOFF_MAX"`
	CacheSize    int           `mapstructure:"GEOCODER_CACHE_SIZE"`
	CacheTTL     time.Duration `mapstructure:"GEOCODER_CACHE_TTL"`
	RedisTTL     time.Duration `mapstructure:"GEOCODER_REDIS_TTL"`
	SuggestLimit int           `mapstructure:"GEOCODER_SUGGEST_LIMIT"`
}

// SearchConfig tunes the match engine.
type SearchConfig struct {
	DefaultRadiusKm float64 `mapstructure:"SEARCH_DEFAULT_RADIUS_KM"`
	MaxRadiusKm     float64 `mapstructure:"SEARCH_MAX_RADIUS_KM"`
	MaxResults      int     `mapstructure:"SEARCH_MAX_RESULTS"`
	Timezone        string  `mapstructure:"SEARCH_TIMEZONE"`
	HideDeparted    bool    `mapstructure:"SEARCH_HIDE_DEPARTED"`
}

// KafkaConfig enables the trip event publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"KAFKA_BROKERS"`
	Topic   string   `mapstructure:"KAFKA_TOPIC"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RetryBudget is the longest a geocoding call can take with every attempt
// timing out: all attempt timeouts plus the doubling backoff between them.
func (g *GeocoderConfig) RetryBudget() time.Duration {
	total := time.Duration(g.Attempts) * g.Timeout
	wait := g.BackoffBase
	for i := 1; i < g.Attempts; i++ {
		total += min(wait, g.BackoffMax)
		wait *= 2
	}
	return total
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Location loads the configured timezone.
func (s *SearchConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "5s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_USER", "campusride")
	v.SetDefault("POSTGRES_PASSWORD", "campusride_secret")
	v.SetDefault("POSTGRES_DB", "campusride")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("POSTGRES_MAX_CONNS", 50)
	v.SetDefault("POSTGRES_MIN_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)

	v.SetDefault("STORE_DRIVER", StorePostgres)
	v.SetDefault("SQLITE_PATH", "campusride.db")

	v.SetDefault("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org")
	v.SetDefault("GEOCODER_USER_AGENT", "campusride/1.0")
	v.SetDefault("GEOCODER_TIMEOUT", "5s")
	v.SetDefault("GEOCODER_ATTEMPTS", 3)
	v.SetDefault("GEOCODER_BACKOFF_BASE", "250ms")
	v.SetDefault("GEOCODER_BACKOFF_MAX", "2s")
	v.SetDefault("GEOCODER_CACHE_SIZE", 500)
	v.SetDefault("GEOCODER_CACHE_TTL", "24h")
	v.SetDefault("GEOCODER_REDIS_TTL", "24h")
	v.SetDefault("GEOCODER_SUGGEST_LIMIT", 5)

	v.SetDefault("SEARCH_DEFAULT_RADIUS_KM", 2.0)
	v.SetDefault("SEARCH_MAX_RADIUS_KM", 50.0)
	v.SetDefault("SEARCH_MAX_RESULTS", 100)
	v.SetDefault("SEARCH_TIMEZONE", "America/Bogota")
	v.SetDefault("SEARCH_HIDE_DEPARTED", true)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "trips.events")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = v.ReadInConfig()

	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         v.GetString("SERVER_HOST"),
		Port:         v.GetInt("SERVER_PORT"),
		ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  v.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     v.GetString("POSTGRES_HOST"),
		Port:     v.GetInt("POSTGRES_PORT"),
		User:     v.GetString("POSTGRES_USER"),
		Password: v.GetString("POSTGRES_PASSWORD"),
		DBName:   v.GetString("POSTGRES_DB"),
		SSLMode:  v.GetString("POSTGRES_SSLMODE"),
		MaxConns: v.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: v.GetInt32("POSTGRES_MIN_CONNS"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}

	// ── Store ───────────────────────────────────────────
	cfg.Store = StoreConfig{
		Driver:     strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		SQLitePath: v.GetString("SQLITE_PATH"),
	}

	// ── Geocoder ────────────────────────────────────────
	cfg.Geocoder = GeocoderConfig{
		BaseURL:      v.GetString("GEOCODER_BASE_URL"),
		UserAgent:    v.GetString("GEOCODER_USER_AGENT"),
		Timeout:      v.GetDuration("GEOCODER_TIMEOUT"),
		Attempts:     v.GetInt("GEOCODER_ATTEMPTS"),
		BackoffBase:  v.GetDuration("GEOCODER_BACKOFF_BASE"),
		BackoffMax:   v.GetDuration("GEOCODER_BACKOFF_MAX"),
		CacheSize:    v.GetInt("GEOCODER_CACHE_SIZE"),
		CacheTTL:     v.GetDuration("GEOCODER_CACHE_TTL"),
		RedisTTL:     v.GetDuration("GEOCODER_REDIS_TTL"),
		SuggestLimit: v.GetInt("GEOCODER_SUGGEST_LIMIT"),
	}

	// ── Search ──────────────────────────────────────────
	cfg.Search = SearchConfig{
		DefaultRadiusKm: v.GetFloat64("SEARCH_DEFAULT_RADIUS_KM"),
		MaxRadiusKm:     v.GetFloat64("SEARCH_MAX_RADIUS_KM"),
		MaxResults:      v.GetInt("SEARCH_MAX_RESULTS"),
		Timezone:        v.GetString("SEARCH_TIMEZONE"),
		HideDeparted:    v.GetBool("SEARCH_HIDE_DEPARTED"),
	}

	// ── Kafka ───────────────────────────────────────────
	cfg.Kafka = KafkaConfig{
		Brokers: splitList(v.GetString("KAFKA_BROKERS")),
		Topic:   v.GetString("KAFKA_TOPIC"),
	}

	// ── Log ─────────────────────────────────────────────
	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// validate reports every problem at once.
func (c *Config) validate() error {
	var errs []error

	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q must be one of memory, postgres, sqlite", c.Store.Driver))
	}

	if c.Geocoder.BaseURL == "" {
		errs = append(errs, errors.New("GEOCODER_BASE_URL is required"))
	}
	if c.Geocoder.Attempts < 1 {
		errs = append(errs, fmt.Errorf("GEOCODER_ATTEMPTS must be >= 1, got %d", c.Geocoder.Attempts))
	}
	if budget := c.Geocoder.RetryBudget(); c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= budget {
		errs = append(errs, fmt.Errorf("SERVER_WRITE_TIMEOUT %s must exceed the geocoder retry budget %s",
			c.Server.WriteTimeout, budget))
	}
	if c.Geocoder.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("GEOCODER_CACHE_SIZE must be >= 1, got %d", c.Geocoder.CacheSize))
	}

	if c.Search.MaxRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_MAX_RADIUS_KM must be > 0, got %g", c.Search.MaxRadiusKm))
	}
	if c.Search.DefaultRadiusKm <= 0 || c.Search.DefaultRadiusKm > c.Search.MaxRadiusKm {
		errs = append(errs, fmt.Errorf("SEARCH_DEFAULT_RADIUS_KM must be in (0, %g], got %g",
			c.Search.MaxRadiusKm, c.Search.DefaultRadiusKm))
	}
	if _, err := c.Search.Location(); err != nil {
		errs = append(errs, fmt.Errorf("SEARCH_TIMEZONE: %w", err))
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
