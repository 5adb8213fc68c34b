package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Collection CollectionConfig `yaml:"collection"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds the latest-price cache configuration. An empty Addr
// disables the cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig holds run-event publishing configuration. Empty Brokers
// disables publishing.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ExchangeConfig holds upstream REST API configuration.
type ExchangeConfig struct {
	BaseURL         string        `yaml:"base_url"`
	QuoteAsset      string        `yaml:"quote_asset"`
	WeightPerMinute int           `yaml:"weight_per_minute"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
}

// CollectionConfig holds ingestion windowing and scheduling knobs.
type CollectionConfig struct {
	StartDate  string `yaml:"start_date"` // YYYY-MM-DD, UTC
	TopSymbols int    `yaml:"top_symbols"`
	BatchHours int    `yaml:"batch_hours"`
	CronSpec   string `yaml:"cron_spec"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// Load reads config from a YAML file (a missing file is fine), then applies
// environment variable overrides, then defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg.Server.Host, "SERVER_HOST")
	applyEnv(&cfg.Server.Port, "SERVER_PORT")
	applyEnv(&cfg.Database.Host, "DB_HOST")
	applyEnv(&cfg.Database.Port, "DB_PORT")
	applyEnv(&cfg.Database.User, "DB_USER")
	applyEnv(&cfg.Database.Password, "DB_PASSWORD")
	applyEnv(&cfg.Database.DBName, "DB_NAME")
	applyEnv(&cfg.Database.SSLMode, "DB_SSLMODE")
	applyEnv(&cfg.Redis.Addr, "REDIS_ADDR")
	applyEnv(&cfg.Redis.Password, "REDIS_PASSWORD")
	applyEnv(&cfg.Exchange.BaseURL, "EXCHANGE_BASE_URL")
	applyEnv(&cfg.Collection.StartDate, "COLLECTION_START_DATE")
	applyEnv(&cfg.Collection.CronSpec, "COLLECTION_CRON")
	applyEnv(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("COLLECTION_TOP_SYMBOLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Collection.TopSymbols = n
		}
	}
	if v := os.Getenv("COLLECTION_RUN_ON_START"); v != "" {
		cfg.Collection.RunOnStart = v == "true" || v == "1"
	}

	// Defaults
	defaultStr(&cfg.Server.Host, "0.0.0.0")
	defaultStr(&cfg.Server.Port, "8080")
	defaultStr(&cfg.Database.Host, "localhost")
	defaultStr(&cfg.Database.Port, "5432")
	defaultStr(&cfg.Database.User, "postgres")
	defaultStr(&cfg.Database.Password, "postgres")
	defaultStr(&cfg.Database.DBName, "marketdata")
	defaultStr(&cfg.Database.SSLMode, "disable")
	defaultStr(&cfg.Kafka.Topic, "collection-events")
	defaultStr(&cfg.Exchange.BaseURL, "https://api.binance.com")
	defaultStr(&cfg.Exchange.QuoteAsset, "USDT")
	if cfg.Exchange.WeightPerMinute == 0 {
		cfg.Exchange.WeightPerMinute = 1200
	}
	if cfg.Exchange.RequestTimeout == 0 {
		cfg.Exchange.RequestTimeout = 30 * time.Second
	}
	if cfg.Exchange.MaxRetries == 0 {
		cfg.Exchange.MaxRetries = 3
	}
	if cfg.Exchange.RetryBackoff == 0 {
		cfg.Exchange.RetryBackoff = time.Second
	}
	defaultStr(&cfg.Collection.StartDate, "2020-01-01")
	if cfg.Collection.TopSymbols == 0 {
		cfg.Collection.TopSymbols = 10
	}
	if cfg.Collection.BatchHours == 0 {
		cfg.Collection.BatchHours = 720
	}
	defaultStr(&cfg.Collection.CronSpec, "@hourly")

	return cfg, nil
}

// Validate checks that all required fields parse.
func (c *Config) Validate() error {
	if _, err := c.Collection.ParsedStartDate(); err != nil {
		return fmt.Errorf("collection.start_date: %w", err)
	}
	if c.Collection.TopSymbols < 1 {
		return fmt.Errorf("collection.top_symbols must be positive")
	}
	if c.Collection.BatchHours < 1 {
		return fmt.Errorf("collection.batch_hours must be positive")
	}
	if c.Exchange.WeightPerMinute < 1 {
		return fmt.Errorf("exchange.weight_per_minute must be positive")
	}
	return nil
}

// ParsedStartDate returns the configured historical start date as a UTC time.
func (c *CollectionConfig) ParsedStartDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date %q: %w", c.StartDate, err)
	}
	return t.UTC(), nil
}

// ConnectionString returns the PostgreSQL connection string.
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

func applyEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func defaultStr(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}
