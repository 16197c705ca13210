// Package config defines the top-level configuration for the parimutuel
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PARIMUTUEL_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Market   MarketConfig   `toml:"market"`
	Custody  CustodyConfig  `toml:"custody"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	Kafka    KafkaConfig    `toml:"kafka"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// MarketConfig holds creation bounds and settlement policy.
type MarketConfig struct {
	MinDuration     duration `toml:"min_duration"`
	MaxDuration     duration `toml:"max_duration"`
	EmptyPoolPolicy string   `toml:"empty_pool_policy"`
	// FaucetAmount is a human amount minted per faucet call. "0" disables
	// the faucet.
	FaucetAmount string `toml:"faucet_amount"`
}

// CustodyConfig selects the settlement token backend.
type CustodyConfig struct {
	// TokenDriver is "memory" or "redis".
	TokenDriver string `toml:"token_driver"`
	Symbol      string `toml:"symbol"`
	Decimals    int    `toml:"decimals"`
	// RegistryAddress seeds the per-market escrow addresses.
	RegistryAddress string `toml:"registry_address"`
}

// StorageConfig selects the event log and projection backend.
type StorageConfig struct {
	// Driver is "postgres", "sqlite" or "memory".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the database file location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// Namespace prefixes every key, channel and stream.
	Namespace    string `toml:"namespace"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// KafkaConfig holds the event topic parameters.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	Partitions   int      `toml:"partitions"`
	WriteTimeout duration `toml:"write_timeout"`
	// Encoding is "json" or "protobuf".
	Encoding string `toml:"encoding"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled bool `toml:"enabled"`
	// Endpoint is empty for AWS itself.
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the periodic export of resolved markets to S3.
type ArchiveConfig struct {
	Interval duration `toml:"interval"`
	// MinAge is how long a market stays resolved before it is archived.
	MinAge               duration `toml:"min_age"`
	Prefix               string   `toml:"prefix"`
	BatchSize            int      `toml:"batch_size"`
	MultipartThresholdMB int      `toml:"multipart_threshold_mb"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP. 0 disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// MaxSkew bounds the age of a signed request.
	MaxSkew duration `toml:"max_skew"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPI       string   `toml:"telegram_api"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Market: MarketConfig{
			MinDuration:     duration{time.Hour},
			MaxDuration:     duration{365 * 24 * time.Hour},
			EmptyPoolPolicy: string(domain.EmptyPoolRefund),
			FaucetAmount:    "1000",
		},
		Custody: CustodyConfig{
			TokenDriver:     "memory",
			Symbol:          "USDC",
			Decimals:        6,
			RegistryAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "parimutuel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "parimutuel.db",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			Namespace:    "parimutuel",
			StreamMaxLen: 10000,
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        "parimutuel.market-events",
			Partitions:   3,
			WriteTimeout: duration{5 * time.Second},
			Encoding:     "json",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "parimutuel-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:             duration{time.Hour},
			MinAge:               duration{24 * time.Hour},
			Prefix:               "markets",
			BatchSize:            100,
			MultipartThresholdMB: 16,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
			MaxSkew:     duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{string(domain.EventMarketCreated), string(domain.EventResolved)},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"replay":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEventKinds = map[string]bool{
	string(domain.EventMarketCreated): true,
	string(domain.EventStaked):        true,
	string(domain.EventResolved):      true,
	string(domain.EventWithdrawn):     true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, replay, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if c.Market.MinDuration.Duration <= 0 {
		errs = append(errs, "market: min_duration must be > 0")
	}
	if c.Market.MaxDuration.Duration < c.Market.MinDuration.Duration {
		errs = append(errs, "market: max_duration must not be below min_duration")
	}
	if !domain.EmptyPoolPolicy(c.Market.EmptyPoolPolicy).Valid() {
		errs = append(errs, fmt.Sprintf("market: unknown empty_pool_policy %q (valid: refund, lock, creator)", c.Market.EmptyPoolPolicy))
	}
	if _, err := domain.ParseAmount(c.Market.FaucetAmount, int32(c.Custody.Decimals)); err != nil {
		errs = append(errs, fmt.Sprintf("market: faucet_amount: %v", err))
	}

	// Custody
	switch c.Custody.TokenDriver {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "custody: token_driver redis requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("custody: unknown token_driver %q (valid: memory, redis)", c.Custody.TokenDriver))
	}
	if strings.TrimSpace(c.Custody.Symbol) == "" {
		errs = append(errs, "custody: symbol must not be empty")
	}
	if c.Custody.Decimals < 0 || c.Custody.Decimals > 18 {
		errs = append(errs, fmt.Sprintf("custody: decimals must be 0-18, got %d", c.Custody.Decimals))
	}
	if !common.IsHexAddress(c.Custody.RegistryAddress) {
		errs = append(errs, fmt.Sprintf("custody: registry_address %q is not a hex address", c.Custody.RegistryAddress))
	}

	// Storage
	switch c.Storage.Driver {
	case "postgres":
		errs = append(errs, c.Postgres.validate()...)
	case "sqlite":
		if strings.TrimSpace(c.SQLite.Path) == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, sqlite, memory)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamMaxLen < 1 {
			errs = append(errs, "redis: stream_max_len must be >= 1")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
		if c.Kafka.Encoding != "json" && c.Kafka.Encoding != "protobuf" {
			errs = append(errs, fmt.Sprintf("kafka: unknown encoding %q (valid: json, protobuf)", c.Kafka.Encoding))
		}
	}

	// S3 and archive
	if c.S3.Enabled {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.MinAge.Duration < 0 {
			errs = append(errs, "archive: min_age must be >= 0")
		}
		if c.Storage.Driver == "memory" {
			errs = append(errs, "archive: storage.driver memory has no projection to archive from")
		}
	}
	if strings.EqualFold(c.Mode, "archive") && !c.S3.Enabled {
		errs = append(errs, "archive mode requires s3.enabled")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !validEventKinds[e] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (p PostgresConfig) validate() []string {
	var errs []string
	if strings.TrimSpace(p.DSN) == "" {
		if p.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if p.Port <= 0 || p.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", p.Port))
		}
		if p.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if p.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if p.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if p.PoolMinConns > p.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}
	return errs
}

// FaucetAmount returns the configured faucet amount in base units.
// Validate must have succeeded.
func (c *Config) FaucetAmount() domain.Amount {
	a, _ := domain.ParseAmount(c.Market.FaucetAmount, int32(c.Custody.Decimals))
	return a
}
