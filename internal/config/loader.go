package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PARIMUTUEL_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PARIMUTUEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setDuration(&cfg.Market.MinDuration, "PARIMUTUEL_MARKET_MIN_DURATION")
	setDuration(&cfg.Market.MaxDuration, "PARIMUTUEL_MARKET_MAX_DURATION")
	setStr(&cfg.Market.EmptyPoolPolicy, "PARIMUTUEL_MARKET_EMPTY_POOL_POLICY")
	setStr(&cfg.Market.FaucetAmount, "PARIMUTUEL_MARKET_FAUCET_AMOUNT")

	// ── Custody ──
	setStr(&cfg.Custody.TokenDriver, "PARIMUTUEL_CUSTODY_TOKEN_DRIVER")
	setStr(&cfg.Custody.Symbol, "PARIMUTUEL_CUSTODY_SYMBOL")
	setInt(&cfg.Custody.Decimals, "PARIMUTUEL_CUSTODY_DECIMALS")
	setStr(&cfg.Custody.RegistryAddress, "PARIMUTUEL_CUSTODY_REGISTRY_ADDRESS")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "PARIMUTUEL_STORAGE_DRIVER")
	setStr(&cfg.SQLite.Path, "PARIMUTUEL_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PARIMUTUEL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PARIMUTUEL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PARIMUTUEL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PARIMUTUEL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PARIMUTUEL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PARIMUTUEL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PARIMUTUEL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PARIMUTUEL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PARIMUTUEL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PARIMUTUEL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PARIMUTUEL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PARIMUTUEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PARIMUTUEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PARIMUTUEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PARIMUTUEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PARIMUTUEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PARIMUTUEL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "PARIMUTUEL_REDIS_NAMESPACE")
	setInt64(&cfg.Redis.StreamMaxLen, "PARIMUTUEL_REDIS_STREAM_MAX_LEN")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "PARIMUTUEL_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "PARIMUTUEL_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "PARIMUTUEL_KAFKA_TOPIC")
	setInt(&cfg.Kafka.Partitions, "PARIMUTUEL_KAFKA_PARTITIONS")
	setDuration(&cfg.Kafka.WriteTimeout, "PARIMUTUEL_KAFKA_WRITE_TIMEOUT")
	setStr(&cfg.Kafka.Encoding, "PARIMUTUEL_KAFKA_ENCODING")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PARIMUTUEL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PARIMUTUEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PARIMUTUEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "PARIMUTUEL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PARIMUTUEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PARIMUTUEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PARIMUTUEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PARIMUTUEL_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setDuration(&cfg.Archive.Interval, "PARIMUTUEL_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.MinAge, "PARIMUTUEL_ARCHIVE_MIN_AGE")
	setStr(&cfg.Archive.Prefix, "PARIMUTUEL_ARCHIVE_PREFIX")
	setInt(&cfg.Archive.BatchSize, "PARIMUTUEL_ARCHIVE_BATCH_SIZE")
	setInt(&cfg.Archive.MultipartThresholdMB, "PARIMUTUEL_ARCHIVE_MULTIPART_THRESHOLD_MB")

	// ── Server ──
	setInt(&cfg.Server.Port, "PARIMUTUEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PARIMUTUEL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PARIMUTUEL_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PARIMUTUEL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PARIMUTUEL_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.MaxSkew, "PARIMUTUEL_SERVER_MAX_SKEW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PARIMUTUEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PARIMUTUEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPI, "PARIMUTUEL_NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.DiscordWebhookURL, "PARIMUTUEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PARIMUTUEL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PARIMUTUEL_MODE")
	setStr(&cfg.LogLevel, "PARIMUTUEL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
