package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
	if got := cfg.FaucetAmount(); got != 1_000_000_000 {
		t.Fatalf("FaucetAmount() = %d, want 1000000000", got)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
mode = "replay"

[market]
min_duration = "30m"
empty_pool_policy = "creator"

[storage]
driver = "memory"

[kafka]
enabled = true
brokers = ["kafka-1:9092"]
`)
	t.Setenv("PARIMUTUEL_SERVER_PORT", "9090")
	t.Setenv("PARIMUTUEL_KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("PARIMUTUEL_MARKET_MAX_DURATION", "48h")
	t.Setenv("PARIMUTUEL_REDIS_ENABLED", "not-a-bool")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Mode != "replay" {
		t.Fatalf("Mode = %q, want replay", cfg.Mode)
	}
	if cfg.Market.MinDuration.Duration != 30*time.Minute {
		t.Fatalf("MinDuration = %v, want 30m", cfg.Market.MinDuration)
	}
	if cfg.Market.MaxDuration.Duration != 48*time.Hour {
		t.Fatalf("MaxDuration = %v, want 48h", cfg.Market.MaxDuration)
	}
	if cfg.Market.EmptyPoolPolicy != "creator" {
		t.Fatalf("EmptyPoolPolicy = %q", cfg.Market.EmptyPoolPolicy)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("Port = %d, want 9090", cfg.Server.Port)
	}
	if strings.Join(cfg.Kafka.Brokers, ",") != "a:9092,b:9092" {
		t.Fatalf("Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.Enabled {
		t.Fatal("unparseable bool override should be ignored")
	}
	// Untouched sections keep their defaults.
	if cfg.Custody.Symbol != "USDC" || cfg.Custody.Decimals != 6 {
		t.Fatalf("custody = %+v, want defaults", cfg.Custody)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[market]
min_durration = "1h"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "market.min_durration") {
		t.Fatalf("Load error = %v, want unknown key market.min_durration", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, `unknown log_level "loud"`},
		{"policy", func(c *Config) { c.Market.EmptyPoolPolicy = "burn" }, `unknown empty_pool_policy "burn"`},
		{"durations", func(c *Config) { c.Market.MaxDuration = duration{time.Minute} }, "max_duration must not be below min_duration"},
		{"faucet", func(c *Config) { c.Market.FaucetAmount = "1.0000001" }, "faucet_amount"},
		{"token driver", func(c *Config) { c.Custody.TokenDriver = "redis" }, "requires redis.enabled"},
		{"registry address", func(c *Config) { c.Custody.RegistryAddress = "registry" }, "registry_address"},
		{"storage", func(c *Config) { c.Storage.Driver = "mysql" }, `unknown driver "mysql"`},
		{"postgres pool", func(c *Config) {
			c.Storage.Driver = "postgres"
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns must not exceed pool_max_conns"},
		{"redis stream", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.StreamMaxLen = 0
		}, "stream_max_len"},
		{"kafka", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Topic = ""
		}, "kafka: topic"},
		{"kafka encoding", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Encoding = "avro"
		}, `unknown encoding "avro"`},
		{"archive mode", func(c *Config) { c.Mode = "archive" }, "archive mode requires s3.enabled"},
		{"archive memory", func(c *Config) {
			c.S3.Enabled = true
			c.Storage.Driver = "memory"
		}, "no projection"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "port must be 1-65535"},
		{"telegram", func(c *Config) { c.Notify.TelegramToken = "t" }, "must be set together"},
		{"notify events", func(c *Config) { c.Notify.Events = []string{"order_filled"} }, `unknown event "order_filled"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}

	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Server.Port = -1
	err := cfg.Validate()
	if err == nil || strings.Count(err.Error(), "\n  - ") != 2 {
		t.Fatalf("Validate() = %v, want two problems listed", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://app:hunter2@db:5432/parimutuel"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/webhook"

	out := RedactedConfig(&cfg)
	for name, v := range map[string]string{
		"redis":   out.Redis.Password,
		"s3":      out.S3.SecretKey,
		"api key": out.Server.APIKey,
		"discord": out.Notify.DiscordWebhookURL,
	} {
		if v != redacted {
			t.Errorf("%s = %q, want redacted", name, v)
		}
	}
	if strings.Contains(out.Postgres.DSN, "hunter2") || !strings.Contains(out.Postgres.DSN, "db:5432/parimutuel") {
		t.Errorf("dsn = %q, want password masked and host kept", out.Postgres.DSN)
	}
	if out.S3.AccessKey != "" {
		t.Errorf("empty access key became %q", out.S3.AccessKey)
	}

	out.Server.CORSOrigins[0] = "mutated"
	if cfg.Server.CORSOrigins[0] == "mutated" {
		t.Fatal("redacted copy shares CORS slice with original")
	}
	if cfg.Redis.Password != "redis-secret" {
		t.Fatal("original config was modified")
	}
}

func TestExampleFileMatchesDefaults(t *testing.T) {
	var cfg Config
	md, err := toml.DecodeFile(filepath.Join("..", "..", "config.example.toml"), &cfg)
	if err != nil {
		t.Fatalf("decode example: %v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		t.Fatalf("unknown keys in example: %v", undecoded)
	}
	if want := Defaults(); !reflect.DeepEqual(cfg, want) {
		t.Fatalf("example config drifted from Defaults()\n got: %+v\nwant: %+v", cfg, want)
	}
}
