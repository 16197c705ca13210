// Package redis implements the bus, lock, rate-limit and token-vault
// collaborators on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// defaultStreamMaxLen caps the market event stream when the config leaves
// it unset.
const defaultStreamMaxLen int64 = 10000

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Namespace prefixes every key, channel and stream. Empty means none.
	Namespace string
	// StreamMaxLen is the approximate length streams are trimmed to.
	StreamMaxLen int64
}

// keyspace prefixes the keys one deployment writes so that several can
// share a database.
type keyspace string

func (k keyspace) key(parts ...string) string {
	s := strings.Join(parts, ":")
	if k == "" {
		return s
	}
	return string(k) + ":" + s
}

// Client wraps a go-redis Client together with the deployment's keyspace.
type Client struct {
	rdb          *redis.Client
	ks           keyspace
	streamMaxLen int64
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &Client{
		rdb:          rdb,
		ks:           keyspace(strings.TrimSuffix(cfg.Namespace, ":")),
		streamMaxLen: maxLen,
	}, nil
}

// Ping implements handler.Pinger.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
