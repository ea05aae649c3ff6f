// Package redis backs relay delivery idempotency and admin API rate limiting.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config selects a Redis server. URL, when set, wins over Addr, Password and DB.
type Config struct {
	URL      string
	Addr     string
	Password string
	DB       int

	PoolSize int
	// KeyPrefix namespaces every key this service writes, e.g. "remindd".
	KeyPrefix string
}

func (cfg Config) options() (*redis.Options, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}

	opts.PoolSize = cfg.PoolSize
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	opts.MinIdleConns = 1
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	return opts, nil
}

// Client is the shared connection used by the delivery guard and rate limiter.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// New connects and pings. A failed ping closes the pool and returns an error.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	logger.Info("connected to redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.String("key_prefix", cfg.KeyPrefix),
	)

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix, logger: logger}, nil
}

// key joins parts under the client's prefix.
func (c *Client) key(parts ...string) string {
	k := strings.Join(parts, ":")
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping is the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// TotalConns reports open pool connections.
func (c *Client) TotalConns() int {
	return int(c.rdb.PoolStats().TotalConns)
}
