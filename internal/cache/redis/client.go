// Package redis mirrors engine state into Redis: latest prices, orderbook
// snapshots, the single-instance trader lock and the event bus.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Namespace is prepended to every key written by this package so several
	// engines can share one Redis database. Defaults to "copybot".
	Namespace string
}

// Client wraps a go-redis Client together with the key namespace.
type Client struct {
	rdb *redis.Client
	ns  string
}

// New creates a Client and pings the server. It returns an error if the
// connection cannot be established.
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
	return wrap(rdb, cfg.Namespace), nil
}

// wrap builds a Client around an existing driver handle.
func wrap(rdb *redis.Client, namespace string) *Client {
	if namespace == "" {
		namespace = "copybot"
	}
	return &Client{rdb: rdb, ns: strings.TrimSuffix(namespace, ":")}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key joins parts under the client namespace, e.g. Key("price", id) gives
// "copybot:price:<id>".
func (c *Client) Key(parts ...string) string {
	return c.ns + ":" + strings.Join(parts, ":")
}
