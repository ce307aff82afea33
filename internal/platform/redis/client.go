// Package redis connects the shared due-soon snapshot store.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"assetdesk/internal/platform/config"
)

// Client is a connected go-redis client.
type Client struct {
	*redis.Client
}

// Options parses cfg.URL and overlays the pool and timeout settings that are
// set. Zero values keep the go-redis defaults or whatever the URL carried.
func Options(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	overlay(&opts.PoolSize, cfg.PoolSize)
	overlay(&opts.MinIdleConns, cfg.MinIdleConns)
	overlay(&opts.DialTimeout, cfg.DialTimeout)
	overlay(&opts.ReadTimeout, cfg.ReadTimeout)
	overlay(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func overlay[T int | ~int64](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// New connects and pings. It returns nil, nil when no URL is configured, and
// callers fall back to the in-process snapshot store.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &Client{Client: client}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
