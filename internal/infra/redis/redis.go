// Package redis holds the Redis-backed coordination primitives: the client
// factory, the cross-process refresh cycle lock and the outgoing call throttle.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/adaptivelab/bitly-historics/config"
	"github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 30 * time.Second

// Enabled reports whether a Redis host has been configured. Redis is
// optional for the CLI; without it there is no cycle lock and no shared
// throttle.
func Enabled(cfg config.RedisConfig) bool {
	return cfg.Host != ""
}

// Addr returns host:port with local defaults.
func Addr(cfg config.RedisConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// NewClient builds a redis client and verifies connectivity via PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     Addr(cfg),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", Addr(cfg), err)
	}

	return rdb, nil
}
