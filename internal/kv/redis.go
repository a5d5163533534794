// Package kv constructs the shared key-value store client. Redis is
// both the general cache and the degraded-mode substitute for the
// remote memory service, so every component receives this one client.
package kv

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/config"
)

// Open creates a Redis client with a fixed-size pool and verifies
// connectivity before returning it.
func Open(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.CommandTimeout,
		WriteTimeout: cfg.CommandTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.Info().
		Str("addr", cfg.Addr).
		Int("pool_size", cfg.PoolSize).
		Msg("redis client connected")

	return client, nil
}
