package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/robert-at-pretension-io/vcd-waves/internal/config"
)

// Redis stores entries as plain string keys, shared by every process that
// points at the same server.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects lazily to the configured server.
func NewRedis(cfg config.RedisConfig) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.KeyPrefix,
	}
}

func (c *Redis) key(path string) string {
	return c.prefix + path
}

func (c *Redis) Get(ctx context.Context, path string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", path, err)
	}
	return data, true, nil
}

func (c *Redis) Set(ctx context.Context, path string, data []byte) error {
	if err := c.client.Set(ctx, c.key(path), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", path, err)
	}
	return nil
}

func (c *Redis) Close() error {
	return c.client.Close()
}
