// Package statuscache caches run status for polling agents and workers.
// The cache is never authoritative: every state change is decided by the
// database and the cache is refreshed or invalidated afterwards.
package statuscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/env"
)

type Cache interface {
	Get(ctx context.Context, runID string) (domain.RunStatus, bool, error)
	Set(ctx context.Context, runID string, status domain.RunStatus) error
	Ping(ctx context.Context) error
}

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func ConfigFromEnv() (Config, error) {
	db, err := env.Int("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	ttl, err := env.Duration("STATUS_CACHE_TTL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Addr:     env.String("REDIS_ADDR", ""),
		Password: env.String("REDIS_PASSWORD", ""),
		DB:       db,
		TTL:      ttl,
	}
	if cfg.DB < 0 {
		return Config{}, errors.New("REDIS_DB must be >= 0")
	}
	if cfg.TTL <= 0 {
		return Config{}, errors.New("STATUS_CACHE_TTL must be positive")
	}
	return cfg, nil
}

func Key(runID string) string {
	return "sf:run:" + runID + ":status"
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		return nil
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, runID string) (domain.RunStatus, bool, error) {
	v, err := c.client.Get(ctx, Key(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	status := domain.RunStatus(v)
	if !status.Valid() {
		return "", false, nil
	}
	return status, true, nil
}

func (c *RedisCache) Set(ctx context.Context, runID string, status domain.RunStatus) error {
	if err := c.client.Set(ctx, Key(runID), string(status), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Noop is used when no Redis address is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (domain.RunStatus, bool, error) { return "", false, nil }
func (Noop) Set(context.Context, string, domain.RunStatus) error         { return nil }
func (Noop) Ping(context.Context) error                                  { return nil }

// Open connects to Redis, or returns Noop when cfg.Addr is empty.
func Open(ctx context.Context, cfg Config) (Cache, func() error, error) {
	if cfg.Addr == "" {
		return Noop{}, func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisCache(client, cfg.TTL), client.Close, nil
}
