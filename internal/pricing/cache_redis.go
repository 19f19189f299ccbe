package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agencyhub/internal/membership/models"
)

const (
	cacheKey = "agencyhub:pricing:active_tiers"

	// DefaultCacheTTL bounds how stale a cached tier list may be.
	DefaultCacheTTL = 5 * time.Minute
)

// RedisCache stores the active tier list as a JSON value.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) ([]models.PricingTier, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get pricing tiers: %w", err)
	}
	var tiers []models.PricingTier
	if err := json.Unmarshal(raw, &tiers); err != nil {
		return nil, false, fmt.Errorf("decode cached pricing tiers: %w", err)
	}
	return tiers, true, nil
}

func (c *RedisCache) Set(ctx context.Context, tiers []models.PricingTier) error {
	raw, err := json.Marshal(tiers)
	if err != nil {
		return fmt.Errorf("encode pricing tiers: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set pricing tiers: %w", err)
	}
	return nil
}

// Invalidate drops the cached list so the next read reloads from the source.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, cacheKey).Err()
}
