package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is an optional redis-backed response cache for the read endpoints.
// The aggregation core never caches; this sits entirely in the API layer.
// A nil *Cache or a Cache without a client is a no-op.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	// Cache failures only cost a recompute; they are not surfaced.
	_ = c.client.Set(ctx, key, value, ttl).Err()
}
