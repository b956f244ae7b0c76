package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CacheProvider reads records kept in Redis, either as JSON objects or as
// plain strings returned under "value".
type CacheProvider struct {
	client *redis.Client
}

func NewCacheProvider(client *redis.Client) *CacheProvider {
	return &CacheProvider{
		client: client,
	}
}

func (p *CacheProvider) Fetch(ctx context.Context, source Source, key string) (map[string]interface{}, error) {
	if source.KeyPattern == "" {
		return nil, fmt.Errorf("key_pattern is required for cache provider")
	}

	val, err := p.client.Get(ctx, expand(source.KeyPattern, key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return map[string]interface{}{
			"value": val,
		}, nil
	}

	return result, nil
}
