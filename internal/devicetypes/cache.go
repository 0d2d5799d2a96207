package devicetypes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/savegress/telecare/internal/config"
)

// TTL for cached device type lookups; the metadata changes rarely
const cacheTTL = 10 * time.Minute

// Cache provides Redis-based caching for device type lookups
type Cache struct {
	client    *redis.Client
	keyPrefix string
	enabled   bool
}

// NewCache creates a cache. When disabled in configuration all operations
// are no-ops.
func NewCache(cfg config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		return &Cache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "telecare"
	}

	return &Cache{
		client:    client,
		keyPrefix: prefix,
		enabled:   true,
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsEnabled returns whether caching is enabled
func (c *Cache) IsEnabled() bool {
	return c.enabled
}

func (c *Cache) key(parts ...string) string {
	key := c.keyPrefix + ":devicetype"
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

// Get retrieves a cached value
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.enabled {
		return redis.Nil
	}

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Set stores a value with the default TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, cacheTTL).Err()
}
