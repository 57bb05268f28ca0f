package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores JSON documents under prefix+scope with a TTL.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache returns a cache using client. A zero ttl keeps entries for seven days.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "session:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(scope Scope) string {
	return c.prefix + string(scope)
}

func (c *RedisCache) Get(ctx context.Context, scope Scope) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key(scope)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: cache get %s: %w", scope, err)
	}
	return data, nil
}

func (c *RedisCache) Set(ctx context.Context, scope Scope, data []byte) error {
	if err := c.client.Set(ctx, c.key(scope), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("state: cache set %s: %w", scope, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, scope Scope) error {
	if err := c.client.Del(ctx, c.key(scope)).Err(); err != nil {
		return fmt.Errorf("state: cache delete %s: %w", scope, err)
	}
	return nil
}

// MemoryCache is a process-local Cache used when Redis is not configured.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[Scope][]byte
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[Scope][]byte)}
}

func (c *MemoryCache) Get(_ context.Context, scope Scope) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[scope]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (c *MemoryCache) Set(_ context.Context, scope Scope, data []byte) error {
	c.mu.Lock()
	c.data[scope] = append([]byte(nil), data...)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, scope Scope) error {
	c.mu.Lock()
	delete(c.data, scope)
	c.mu.Unlock()
	return nil
}
