package diff

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrz1836/switchyard/internal/clock"
)

// Cache stores compare results for reuse within a TTL. Implementations
// are best-effort: failures behave like misses.
type Cache interface {
	Get(ctx context.Context, key string) (*CompareResult, bool)
	Set(ctx context.Context, key string, result *CompareResult, ttl time.Duration)
}

// memoryEntry pairs a cached result with its expiry.
type memoryEntry struct {
	result    *CompareResult
	expiresAt time.Time
}

// MemoryCache is the default in-process compare cache.
type MemoryCache struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryEntry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache(clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryCache{
		clock:   clk,
		entries: make(map[string]memoryEntry),
	}
}

// Get returns a live cached result.
func (c *MemoryCache) Get(_ context.Context, key string) (*CompareResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

// Set stores a result until ttl elapses.
func (c *MemoryCache) Set(_ context.Context, key string, result *CompareResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{
		result:    result,
		expiresAt: c.clock.Now().Add(ttl),
	}
}

// RedisCache shares compare results across processes via Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a cache on an existing Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns a cached result; Redis or decode failures are misses.
func (c *RedisCache) Get(ctx context.Context, key string) (*CompareResult, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var result CompareResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false
	}
	return &result, true
}

// Set stores a result until ttl elapses. Failures are ignored; the
// cache is best-effort.
func (c *RedisCache) Set(ctx context.Context, key string, result *CompareResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, payload, ttl).Err()
}

// Compile-time checks.
var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
