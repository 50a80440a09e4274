// Package rediscache layers a Redis read-through cache over another
// MentatSync storage. Only immutable reads are cached: a transaction's
// identity, parent, seq and chunk list never change after insert, and a
// chunk payload never changes after upload. Mutable views (the head, the
// committed range) always pass through.
//
// Reset invalidates by bumping a per-user generation counter that is
// embedded in every cache key, so no key scans are needed.
package rediscache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options are the Redis connection settings plus the entry TTL.
type Options struct {
	// Redis server(cluster) address.
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// TTL of cached entries; 0 caches without expiry.
	TTL time.Duration
}

// DefaultOptions returns settings for a local unauthenticated Redis.
func DefaultOptions() Options {
	return Options{
		Address: "localhost:6379",
		TTL:     24 * time.Hour,
	}
}

// Cache is the slice of Redis the storage wrapper needs. It is an
// interface so tests can swap in a mock.
type Cache interface {
	// Get returns (found, value, error). A miss is not an error.
	Get(ctx context.Context, key string) (bool, string, error)
	// Set stores value under key with the given expiration.
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Incr atomically increments the counter at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
}

type redisCache struct {
	client *redis.Client
}

// NewCache connects a go-redis client with the given options.
func NewCache(options Options) Cache {
	return &redisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     options.Address,
			Password: options.Password,
			DB:       options.DB,
		}),
	}
}

func (c *redisCache) Get(ctx context.Context, key string) (bool, string, error) {
	v, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, v, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *redisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}
