package idem

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "idem:"
	pendingMarker  = "\x00pending"
	pendingTimeout = 10 * time.Second
	pollInterval   = 50 * time.Millisecond
)

// RedisCache is the shared-store implementation, used when several gateway
// instances must agree on idempotency. In-flight keys hold a short-lived
// marker claimed with SETNX; followers poll until the owner writes the
// result.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("idem: redis ping: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Do implements Cache.
func (c *RedisCache) Do(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, bool, error) {
	rkey := keyPrefix + key

	val, err := c.client.Get(ctx, rkey).Bytes()
	switch {
	case err == nil && string(val) != pendingMarker:
		return val, true, nil
	case err != nil && err != redis.Nil:
		return nil, false, fmt.Errorf("idem: redis get: %w", err)
	}

	claimed, err := c.client.SetNX(ctx, rkey, pendingMarker, pendingTimeout).Result()
	if err != nil {
		return nil, false, fmt.Errorf("idem: redis setnx: %w", err)
	}
	if !claimed {
		return c.await(ctx, rkey)
	}

	payload, err := fn()
	if err != nil {
		// Release the claim so the next attempt can retry.
		c.client.Del(ctx, rkey)
		return nil, false, err
	}
	if err := c.client.Set(ctx, rkey, payload, c.ttl).Err(); err != nil {
		return payload, false, fmt.Errorf("idem: redis set: %w", err)
	}
	return payload, false, nil
}

// await polls for the owner's result until it lands, the claim vanishes, or
// the context ends.
func (c *RedisCache) await(ctx context.Context, rkey string) ([]byte, bool, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-ticker.C:
		}
		val, err := c.client.Get(ctx, rkey).Bytes()
		if err == redis.Nil {
			// Owner failed and released; the caller should retry.
			return nil, false, fmt.Errorf("idem: in-flight request for key failed")
		}
		if err != nil {
			return nil, false, fmt.Errorf("idem: redis get: %w", err)
		}
		if string(val) != pendingMarker {
			return val, true, nil
		}
	}
}

// Close implements Cache.
func (c *RedisCache) Close() error { return c.client.Close() }
