// Package idempotency implements a short-TTL Redis-backed request
// idempotency cache that complements the Session Registry (§4.2): it lets
// a retried Execute call carrying the same idempotency key observe the
// execution id the original call already admitted, instead of racing a
// second session into existence for the same workflow.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "engine:idempotency:"

// Cache wraps a Redis client scoped to Execute request idempotency keys.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Cache. ttl bounds how long a reservation survives; it should
// comfortably outlast the window a client might retry the same request in.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Reserve atomically claims idempotencyKey for executionID. If the key is
// unclaimed, this call wins the reservation and reserved is true. If
// another call already claimed it, Reserve returns the execution id that
// call is bound to with reserved=false — the caller should return that
// execution's response instead of admitting a new session.
func (c *Cache) Reserve(ctx context.Context, idempotencyKey, executionID string) (boundExecutionID string, reserved bool, err error) {
	key := keyPrefix + idempotencyKey
	ok, err := c.client.SetNX(ctx, key, executionID, c.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("idempotency: reserve %q: %w", idempotencyKey, err)
	}
	if ok {
		return executionID, true, nil
	}

	existing, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The reservation expired between the failed SetNX and this
			// Get; nothing is bound to the key anymore, so this call wins.
			return executionID, true, nil
		}
		return "", false, fmt.Errorf("idempotency: read existing reservation for %q: %w", idempotencyKey, err)
	}
	return existing, false, nil
}

// Release discards a reservation, letting a later call with the same key
// through again — used when admission fails after the reservation was
// made, so the key does not block every retry until TTL expiry.
func (c *Cache) Release(ctx context.Context, idempotencyKey string) error {
	if err := c.client.Del(ctx, keyPrefix+idempotencyKey).Err(); err != nil {
		return fmt.Errorf("idempotency: release %q: %w", idempotencyKey, err)
	}
	return nil
}
