// internal/services/webhook_cache.go
package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// FingerprintCache remembers webhook deliveries the ledger has already committed so provider
// replays can be acknowledged without touching the database. A fingerprint is only written
// after the ledger commits; a lost write just means the replay is resolved by the ledger.
type FingerprintCache interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
	Remember(ctx context.Context, fingerprint string) error
}

type RedisFingerprintCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisFingerprintCache(client redis.Cmdable, ttl time.Duration) *RedisFingerprintCache {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisFingerprintCache{
		client: client,
		prefix: "webhook:",
		ttl:    ttl,
	}
}

func (c *RedisFingerprintCache) Seen(ctx context.Context, fingerprint string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+fingerprint).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisFingerprintCache) Remember(ctx context.Context, fingerprint string) error {
	return c.client.Set(ctx, c.prefix+fingerprint, time.Now().UTC().Unix(), c.ttl).Err()
}
