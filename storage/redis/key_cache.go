package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyCache stores fetched JWKS documents in Redis, keyed by discovery URL,
// so that multiple instances share one upstream fetch per refresh window.
type KeyCache struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
}

// NewKeyCache creates a new Redis-backed JWKS cache.
func NewKeyCache(rdb *redis.Client, keyPrefix string, ttl time.Duration) *KeyCache {
	if keyPrefix == "" {
		keyPrefix = "auth:oidc:jwks:"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KeyCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (c *KeyCache) key(discoveryURL string) string { return c.keyNS + discoveryURL }

// Get retrieves a cached JWKS document.
func (c *KeyCache) Get(ctx context.Context, discoveryURL string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(discoveryURL)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Put stores a JWKS document with the configured refresh window.
func (c *KeyCache) Put(ctx context.Context, discoveryURL string, jwks []byte) error {
	return c.rdb.Set(ctx, c.key(discoveryURL), jwks, c.ttl).Err()
}
