package memorystore

import (
	"context"
	"sync"
	"time"
)

// KeyCache is an in-memory JWKS document cache with TTL, keyed by discovery
// URL. Suitable for single-process deployments and tests.
type KeyCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	data   map[string]item
	closed chan struct{}
}

type item struct {
	jwks []byte
	exp  time.Time
}

// NewKeyCache creates a new in-memory JWKS cache with the given TTL.
// If ttl <= 0, a default of 5 minutes is used.
// Starts a background goroutine to clean up expired entries every minute.
func NewKeyCache(ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &KeyCache{ttl: ttl, data: make(map[string]item), closed: make(chan struct{})}
	go c.cleanupLoop()
	return c
}

func (c *KeyCache) Get(ctx context.Context, discoveryURL string) ([]byte, bool, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.data[discoveryURL]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(it.exp) {
		delete(c.data, discoveryURL)
		return nil, false, nil
	}
	return it.jwks, true, nil
}

func (c *KeyCache) Put(ctx context.Context, discoveryURL string, jwks []byte) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[discoveryURL] = item{jwks: jwks, exp: time.Now().Add(c.ttl)}
	return nil
}

// cleanupLoop runs in the background and removes expired entries every minute.
func (c *KeyCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.closed:
			return
		}
	}
}

// cleanup removes all expired entries from the cache.
func (c *KeyCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, v := range c.data {
		if now.After(v.exp) {
			delete(c.data, k)
		}
	}
}

// Close stops the background cleanup goroutine.
// Should be called when the cache is no longer needed.
func (c *KeyCache) Close() error {
	close(c.closed)
	return nil
}
