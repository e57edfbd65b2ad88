package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tidecraft/exchangeset/internal/catalogue"
)

// ErrMiss is returned when a product has no cached entry.
var ErrMiss = errors.New("cache miss")

// keyPrefix namespaces product entries in redis.
const keyPrefix = "product:"

// ProductCache caches catalogue product payloads keyed by product identity.
// Inbound publish-notification events invalidate entries, so a cached
// product is never older than its last publication.
type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a product cache on the given redis client.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *ProductCache {
	return &ProductCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached catalogue entry for a product name.
func (c *ProductCache) Get(ctx context.Context, name string) (catalogue.Product, error) {
	val, err := c.client.Get(ctx, keyPrefix+name).Bytes()
	if err == redis.Nil {
		return catalogue.Product{}, fmt.Errorf("%w: %s", ErrMiss, name)
	}
	if err != nil {
		return catalogue.Product{}, fmt.Errorf("cache get %s: %w", name, err)
	}

	var p catalogue.Product
	if err := json.Unmarshal(val, &p); err != nil {
		// A corrupt entry behaves like a miss; drop it.
		c.client.Del(ctx, keyPrefix+name)
		return catalogue.Product{}, fmt.Errorf("%w: %s", ErrMiss, name)
	}
	return p, nil
}

// Put stores a catalogue entry under the product's identity.
func (c *ProductCache) Put(ctx context.Context, p catalogue.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, keyPrefix+p.Name, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache put %s: %w", p.Name, err)
	}
	return nil
}

// Invalidate drops a product's entry. Called for every inbound
// publish-notification event.
func (c *ProductCache) Invalidate(ctx context.Context, name string) error {
	if err := c.client.Del(ctx, keyPrefix+name).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", name, err)
	}
	c.logger.InfoContext(ctx, "invalidated cached product", "product", name)
	return nil
}
