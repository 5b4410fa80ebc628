package drawer

import (
	"context"
	"sync"
)

// Cache is a read-through cache. Invalidate drops entries; a load that
// started before an Invalidate of its key never repopulates it.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]V
	version map[string]uint64
	epoch   uint64
}

func NewCache[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]V), version: make(map[string]uint64)}
}

// Get returns the cached value for key, calling load on a miss.
func (c *Cache[V]) Get(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	ver, epoch := c.version[key], c.epoch
	c.mu.Unlock()

	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	if c.version[key] == ver && c.epoch == epoch {
		c.entries[key] = v
	}
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops the given keys.
func (c *Cache[V]) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.version[k]++
	}
}

// InvalidateAll drops every entry.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]V)
	c.epoch++
}
