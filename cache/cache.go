// Package cache holds small keyed registries shared between goroutines.
// The worker uses one to track jobs currently in flight so the ops
// endpoint can report them.
package cache

import (
	"sync"
)

type Cache[T any] struct {
	entries map[string]T
	mutex   sync.RWMutex
}

func New[T any]() *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]T),
	}
}

func (c *Cache[T]) Store(key string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[key] = value
}

func (c *Cache[T]) Get(key string) (T, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	value, ok := c.entries[key]
	return value, ok
}

func (c *Cache[T]) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

func (c *Cache[T]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

func (c *Cache[T]) Keys() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Values returns a point-in-time copy of the cached entries.
func (c *Cache[T]) Values() []T {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	values := make([]T, 0, len(c.entries))
	for _, v := range c.entries {
		values = append(values, v)
	}
	return values
}
