package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu       sync.RWMutex
	entries  map[string]memEntry
	staleFor time.Duration
	nowFunc  func() time.Time
}

// NewMemory returns an empty MemoryCache. staleFor <= 0 uses
// DefaultStaleFor.
func NewMemory(staleFor time.Duration) *MemoryCache {
	if staleFor <= 0 {
		staleFor = DefaultStaleFor
	}
	return &MemoryCache{
		entries:  make(map[string]memEntry),
		staleFor: staleFor,
		nowFunc:  time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.nowFunc().Before(e.expiresAt) {
		observe("memory", false, false)
		return nil, false, nil
	}
	observe("memory", true, false)
	return clone(e.value), true, nil
}

func (c *MemoryCache) GetStale(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.nowFunc().Before(e.expiresAt.Add(c.staleFor)) {
		observe("memory", false, true)
		return nil, false, nil
	}
	observe("memory", true, true)
	return clone(e.value), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memEntry{value: clone(value), expiresAt: c.nowFunc().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memEntry)
	return nil
}

func (c *MemoryCache) Purge(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt.Add(c.staleFor)) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

func (c *MemoryCache) Close() error { return nil }

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
