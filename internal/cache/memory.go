package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

const janitorInterval = time.Minute

type memoryItem struct {
	data     []byte
	deadline time.Time
}

func (it memoryItem) live(now time.Time) bool { return !now.After(it.deadline) }

// MemoryCache keeps listings in process. Expired items are invisible to
// readers immediately and reclaimed by a background janitor.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates a memory cache and starts its janitor.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go c.janitor(janitorInterval)
	return c
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || !it.live(c.now()) {
		return nil, ErrCacheMiss
	}
	return clone(it.data), nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	it := memoryItem{data: clone(value), deadline: c.now().Add(ttl)}
	c.mu.Lock()
	c.items[key] = it
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// DeletePrefix drops every key that starts with prefix, expired or not.
func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		delete(c.items, key)
		removed++
	}
	return removed, nil
}

func (c *MemoryCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error) {
	return getOrSet(ctx, c, key, ttl, fn)
}

// Len counts unexpired items.
func (c *MemoryCache) Len() int {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	live := 0
	for _, it := range c.items {
		if it.live(now) {
			live++
		}
	}
	return live
}

// Close stops the janitor. Calling it again is a no-op.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.done) })
	return nil
}

func (c *MemoryCache) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *MemoryCache) removeExpired() {
	now := c.now()
	c.mu.Lock()
	for key, it := range c.items {
		if !it.live(now) {
			delete(c.items, key)
		}
	}
	c.mu.Unlock()
}

var _ Cache = (*MemoryCache)(nil)
