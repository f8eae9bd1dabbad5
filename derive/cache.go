package derive

import (
	"context"
	"sync"
	"time"

	"github.com/eringen/inlineimages/fetch"
)

type cacheKey struct {
	file string
	args Args
}

type cacheEntry struct {
	set     Set
	fetched time.Time
}

// Cache is an in-memory memo of derivative sets with a TTL. The same asset
// referenced by several records is generated once per TTL. Errors are not
// cached.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
	next    Generator
}

// NewCache wraps next with a memo of the given ttl.
func NewCache(next Generator, ttl time.Duration) *Cache {
	return &Cache{next: next, ttl: ttl, entries: make(map[cacheKey]cacheEntry)}
}

// Generate returns a cached set for (file, args) or asks the wrapped generator.
func (c *Cache) Generate(ctx context.Context, file *fetch.File, args Args) (*Set, error) {
	if file == nil {
		return c.next.Generate(ctx, file, args)
	}
	key := cacheKey{file: fileKey(file), args: args}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Since(e.fetched) < c.ttl {
		set := e.set
		return &set, nil
	}

	set, err := c.next.Generate(ctx, file, args)
	if err != nil || set == nil {
		return set, err
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{set: *set, fetched: time.Now()}
	c.mu.Unlock()
	out := *set
	return &out, nil
}

// Invalidate clears the cache so the next request regenerates.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of cached sets, including expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func fileKey(f *fetch.File) string {
	if f.Hash != "" {
		return f.Hash
	}
	return f.AbsolutePath
}
