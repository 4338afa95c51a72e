package schema

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// Cache stores serialized metadata blobs by key. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

// Purger is implemented by caches that can drop every entry at once.
type Purger interface {
	Purge()
}

// ColumnsKey is the cache key of a table's column rows. The primary key
// is derived from the same rows.
func ColumnsKey(table string) string { return "tables/columns/" + table }

// IndexesKey is the cache key of a table's index list.
func IndexesKey(table string) string { return "tables/indexes/" + table }

// Invalidate deletes the cached metadata of every named table.
func Invalidate(c Cache, tables ...string) {
	for _, t := range tables {
		c.Delete(ColumnsKey(t))
		c.Delete(IndexesKey(t))
	}
}

// PurgeAll empties c if it supports purging.
func PurgeAll(c Cache) {
	if p, ok := c.(Purger); ok {
		p.Purge()
	}
}

// MemoryCache is an in-process LRU cache. Zero maxEntries means no limit.
type MemoryCache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{lru: lru.New(maxEntries)}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (c *MemoryCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

func (c *MemoryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Clear()
}

// Len reports the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// NopCache caches nothing; every read goes to the database.
type NopCache struct{}

func (NopCache) Get(string) ([]byte, bool) { return nil, false }
func (NopCache) Set(string, []byte)        {}
func (NopCache) Delete(string)             {}
