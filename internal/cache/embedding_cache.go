// Package cache keeps recently computed upload embeddings so that the same
// image uploaded again skips decoding and the model call.
package cache

import (
	"container/list"
	"crypto/sha256"
	"slices"
	"sync"
	"time"

	"github.com/brittybidari/FashionRecSys/internal/core"
	"github.com/brittybidari/FashionRecSys/internal/metrics"
)

// Key identifies an upload by the SHA-256 of its bytes.
type Key [sha256.Size]byte

// KeyOf hashes an encoded image.
func KeyOf(data []byte) Key { return sha256.Sum256(data) }

type entry struct {
	key       Key
	value     core.Embedding
	expiresAt time.Time
}

// EmbeddingCache is a size-bounded LRU of embeddings with a per-entry TTL.
// Values are copied in and out.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[Key]*list.Element
	lru      *list.List
	now      func() time.Time
}

// NewEmbeddingCache returns a cache holding at most capacity entries. A zero
// ttl keeps entries until they are evicted for space.
func NewEmbeddingCache(capacity int, ttl time.Duration) *EmbeddingCache {
	if capacity < 1 {
		capacity = 1
	}
	metrics.EmbeddingCacheEntries.Set(0)
	return &EmbeddingCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[Key]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
}

// Get returns the cached embedding for key and marks it recently used.
func (c *EmbeddingCache) Get(key Key) (core.Embedding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		metrics.EmbeddingCacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	e := elem.Value.(*entry)
	if c.expired(e) {
		c.remove(elem)
		metrics.EmbeddingCacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	c.lru.MoveToFront(elem)
	metrics.EmbeddingCacheRequestsTotal.WithLabelValues("hit").Inc()
	return slices.Clone(e.value), true
}

// Put stores v under key, evicting the least recently used entry when full.
func (c *EmbeddingCache) Put(key Key, v core.Embedding) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = slices.Clone(v)
		e.expiresAt = c.expiry()
		c.lru.MoveToFront(elem)
		return
	}
	c.items[key] = c.lru.PushFront(&entry{key: key, value: slices.Clone(v), expiresAt: c.expiry()})
	for c.lru.Len() > c.capacity {
		c.remove(c.lru.Back())
	}
	metrics.EmbeddingCacheEntries.Set(float64(c.lru.Len()))
}

// Len returns the number of entries, expired ones included.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops every entry.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Init()
	c.items = make(map[Key]*list.Element)
	metrics.EmbeddingCacheEntries.Set(0)
}

func (c *EmbeddingCache) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *EmbeddingCache) expired(e *entry) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

func (c *EmbeddingCache) remove(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
	metrics.EmbeddingCacheEvictionsTotal.Inc()
	metrics.EmbeddingCacheEntries.Set(float64(c.lru.Len()))
}
