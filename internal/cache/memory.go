package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/hupe1980/imgcache/internal/hash"
	"github.com/hupe1980/imgcache/internal/resource"
)

// MemoryCache implements a byte-bounded LRU ImageCache.
type MemoryCache struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[hash.CacheKey]*list.Element
	evictList *list.List
	rc        *resource.Controller
	onEvict   EvictFunc

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type entry struct {
	key  hash.CacheKey
	img  *decode.Image
	size int64
}

// NewMemoryCache creates a new LRU cache with the given capacity in bytes.
// If rc is provided, it will be used to track memory usage.
func NewMemoryCache(capacity int64, rc *resource.Controller) *MemoryCache {
	return &MemoryCache{
		capacity:  capacity,
		items:     make(map[hash.CacheKey]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// OnEvict registers fn to be called for capacity evictions.
func (c *MemoryCache) OnEvict(fn EvictFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns a cached image.
func (c *MemoryCache) Get(key hash.CacheKey) (*decode.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).img, true
	}
	c.misses.Add(1)
	return nil, false
}

// Put caches an image. The first writer wins.
func (c *MemoryCache) Put(key hash.CacheKey, img *decode.Image) bool {
	if img == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		return false
	}

	itemSize := img.SizeBytes()

	// An image larger than the whole cache is never admitted.
	if itemSize > c.capacity {
		return false
	}

	// Evict locally first; this releases memory to the controller
	// before we try to acquire it back.
	for c.size+itemSize > c.capacity {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		c.evictElement(ent)
	}

	// If the shared controller says no, don't cache.
	if !c.rc.TryAcquireMemory(itemSize) {
		return false
	}

	element := c.evictList.PushFront(&entry{key: key, img: img, size: itemSize})
	c.items[key] = element
	c.size += itemSize
	return true
}

// Remove drops key from the cache.
func (c *MemoryCache) Remove(key hash.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(ent)
	return true
}

// Clear drops every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.evictList.Back(); e != nil; e = c.evictList.Back() {
		c.removeElement(e)
	}
}

// Len returns the number of cached images.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the current size of the cache in bytes.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the configured capacity in bytes.
func (c *MemoryCache) Capacity() int64 { return c.capacity }

// Stats returns the cache counters.
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (c *MemoryCache) evictElement(e *list.Element) {
	kv := c.removeElement(e)
	c.evictions.Add(1)
	if c.onEvict != nil {
		c.onEvict(kv.key, kv.size)
	}
}

func (c *MemoryCache) removeElement(e *list.Element) *entry {
	c.evictList.Remove(e)
	kv := e.Value.(*entry)
	delete(c.items, kv.key)
	c.size -= kv.size
	c.rc.ReleaseMemory(kv.size)
	return kv
}
