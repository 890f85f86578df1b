package cache

import (
	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/hupe1980/imgcache/internal/hash"
)

// ImageCache is the in-memory tier: a byte-bounded map of decoded images.
// Implementations must be safe for concurrent use.
type ImageCache interface {
	// Get returns a cached image. ok=false if missing.
	Get(key hash.CacheKey) (img *decode.Image, ok bool)
	// Put caches an image. A second Put for a present key is a no-op that
	// only refreshes recency; it reports whether img was admitted.
	Put(key hash.CacheKey, img *decode.Image) bool
	// Remove drops an entry if present.
	Remove(key hash.CacheKey) bool
	// Clear drops every entry.
	Clear()
	// Len returns the number of entries.
	Len() int
	// Size returns the tracked decoded footprint in bytes.
	Size() int64
	// Capacity returns the configured capacity in bytes.
	Capacity() int64
	// Stats returns hit/miss/eviction counters.
	Stats() Stats
}

// Stats holds cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

var (
	_ ImageCache = (*MemoryCache)(nil)
	_ ImageCache = (*ShardedMemoryCache)(nil)
)

// EvictFunc is called after an entry left a cache because of capacity pressure.
// It is invoked with the cache lock held and must not call back into the cache.
type EvictFunc func(key hash.CacheKey, sizeBytes int64)
