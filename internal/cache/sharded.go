package cache

import (
	"hash/maphash"

	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/hupe1980/imgcache/internal/hash"
	"github.com/hupe1980/imgcache/internal/resource"
)

const numShards = 16

// ShardedMemoryCache is a sharded LRU cache for high-concurrency workloads.
// It distributes entries across 16 shards to reduce lock contention.
// Each shard gets capacity/16, so the total never exceeds capacity,
// but an image larger than one shard is never admitted.
type ShardedMemoryCache struct {
	shards   [numShards]*MemoryCache
	seed     maphash.Seed
	capacity int64
}

// NewShardedMemoryCache creates a new sharded LRU cache.
// The capacity is divided evenly across all shards.
func NewShardedMemoryCache(capacity int64, rc *resource.Controller) *ShardedMemoryCache {
	shardCapacity := capacity / numShards

	s := &ShardedMemoryCache{
		seed:     maphash.MakeSeed(),
		capacity: shardCapacity * numShards,
	}
	for i := range numShards {
		s.shards[i] = NewMemoryCache(shardCapacity, rc)
	}
	return s
}

func (s *ShardedMemoryCache) shard(key hash.CacheKey) *MemoryCache {
	return s.shards[maphash.String(s.seed, string(key))%numShards]
}

// OnEvict registers fn on every shard.
func (s *ShardedMemoryCache) OnEvict(fn EvictFunc) {
	for i := range numShards {
		s.shards[i].OnEvict(fn)
	}
}

// Get returns a cached image.
func (s *ShardedMemoryCache) Get(key hash.CacheKey) (*decode.Image, bool) {
	return s.shard(key).Get(key)
}

// Put caches an image.
func (s *ShardedMemoryCache) Put(key hash.CacheKey, img *decode.Image) bool {
	return s.shard(key).Put(key, img)
}

// Remove drops key from the cache.
func (s *ShardedMemoryCache) Remove(key hash.CacheKey) bool {
	return s.shard(key).Remove(key)
}

// Clear drops every entry in every shard.
func (s *ShardedMemoryCache) Clear() {
	for i := range numShards {
		s.shards[i].Clear()
	}
}

// Len returns the total number of entries.
func (s *ShardedMemoryCache) Len() int {
	var n int
	for i := range numShards {
		n += s.shards[i].Len()
	}
	return n
}

// Size returns the total size across all shards.
func (s *ShardedMemoryCache) Size() int64 {
	var total int64
	for i := range numShards {
		total += s.shards[i].Size()
	}
	return total
}

// Capacity returns the summed shard capacity.
func (s *ShardedMemoryCache) Capacity() int64 { return s.capacity }

// Stats returns aggregated statistics.
func (s *ShardedMemoryCache) Stats() Stats {
	var st Stats
	for i := range numShards {
		ss := s.shards[i].Stats()
		st.Hits += ss.Hits
		st.Misses += ss.Misses
		st.Evictions += ss.Evictions
	}
	return st
}
