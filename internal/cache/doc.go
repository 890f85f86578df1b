// Package cache provides the two cache tiers of the image loader.
//
// # Memory Cache (L1)
//
// MemoryCache stores decoded images in an LRU bounded by decoded pixel
// footprint (width × height × 4), not entry count. The first Put for a key
// wins; later Puts only refresh recency. ShardedMemoryCache spreads keys
// over 16 independently locked shards for high-concurrency workloads.
//
// Key features:
//   - Linearizable Get/Put under a per-cache (or per-shard) mutex
//   - Optional integration with the resource Controller for memory limits
//   - Eviction callbacks for metrics
//
// # Disk Store (L2)
//
// DiskStore keeps encoded blobs on disk in an LRU bounded by on-disk bytes:
//   - Writes stream into tmp/ and are published with a rename (all-or-nothing)
//   - Optional zstd or lz4 compression, tagged per blob
//   - Index persisted in a CRC-framed journal and replayed on startup
//   - Rebuilds the index from blob files when the journal is corrupt
//
// Layout:
//
//	<dir>/<key>.blob
//	<dir>/journal
//	<dir>/tmp/
package cache
