package resource

import (
	"context"
	"errors"
)

// ErrMemoryLimitExceeded is returned when a reservation would push decoded
// image memory past the configured limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits. A zero field disables that limit.
type Config struct {
	// MemoryLimitBytes caps decoded image memory held by the memory tier.
	// Usage is still tracked when it is zero.
	MemoryLimitBytes int64

	// MaxConcurrentFetches caps origin fetches in flight across all workers.
	MaxConcurrentFetches int64

	// IOLimitBytesPerSec caps the rate at which response bodies are copied
	// into the disk cache.
	IOLimitBytesPerSec int64
}

// Controller hands out memory reservations, fetch slots and IO tokens.
// A nil *Controller grants everything.
type Controller struct {
	limit   int64
	memory  *memoryGate
	fetches *slotGate
	io      *byteThrottle
}

// NewController creates a Controller enforcing cfg.
func NewController(cfg Config) *Controller {
	return &Controller{
		limit:   cfg.MemoryLimitBytes,
		memory:  newMemoryGate(cfg.MemoryLimitBytes),
		fetches: newSlotGate(cfg.MaxConcurrentFetches),
		io:      newByteThrottle(cfg.IOLimitBytesPerSec),
	}
}

// AcquireMemory reserves bytes for a decoded image. It never blocks: when the
// limit would be exceeded it returns ErrMemoryLimitExceeded and the caller
// evicts or skips caching.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if !c.memory.reserve(bytes) {
		return ErrMemoryLimitExceeded
	}
	return nil
}

// TryAcquireMemory is AcquireMemory reporting success as a bool.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	return c.AcquireMemory(bytes) == nil
}

// ReleaseMemory returns a reservation made by AcquireMemory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	c.memory.release(bytes)
}

// MemoryUsage returns the bytes currently reserved.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memory.used.Load()
}

// MemoryLimit returns the configured memory limit, 0 if unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.limit
}

// AcquireFetch waits for a free fetch slot or for ctx to end.
func (c *Controller) AcquireFetch(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.fetches.acquire(ctx)
}

// ReleaseFetch frees a slot taken by AcquireFetch.
func (c *Controller) ReleaseFetch() {
	if c == nil {
		return
	}
	c.fetches.release()
}

// AcquireIO waits until n bytes may be written to the disk cache.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil {
		return nil
	}
	return c.io.wait(ctx, n)
}
