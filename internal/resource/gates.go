package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// memoryGate tracks reserved bytes against an optional hard limit.
type memoryGate struct {
	sem  *semaphore.Weighted // nil: track only
	used atomic.Int64
}

func newMemoryGate(limit int64) *memoryGate {
	g := &memoryGate{}
	if limit > 0 {
		g.sem = semaphore.NewWeighted(limit)
	}
	return g
}

func (g *memoryGate) reserve(n int64) bool {
	if g.sem != nil && !g.sem.TryAcquire(n) {
		return false
	}
	g.used.Add(n)
	return true
}

func (g *memoryGate) release(n int64) {
	if g.sem != nil {
		g.sem.Release(n)
	}
	g.used.Add(-n)
}

// slotGate bounds concurrent fetches. A gate without a semaphore admits all.
type slotGate struct {
	sem *semaphore.Weighted
}

func newSlotGate(slots int64) *slotGate {
	if slots <= 0 {
		return &slotGate{}
	}
	return &slotGate{sem: semaphore.NewWeighted(slots)}
}

func (g *slotGate) acquire(ctx context.Context) error {
	if g.sem == nil {
		return nil
	}
	return g.sem.Acquire(ctx, 1)
}

func (g *slotGate) release() {
	if g.sem != nil {
		g.sem.Release(1)
	}
}
