package imgcache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see the
// metrics/prometheus package for a ready-made implementation.
type MetricsCollector interface {
	// RecordRequest is called once per request when it completes.
	// source is "memory", "disk" or "network" ("" if it failed before any
	// tier was reached).
	RecordRequest(source string, duration time.Duration, err error)

	// RecordFetch is called after each network fetch with the bytes copied.
	RecordFetch(bytes int64, duration time.Duration, err error)

	// RecordDecode is called after each decode.
	RecordDecode(sampleSize int, duration time.Duration, err error)

	// RecordEviction is called when a tier ("memory" or "disk") evicts an
	// entry for capacity.
	RecordEviction(tier string)

	// RecordCoalesced is called when a request joins an in-flight load.
	RecordCoalesced()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRequest(string, time.Duration, error) {}
func (NoopMetricsCollector) RecordFetch(int64, time.Duration, error)    {}
func (NoopMetricsCollector) RecordDecode(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordEviction(string)                      {}
func (NoopMetricsCollector) RecordCoalesced()                           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	RequestCount    atomic.Int64
	RequestErrors   atomic.Int64
	RequestNanos    atomic.Int64
	MemoryHits      atomic.Int64
	DiskHits        atomic.Int64
	NetworkLoads    atomic.Int64
	FetchCount      atomic.Int64
	FetchErrors     atomic.Int64
	FetchBytes      atomic.Int64
	DecodeCount     atomic.Int64
	DecodeErrors    atomic.Int64
	DecodeNanos     atomic.Int64
	MemoryEvictions atomic.Int64
	DiskEvictions   atomic.Int64
	CoalescedCount  atomic.Int64
}

// RecordRequest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRequest(source string, duration time.Duration, err error) {
	b.RequestCount.Add(1)
	b.RequestNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RequestErrors.Add(1)
		return
	}
	switch source {
	case "memory":
		b.MemoryHits.Add(1)
	case "disk":
		b.DiskHits.Add(1)
	case "network":
		b.NetworkLoads.Add(1)
	}
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(bytes int64, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchBytes.Add(bytes)
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordDecode implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDecode(sampleSize int, duration time.Duration, err error) {
	b.DecodeCount.Add(1)
	b.DecodeNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.DecodeErrors.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(tier string) {
	switch tier {
	case "memory":
		b.MemoryEvictions.Add(1)
	case "disk":
		b.DiskEvictions.Add(1)
	}
}

// RecordCoalesced implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCoalesced() {
	b.CoalescedCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RequestCount:    b.RequestCount.Load(),
		RequestErrors:   b.RequestErrors.Load(),
		RequestAvgNanos: avg(b.RequestNanos.Load(), b.RequestCount.Load()),
		MemoryHits:      b.MemoryHits.Load(),
		DiskHits:        b.DiskHits.Load(),
		NetworkLoads:    b.NetworkLoads.Load(),
		FetchCount:      b.FetchCount.Load(),
		FetchErrors:     b.FetchErrors.Load(),
		FetchBytes:      b.FetchBytes.Load(),
		DecodeCount:     b.DecodeCount.Load(),
		DecodeErrors:    b.DecodeErrors.Load(),
		DecodeAvgNanos:  avg(b.DecodeNanos.Load(), b.DecodeCount.Load()),
		MemoryEvictions: b.MemoryEvictions.Load(),
		DiskEvictions:   b.DiskEvictions.Load(),
		Coalesced:       b.CoalescedCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RequestCount    int64
	RequestErrors   int64
	RequestAvgNanos int64
	MemoryHits      int64
	DiskHits        int64
	NetworkLoads    int64
	FetchCount      int64
	FetchErrors     int64
	FetchBytes      int64
	DecodeCount     int64
	DecodeErrors    int64
	DecodeAvgNanos  int64
	MemoryEvictions int64
	DiskEvictions   int64
	Coalesced       int64
}

// HitRatio returns the fraction of successful requests served without a
// network fetch.
func (s BasicMetricsStats) HitRatio() float64 {
	served := s.MemoryHits + s.DiskHits + s.NetworkLoads
	if served == 0 {
		return 0
	}
	return float64(s.MemoryHits+s.DiskHits) / float64(served)
}
