package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/hupe1980/imgcache/internal/hash"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("engine: coordinator closed")
	// ErrBlobTooLarge is returned when a body exceeds the in-memory limit
	// while the disk tier is disabled.
	ErrBlobTooLarge = errors.New("engine: blob exceeds size limit")
	// ErrPanic wraps a panic recovered while loading.
	ErrPanic = errors.New("engine: panic during load")
)

// Source identifies the tier that satisfied a request.
type Source string

const (
	SourceMemory  Source = "memory"
	SourceDisk    Source = "disk"
	SourceNetwork Source = "network"
)

// Consumer receives the outcome of a request. Exactly one of the two
// methods is called, exactly once.
type Consumer interface {
	OnImageReady(Result)
	OnImageFailed(Result)
}

// Request is a single load.
type Request struct {
	URI    string
	Key    hash.CacheKey
	Width  int
	Height int
	// Token is relayed to the consumer unchanged. Callers use it to detect
	// that a target has been reassigned since the request was made.
	Token    any
	Consumer Consumer
}

// Result is the outcome of a Request.
type Result struct {
	URI   string
	Key   hash.CacheKey
	Token any
	Image *decode.Image
	Err   error
	// Source is the tier that produced Image, or the tier that failed.
	Source Source
	// Coalesced is set when the request joined another in-flight load.
	Coalesced bool
	Duration  time.Duration
}

// OK reports whether the request succeeded.
func (r Result) OK() bool { return r.Err == nil && r.Image != nil }

// IOError is a disk-side failure that failed a request.
type IOError struct {
	Op  string
	Key hash.CacheKey
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("disk %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Metrics receives engine events. A nil Metrics in Config disables them.
type Metrics interface {
	RecordRequest(source string, duration time.Duration, err error)
	RecordFetch(bytes int64, duration time.Duration, err error)
	RecordDecode(sampleSize int, duration time.Duration, err error)
	RecordCoalesced()
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(string, time.Duration, error) {}
func (noopMetrics) RecordFetch(int64, time.Duration, error)    {}
func (noopMetrics) RecordDecode(int, time.Duration, error)     {}
func (noopMetrics) RecordCoalesced()                           {}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	Requests   int64
	MemoryHits int64
	DiskHits   int64
	Fetches    int64
	Coalesced  int64
	Failures   int64
	InFlight   int64
	Queued     int
	Workers    int
}
