package imgcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/hupe1980/imgcache/internal/cache"
	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/hupe1980/imgcache/internal/engine"
	"github.com/hupe1980/imgcache/internal/hash"
	"github.com/hupe1980/imgcache/internal/resource"
	"github.com/hupe1980/imgcache/origin"
)

// Image is a decoded, possibly downsampled, image.
type Image = decode.Image

// Result is the outcome of a request.
type Result = engine.Result

// Source identifies the tier that produced a Result.
type Source = engine.Source

const (
	SourceMemory  = engine.SourceMemory
	SourceDisk    = engine.SourceDisk
	SourceNetwork = engine.SourceNetwork
)

// Consumer receives the outcome of a request. Exactly one method is called,
// exactly once, on the completion goroutine (or on the calling goroutine for
// a memory hit). Consumers must not block for long: deliveries are serial.
type Consumer = engine.Consumer

// ConsumerFuncs adapts a pair of functions to Consumer. Nil funcs are
// ignored.
type ConsumerFuncs struct {
	Ready  func(Result)
	Failed func(Result)
}

// OnImageReady implements Consumer.
func (c ConsumerFuncs) OnImageReady(r Result) {
	if c.Ready != nil {
		c.Ready(r)
	}
}

// OnImageFailed implements Consumer.
func (c ConsumerFuncs) OnImageFailed(r Result) {
	if c.Failed != nil {
		c.Failed(r)
	}
}

// Key returns the cache key for uri: the lowercase hex MD5 of its bytes.
func Key(uri string) string {
	return string(hash.Key(uri))
}

// DefaultDiskDir returns <user cache dir>/imgcache/bitmap, or the same
// path under the temp directory when no user cache dir is available.
func DefaultDiskDir() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "imgcache", "bitmap")
}

// Stats is a snapshot of the loader.
type Stats struct {
	Memory      MemoryStats
	Disk        DiskStats
	DiskEnabled bool
	Engine      EngineStats
}

// MemoryStats describes the memory tier.
type MemoryStats struct {
	Entries   int
	SizeBytes int64
	Capacity  int64
	Hits      int64
	Misses    int64
	Evictions int64
	// ReservedBytes and LimitBytes report the WithMemoryLimit accounting;
	// both are zero when no limit was configured.
	ReservedBytes int64
	LimitBytes    int64
}

// DiskStats describes the disk tier.
type DiskStats = cache.DiskStats

// EngineStats describes request processing.
type EngineStats = engine.Stats

// Loader loads images through the memory, disk and network tiers.
// It is safe for concurrent use.
type Loader struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector

	memory    cache.ImageCache
	resources *resource.Controller
	disk      *cache.DiskStore
	diskErr   *InitializationError
	coord     *engine.Coordinator

	closed atomic.Bool
}

// New creates a Loader.
//
// If the disk cache cannot be opened, New still succeeds: the failure is
// logged, reported by DiskError, and every miss is fetched and decoded
// directly.
func New(optFns ...Option) (*Loader, error) {
	o := applyOptions(optFns)
	if err := validateOptions(&o); err != nil {
		return nil, err
	}

	l := &Loader{
		opts:    o,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}

	var rc *resource.Controller
	if o.memoryLimit > 0 || o.maxConcurrentFetches > 0 || o.ioLimit > 0 {
		rc = resource.NewController(resource.Config{
			MemoryLimitBytes:     o.memoryLimit,
			MaxConcurrentFetches: o.maxConcurrentFetches,
			IOLimitBytesPerSec:   o.ioLimit,
		})
		l.resources = rc
	}

	capacity := o.memoryCapacity
	if capacity == 0 {
		capacity = resource.Fraction(resource.MemoryBudget(), o.memoryFraction)
	}
	onMemoryEvict := func(key hash.CacheKey, size int64) {
		l.metrics.RecordEviction("memory")
		l.logger.LogEviction(context.Background(), "memory", string(key), size)
	}
	if o.sharded {
		m := cache.NewShardedMemoryCache(capacity, rc)
		m.OnEvict(onMemoryEvict)
		l.memory = m
	} else {
		m := cache.NewMemoryCache(capacity, rc)
		m.OnEvict(onMemoryEvict)
		l.memory = m
	}

	if !o.disableDisk {
		l.openDisk()
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = origin.DefaultMux()
	}

	cfg := engine.Config{
		Memory:       l.memory,
		Disk:         l.disk,
		Fetcher:      fetcher,
		Decoder:      &decode.Decoder{MaxPixels: o.maxDecodePixels},
		Resources:    rc,
		Workers:      o.workers,
		IOBufferSize: o.ioBufferSize,
		MaxBlobBytes: o.maxBlobBytes,
		FetchTimeout: o.fetchTimeout,
		Logger:       l.logger.Logger,
		Metrics:      l.metrics,
	}
	if o.tracerProvider != nil {
		cfg.Tracer = o.tracerProvider.Tracer("github.com/hupe1980/imgcache")
	}

	coord, err := engine.New(cfg)
	if err != nil {
		if l.disk != nil {
			_ = l.disk.Close()
		}
		return nil, err
	}
	l.coord = coord
	return l, nil
}

func validateOptions(o *options) error {
	switch {
	case o.memoryCapacity < 0:
		return fmt.Errorf("imgcache: invalid memory capacity %d", o.memoryCapacity)
	case o.memoryFraction <= 0:
		return fmt.Errorf("imgcache: invalid memory fraction 1/%d", o.memoryFraction)
	case o.diskCapacity <= 0 && !o.disableDisk:
		return fmt.Errorf("imgcache: invalid disk capacity %d", o.diskCapacity)
	case o.workers < 0:
		return fmt.Errorf("imgcache: invalid worker pool size %d", o.workers)
	case o.ioBufferSize <= 0:
		return fmt.Errorf("imgcache: invalid io buffer size %d", o.ioBufferSize)
	}
	if _, err := cache.ParseCodec(o.diskCodec); err != nil {
		return err
	}
	return nil
}

func (l *Loader) openDisk() {
	o := l.opts
	dir := o.diskDir
	if dir == "" {
		dir = DefaultDiskDir()
	}
	codec, _ := cache.ParseCodec(o.diskCodec)

	d, err := cache.OpenDiskStore(cache.DiskStoreConfig{
		Dir:             dir,
		CapacityBytes:   o.diskCapacity,
		Codec:           codec,
		SyncEveryCommit: o.diskSync,
		Logger:          l.logger.Logger,
	})
	if err != nil {
		l.diskErr = &InitializationError{Dir: dir, Err: err}
		l.logger.LogDiskDisabled(context.Background(), dir, err)
		return
	}
	d.OnEvict(func(key hash.CacheKey, size int64) {
		l.metrics.RecordEviction("disk")
		l.logger.LogEviction(context.Background(), "disk", string(key), size)
	})
	l.disk = d
}

// Request loads uri decoded for a width x height target and reports to
// consumer.
func (l *Loader) Request(uri string, width, height int, consumer Consumer) error {
	return l.RequestWithToken(uri, width, height, nil, consumer)
}

// RequestWithToken loads uri decoded for a width x height target and reports
// to consumer. token is relayed unchanged in the Result; callers compare it
// with the target's current token to drop results for reassigned targets.
//
// A zero width or height decodes at full resolution. A memory hit is
// delivered before RequestWithToken returns.
func (l *Loader) RequestWithToken(uri string, width, height int, token any, consumer Consumer) error {
	if l.closed.Load() {
		return ErrClosed
	}
	switch {
	case uri == "":
		return ErrInvalidURI
	case width < 0 || height < 0:
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	case consumer == nil:
		return ErrNilConsumer
	}

	err := l.coord.Submit(engine.Request{
		URI:      uri,
		Key:      l.key(uri),
		Width:    width,
		Height:   height,
		Token:    token,
		Consumer: &loggingConsumer{next: consumer, logger: l.logger},
	})
	return translateError(err)
}

// LoadResult is the blocking form of RequestWithToken. It returns ctx.Err()
// if ctx ends first; the request itself still runs to completion.
func (l *Loader) LoadResult(ctx context.Context, uri string, width, height int) (Result, error) {
	ch := make(chan Result, 1)
	deliver := func(r Result) { ch <- r }
	if err := l.Request(uri, width, height, ConsumerFuncs{Ready: deliver, Failed: deliver}); err != nil {
		return Result{}, err
	}
	select {
	case r := <-ch:
		return r, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Load fetches uri decoded for a width x height target and waits for it.
func (l *Loader) Load(ctx context.Context, uri string, width, height int) (*Image, error) {
	r, err := l.LoadResult(ctx, uri, width, height)
	if err != nil {
		return nil, err
	}
	return r.Image, nil
}

// Remove drops uri from both tiers.
func (l *Loader) Remove(uri string) error {
	key := l.key(uri)
	l.memory.Remove(key)
	if l.disk == nil {
		return nil
	}
	return l.disk.Remove(key)
}

// Clear drops every entry from both tiers.
func (l *Loader) Clear() error {
	l.memory.Clear()
	if l.disk == nil {
		return nil
	}
	return l.disk.Clear()
}

// Flush makes the disk index durable.
func (l *Loader) Flush() error {
	if l.disk == nil {
		return nil
	}
	return l.disk.Flush()
}

// Close stops accepting requests, waits for queued requests to finish and
// deliver, then flushes and closes the disk cache.
func (l *Loader) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	var errs []error
	if err := l.coord.Close(); err != nil {
		errs = append(errs, err)
	}
	if l.disk != nil {
		if err := l.disk.Flush(); err != nil {
			errs = append(errs, err)
		}
		if err := l.disk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DiskEnabled reports whether the disk tier is in use.
func (l *Loader) DiskEnabled() bool {
	return l.disk != nil
}

// DiskError returns why the disk tier could not be opened, or nil.
func (l *Loader) DiskError() error {
	if l.diskErr == nil {
		return nil
	}
	return l.diskErr
}

// Stats returns a snapshot of the loader.
func (l *Loader) Stats() Stats {
	ms := l.memory.Stats()
	st := Stats{
		Memory: MemoryStats{
			Entries:   l.memory.Len(),
			SizeBytes: l.memory.Size(),
			Capacity:  l.memory.Capacity(),
			Hits:      ms.Hits,
			Misses:    ms.Misses,
			Evictions: ms.Evictions,

			ReservedBytes: l.resources.MemoryUsage(),
			LimitBytes:    l.resources.MemoryLimit(),
		},
		DiskEnabled: l.disk != nil,
		Engine:      l.coord.Stats(),
	}
	if l.disk != nil {
		st.Disk = l.disk.Stats()
	}
	return st
}

func (l *Loader) key(uri string) hash.CacheKey {
	if l.opts.keyHash != nil {
		return hash.KeyWith(l.opts.keyHash, uri)
	}
	return hash.Key(uri)
}

type loggingConsumer struct {
	next   Consumer
	logger *Logger
}

func (c *loggingConsumer) OnImageReady(r Result) {
	c.logger.LogLoad(context.Background(), r)
	c.next.OnImageReady(r)
}

func (c *loggingConsumer) OnImageFailed(r Result) {
	c.logger.LogLoad(context.Background(), r)
	c.next.OnImageFailed(r)
}
