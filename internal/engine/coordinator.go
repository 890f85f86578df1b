package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/imgcache/internal/cache"
	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/hupe1980/imgcache/internal/hash"
	"github.com/hupe1980/imgcache/internal/resource"
	"github.com/hupe1980/imgcache/origin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultIOBufferSize is the copy buffer used between the network and
	// the disk store.
	DefaultIOBufferSize = 8 * 1024
	// DefaultFetchTimeout bounds a single network fetch.
	DefaultFetchTimeout = 30 * time.Second
)

// Config wires a Coordinator.
type Config struct {
	// Memory is the in-memory tier. Required.
	Memory cache.ImageCache
	// Disk is the on-disk tier. Nil runs without persistence.
	Disk *cache.DiskStore
	// Fetcher retrieves bytes on a disk miss. Required.
	Fetcher origin.Fetcher
	// Decoder decodes blobs. The zero Decoder is used if nil.
	Decoder *decode.Decoder
	// Resources throttles fetch concurrency and network IO. Optional.
	Resources *resource.Controller

	// Workers is the pool size. Defaults to DefaultWorkers().
	Workers int
	// IOBufferSize is the network copy buffer. Defaults to 8 KiB.
	IOBufferSize int
	// MaxBlobBytes bounds a body buffered in memory when Disk is nil.
	// Zero means unbounded.
	MaxBlobBytes int64
	// FetchTimeout bounds each fetch. Defaults to 30s; negative disables it.
	FetchTimeout time.Duration

	Logger  *slog.Logger
	Metrics Metrics
	Tracer  trace.Tracer
}

// Coordinator runs requests through the memory, disk and network tiers.
type Coordinator struct {
	memory    cache.ImageCache
	disk      *cache.DiskStore
	fetcher   origin.Fetcher
	decoder   *decode.Decoder
	resources *resource.Controller

	pool       *Pool
	completion *Completion
	buffers    sync.Pool

	// flights holds, per key with a load queued or running, the requests
	// that joined it. Followers never occupy a worker.
	mu      sync.Mutex
	flights map[hash.CacheKey][]follower

	maxBlobBytes int64
	fetchTimeout time.Duration

	logger  *slog.Logger
	metrics Metrics
	tracer  trace.Tracer

	closed     atomic.Bool
	inFlight   atomic.Int64
	requests   atomic.Int64
	memoryHits atomic.Int64
	diskHits   atomic.Int64
	fetches    atomic.Int64
	coalesced  atomic.Int64
	failures   atomic.Int64
}

// New starts a coordinator with its pool and completion goroutine.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Memory == nil {
		return nil, errors.New("engine: memory cache is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("engine: fetcher is required")
	}
	if cfg.Decoder == nil {
		cfg.Decoder = &decode.Decoder{}
	}
	if cfg.IOBufferSize <= 0 {
		cfg.IOBufferSize = DefaultIOBufferSize
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("imgcache")
	}

	bufSize := cfg.IOBufferSize
	c := &Coordinator{
		memory:       cfg.Memory,
		disk:         cfg.Disk,
		fetcher:      cfg.Fetcher,
		decoder:      cfg.Decoder,
		resources:    cfg.Resources,
		pool:         NewPool(cfg.Workers, cfg.Logger),
		completion:   NewCompletion(cfg.Logger),
		flights:      make(map[hash.CacheKey][]follower),
		maxBlobBytes: cfg.MaxBlobBytes,
		fetchTimeout: cfg.FetchTimeout,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
	}
	c.buffers.New = func() any {
		b := make([]byte, bufSize)
		return &b
	}
	return c, nil
}

// DiskEnabled reports whether the disk tier is in use.
func (c *Coordinator) DiskEnabled() bool {
	return c.disk != nil
}

// Submit starts req. A memory hit is delivered before Submit returns, on
// the calling goroutine. Otherwise the request is queued on the pool and
// its Result is delivered later by the completion goroutine.
func (c *Coordinator) Submit(req Request) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if req.Consumer == nil {
		return errors.New("engine: consumer is required")
	}

	start := time.Now()
	c.requests.Add(1)

	if img, ok := c.memory.Get(req.Key); ok {
		c.memoryHits.Add(1)
		res := Result{
			URI:      req.URI,
			Key:      req.Key,
			Token:    req.Token,
			Image:    img,
			Source:   SourceMemory,
			Duration: time.Since(start),
		}
		c.metrics.RecordRequest(string(SourceMemory), res.Duration, nil)
		req.Consumer.OnImageReady(res)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if waiting, ok := c.flights[req.Key]; ok {
		c.flights[req.Key] = append(waiting, follower{req: req, start: start})
		c.inFlight.Add(1)
		return nil
	}
	// The flight is registered under the lock that run takes to collect
	// followers, so a leader never finishes before its entry exists.
	if err := c.pool.Submit(func() { c.run(req, start) }); err != nil {
		return ErrClosed
	}
	c.flights[req.Key] = nil
	c.inFlight.Add(1)
	return nil
}

// follower is a request that joined a load already queued for its key.
type follower struct {
	req   Request
	start time.Time
}

// takeFollowers ends the flight for key and returns who joined it.
func (c *Coordinator) takeFollowers(key hash.CacheKey) []follower {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiting := c.flights[key]
	delete(c.flights, key)
	return waiting
}

// run executes the leading request for a key on a pool worker, then
// delivers the outcome to the leader and to every request that joined it.
func (c *Coordinator) run(req Request, start time.Time) {
	ctx, span := c.tracer.Start(context.Background(), "imgcache.load", trace.WithAttributes(
		attribute.String("imgcache.uri", req.URI),
		attribute.String("imgcache.key", string(req.Key)),
		attribute.Int("imgcache.width", req.Width),
		attribute.Int("imgcache.height", req.Height),
	))
	defer span.End()

	out, err := c.loadRecovered(ctx, req)
	res := Result{URI: req.URI, Key: req.Key, Token: req.Token, Image: out.img, Source: out.source, Err: err}

	followers := c.takeFollowers(req.Key)
	span.SetAttributes(
		attribute.String("imgcache.source", string(res.Source)),
		attribute.Int("imgcache.followers", len(followers)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	c.deliver(req.Consumer, res, start)
	c.inFlight.Add(-1)

	for _, f := range followers {
		c.coalesced.Add(1)
		c.metrics.RecordCoalesced()

		joined := res
		joined.URI = f.req.URI
		joined.Token = f.req.Token
		joined.Coalesced = true
		c.deliver(f.req.Consumer, joined, f.start)
		c.inFlight.Add(-1)
	}
}

// loadRecovered runs load, turning a panic into ErrPanic so the leader and
// its followers still get exactly one delivery each.
func (c *Coordinator) loadRecovered(ctx context.Context, req Request) (out loaded, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while loading", "uri", req.URI, "key", string(req.Key), "panic", r, "stack", string(debug.Stack()))
			out, err = loaded{}, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return c.load(ctx, req)
}

func (c *Coordinator) deliver(consumer Consumer, res Result, start time.Time) {
	res.Duration = time.Since(start)
	if res.Err != nil {
		res.Image = nil
		c.failures.Add(1)
		c.logger.Debug("request failed", "uri", res.URI, "key", string(res.Key), "source", string(res.Source), "error", res.Err)
	}
	c.metrics.RecordRequest(string(res.Source), res.Duration, res.Err)

	posted := c.completion.Post(func() {
		if res.Err != nil {
			consumer.OnImageFailed(res)
			return
		}
		consumer.OnImageReady(res)
	})
	if !posted {
		// Close drains the pool before the completion queue, so this only
		// happens if a task outlives Close.
		c.logger.Error("completion closed, dropping result", "uri", res.URI)
	}
}

type loaded struct {
	img    *decode.Image
	source Source
}

// load is the body shared by all requests coalesced on one key.
func (c *Coordinator) load(ctx context.Context, req Request) (loaded, error) {
	// Another load may have populated memory while this one was queued.
	if img, ok := c.memory.Get(req.Key); ok {
		c.memoryHits.Add(1)
		return loaded{img: img, source: SourceMemory}, nil
	}

	if c.disk == nil {
		img, err := c.fetchDirect(ctx, req)
		if err != nil {
			return loaded{source: SourceNetwork}, err
		}
		c.populate(req.Key, img)
		return loaded{img: img, source: SourceNetwork}, nil
	}

	img, err := c.loadFromDisk(ctx, req)
	if err != nil {
		return loaded{source: SourceDisk}, err
	}
	if img != nil {
		c.diskHits.Add(1)
		c.populate(req.Key, img)
		return loaded{img: img, source: SourceDisk}, nil
	}

	if err := c.fetchToDisk(ctx, req); err != nil {
		return loaded{source: SourceNetwork}, err
	}

	img, err = c.loadFromDisk(ctx, req)
	if err != nil {
		return loaded{source: SourceNetwork}, err
	}
	if img == nil {
		// Evicted or unreadable between commit and read.
		return loaded{source: SourceNetwork}, &IOError{Op: "read", Key: req.Key, Err: cache.ErrNotFound}
	}
	c.populate(req.Key, img)
	return loaded{img: img, source: SourceNetwork}, nil
}

// loadFromDisk returns (nil, nil) on a miss. Read errors are misses; a blob
// that fails to decode is removed so the next request fetches it again.
func (c *Coordinator) loadFromDisk(ctx context.Context, req Request) (*decode.Image, error) {
	b, ok, err := c.disk.Read(req.Key)
	if err != nil {
		c.logger.Warn("disk read failed, treating as miss", "key", string(req.Key), "error", err)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	img, err := c.decode(ctx, req, b)
	if err != nil {
		if rmErr := c.disk.Remove(req.Key); rmErr != nil {
			c.logger.Warn("failed to remove undecodable blob", "key", string(req.Key), "error", rmErr)
		}
		return nil, err
	}
	return img, nil
}

func (c *Coordinator) decode(ctx context.Context, req Request, b []byte) (*decode.Image, error) {
	_, span := c.tracer.Start(ctx, "imgcache.decode")
	defer span.End()

	start := time.Now()
	img, err := c.decoder.DecodeBytes(b, req.Width, req.Height)
	sampleSize := 0
	if img != nil {
		sampleSize = img.SampleSize
		span.SetAttributes(
			attribute.Int("imgcache.sample_size", img.SampleSize),
			attribute.String("imgcache.format", img.Format),
		)
	}
	c.metrics.RecordDecode(sampleSize, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return img, nil
}

func (c *Coordinator) populate(key hash.CacheKey, img *decode.Image) {
	if !c.memory.Put(key, img) {
		c.logger.Debug("memory cache did not admit image", "key", string(key), "bytes", img.SizeBytes())
	}
}

// fetchToDisk streams the network body into the disk store. The blob is
// visible only once the commit succeeded.
func (c *Coordinator) fetchToDisk(ctx context.Context, req Request) error {
	ctx, span := c.tracer.Start(ctx, "imgcache.fetch", trace.WithAttributes(attribute.String("imgcache.uri", req.URI)))
	defer span.End()

	start := time.Now()
	var n int64
	err := c.disk.Write(req.Key, func(w io.Writer) error {
		var err error
		n, err = c.copyFromOrigin(ctx, req, w)
		return err
	})
	c.fetches.Add(1)
	c.metrics.RecordFetch(n, time.Since(start), err)
	span.SetAttributes(attribute.Int64("imgcache.bytes", n))

	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var fe *origin.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	var ioe *IOError
	if errors.As(err, &ioe) {
		return ioe
	}
	var we *cache.WriteError
	if errors.As(err, &we) {
		return &IOError{Op: we.Op, Key: req.Key, Err: we.Err}
	}
	return &IOError{Op: "write", Key: req.Key, Err: err}
}

// fetchDirect buffers the body in memory and decodes it. Used when the disk
// tier is disabled.
func (c *Coordinator) fetchDirect(ctx context.Context, req Request) (*decode.Image, error) {
	fctx, span := c.tracer.Start(ctx, "imgcache.fetch", trace.WithAttributes(attribute.String("imgcache.uri", req.URI)))

	start := time.Now()
	var buf bytes.Buffer
	n, err := c.copyFromOrigin(fctx, req, &limitedWriter{w: &buf, remaining: c.maxBlobBytes})
	c.fetches.Add(1)
	c.metrics.RecordFetch(n, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if err != nil {
		return nil, err
	}
	return c.decode(ctx, req, buf.Bytes())
}

// copyFromOrigin fetches req.URI and copies the body into w through the
// IO buffer. Read-side failures are *origin.FetchError, write-side failures
// are *IOError.
func (c *Coordinator) copyFromOrigin(ctx context.Context, req Request, w io.Writer) (int64, error) {
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	if err := c.resources.AcquireFetch(ctx); err != nil {
		return 0, origin.Classify(req.URI, err)
	}
	defer c.resources.ReleaseFetch()

	body, err := c.fetcher.Fetch(ctx, req.URI)
	if err != nil {
		return 0, origin.Classify(req.URI, err)
	}
	defer func() { _ = body.Close() }()

	bufp := c.buffers.Get().(*[]byte)
	defer c.buffers.Put(bufp)

	dst := &errWriter{w: w}
	n, err := io.CopyBuffer(dst, resource.NewRateLimitedReader(ctx, body, c.resources), *bufp)
	if err != nil {
		if dst.err != nil {
			return n, &IOError{Op: "write", Key: req.Key, Err: dst.err}
		}
		return n, origin.Classify(req.URI, err)
	}
	c.logger.Debug("fetched", "uri", req.URI, "bytes", n)
	return n, nil
}

// errWriter remembers the first write error so copy failures can be
// attributed to the writing side.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}

type limitedWriter struct {
	w         io.Writer
	remaining int64 // <= 0 means unbounded
	written   int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.remaining > 0 && l.written+int64(len(p)) > l.remaining {
		return 0, ErrBlobTooLarge
	}
	n, err := l.w.Write(p)
	l.written += int64(n)
	return n, err
}

// Close stops accepting requests, lets queued requests finish and delivers
// their results. It does not close the disk store.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	c.pool.Close()
	c.completion.Close()
	return nil
}

// Stats returns a snapshot of the coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Requests:   c.requests.Load(),
		MemoryHits: c.memoryHits.Load(),
		DiskHits:   c.diskHits.Load(),
		Fetches:    c.fetches.Load(),
		Coalesced:  c.coalesced.Load(),
		Failures:   c.failures.Load(),
		InFlight:   c.inFlight.Load(),
		Queued:     c.pool.Pending(),
		Workers:    c.pool.Workers(),
	}
}
