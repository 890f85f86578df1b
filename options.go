package imgcache

import (
	"hash"
	"log/slog"
	"time"

	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/hupe1980/imgcache/origin"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMemoryFraction is the share of the process memory budget used
	// by the memory cache (1/8).
	DefaultMemoryFraction = 8
	// DefaultDiskCapacity is the disk cache capacity (50 MiB).
	DefaultDiskCapacity int64 = 50 << 20
	// DefaultIOBufferSize is the network copy buffer (8 KiB).
	DefaultIOBufferSize = 8 << 10
	// DefaultMaxBlobBytes bounds a body held in memory when the disk cache
	// is disabled.
	DefaultMaxBlobBytes int64 = 32 << 20
	// DefaultFetchTimeout bounds a single fetch.
	DefaultFetchTimeout = 30 * time.Second
	// DefaultMaxDecodePixels bounds the raw pixel count of a decoded source.
	DefaultMaxDecodePixels = decode.DefaultMaxPixels
)

type options struct {
	memoryCapacity       int64
	memoryFraction       int
	memoryLimit          int64
	sharded              bool
	diskDir              string
	diskCapacity         int64
	diskCodec            string
	diskSync             bool
	disableDisk          bool
	workers              int
	ioBufferSize         int
	ioLimit              int64
	maxConcurrentFetches int64
	maxBlobBytes         int64
	maxDecodePixels      int64
	fetchTimeout         time.Duration
	fetcher              origin.Fetcher
	keyHash              func() hash.Hash
	metricsCollector     MetricsCollector
	logger               *Logger
	tracerProvider       trace.TracerProvider
}

// Option configures a Loader.
type Option func(*options)

// WithMemoryCapacity sets the memory cache capacity in decoded bytes.
// It takes precedence over WithMemoryFraction.
func WithMemoryCapacity(bytes int64) Option {
	return func(o *options) {
		o.memoryCapacity = bytes
	}
}

// WithMemoryFraction sizes the memory cache as 1/denominator of the process
// memory budget (GOMEMLIMIT if set, physical memory otherwise).
// The default is 1/8.
func WithMemoryFraction(denominator int) Option {
	return func(o *options) {
		o.memoryFraction = denominator
	}
}

// WithMemoryLimit sets a hard limit on decoded bytes held across all memory
// cache shards. Images that would exceed it are served but not cached.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithShardedMemoryCache splits the memory cache into 16 independently
// locked shards. Capacity is divided evenly, so no single image larger than
// capacity/16 is cached.
func WithShardedMemoryCache() Option {
	return func(o *options) {
		o.sharded = true
	}
}

// WithDiskDir sets the disk cache directory. Defaults to DefaultDiskDir().
func WithDiskDir(dir string) Option {
	return func(o *options) {
		o.diskDir = dir
	}
}

// WithDiskCapacity sets the disk cache capacity in bytes.
func WithDiskCapacity(bytes int64) Option {
	return func(o *options) {
		o.diskCapacity = bytes
	}
}

// WithDiskCodec compresses new disk blobs: "none" (default), "zstd" or "lz4".
// Existing blobs stay readable whichever codec wrote them.
func WithDiskCodec(name string) Option {
	return func(o *options) {
		o.diskCodec = name
	}
}

// WithDiskSync controls whether the journal is fsynced after every committed
// download. Enabled by default.
func WithDiskSync(enabled bool) Option {
	return func(o *options) {
		o.diskSync = enabled
	}
}

// WithoutDisk disables the disk cache. Fetched bytes are decoded directly.
func WithoutDisk() Option {
	return func(o *options) {
		o.disableDisk = true
	}
}

// WithWorkerPoolSize sets the number of workers for disk, network and
// decode work. Defaults to 2*NumCPU+1.
func WithWorkerPoolSize(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithIOBufferSize sets the buffer used to copy network bodies to disk.
func WithIOBufferSize(bytes int) Option {
	return func(o *options) {
		o.ioBufferSize = bytes
	}
}

// WithIOLimit caps network read throughput in bytes per second.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithMaxConcurrentFetches caps origin fetches running at once, independent
// of the worker pool size.
func WithMaxConcurrentFetches(n int64) Option {
	return func(o *options) {
		o.maxConcurrentFetches = n
	}
}

// WithMaxBlobBytes bounds a body buffered in memory while the disk cache is
// disabled. Zero or negative removes the bound.
func WithMaxBlobBytes(bytes int64) Option {
	return func(o *options) {
		o.maxBlobBytes = bytes
	}
}

// WithMaxDecodePixels rejects sources whose header declares more than n
// pixels, before any pixel memory is allocated. Every accepted source is
// decoded at full size before it is downsampled, so this bounds the peak
// memory of a decode. Zero keeps DefaultMaxDecodePixels; negative disables
// the check.
func WithMaxDecodePixels(n int64) Option {
	return func(o *options) {
		o.maxDecodePixels = n
	}
}

// WithFetchTimeout bounds each fetch. Negative disables the timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fetchTimeout = d
	}
}

// WithFetcher sets the origin. Defaults to origin.DefaultMux()
// (http, https and file).
func WithFetcher(f origin.Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithKeyHash derives cache keys with h instead of MD5. If h is nil or
// panics, keys fall back to a 64-bit FNV-1a of the URI.
func WithKeyHash(h func() hash.Hash) Option {
	return func(o *options) {
		o.keyHash = h
	}
}

// WithMetricsCollector enables metrics collection for operations.
//
// Example:
//
//	metrics := &imgcache.BasicMetricsCollector{}
//	l, _ := imgcache.New(imgcache.WithMetricsCollector(metrics))
//	// ... use l ...
//	stats := metrics.GetStats()
//	fmt.Printf("hit ratio: %.2f\n", stats.HitRatio())
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := imgcache.NewJSONLogger(slog.LevelInfo)
//	l, _ := imgcache.New(imgcache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithTracerProvider enables OpenTelemetry spans for loads, fetches and
// decodes.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		memoryFraction:   DefaultMemoryFraction,
		diskCapacity:     DefaultDiskCapacity,
		diskSync:         true,
		ioBufferSize:     DefaultIOBufferSize,
		maxBlobBytes:     DefaultMaxBlobBytes,
		maxDecodePixels:  DefaultMaxDecodePixels,
		fetchTimeout:     DefaultFetchTimeout,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}
