package config

import (
	"log/slog"

	"github.com/hupe1980/imgcache"
)

// SlogLevel returns the configured level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds the configured logger.
func (l LoggingConfig) Logger() *imgcache.Logger {
	if l.Format == "json" {
		return imgcache.NewJSONLogger(l.SlogLevel())
	}
	return imgcache.NewTextLogger(l.SlogLevel())
}

// LoaderOptions maps the cache and fetch settings to loader options.
// Origins are not included; the caller registers them with WithFetcher.
func (c *Config) LoaderOptions() []imgcache.Option {
	opts := []imgcache.Option{
		imgcache.WithLogger(c.Logging.Logger()),
		imgcache.WithMemoryFraction(c.Cache.MemoryFraction),
		imgcache.WithDiskCapacity(c.Cache.DiskCapacity.Int64()),
		imgcache.WithDiskCodec(c.Cache.Codec),
		imgcache.WithDiskSync(c.Cache.Sync),
		imgcache.WithWorkerPoolSize(c.Fetch.Workers),
		imgcache.WithIOBufferSize(int(c.Fetch.IOBuffer)),
		imgcache.WithMaxBlobBytes(c.Fetch.MaxBlob.Int64()),
	}
	if c.Cache.MemoryCapacity > 0 {
		opts = append(opts, imgcache.WithMemoryCapacity(c.Cache.MemoryCapacity.Int64()))
	}
	if c.Cache.Dir != "" {
		opts = append(opts, imgcache.WithDiskDir(c.Cache.Dir))
	}
	if c.Cache.DisableDisk {
		opts = append(opts, imgcache.WithoutDisk())
	}
	if c.Cache.Sharded {
		opts = append(opts, imgcache.WithShardedMemoryCache())
	}
	if c.Cache.MaxDecodePixels != 0 {
		opts = append(opts, imgcache.WithMaxDecodePixels(c.Cache.MaxDecodePixels))
	}
	if c.Fetch.Timeout != 0 {
		opts = append(opts, imgcache.WithFetchTimeout(c.Fetch.Timeout))
	}
	if c.Fetch.IOLimit > 0 {
		opts = append(opts, imgcache.WithIOLimit(c.Fetch.IOLimit.Int64()))
	}
	if c.Fetch.MaxConcurrent > 0 {
		opts = append(opts, imgcache.WithMaxConcurrentFetches(c.Fetch.MaxConcurrent))
	}
	return opts
}
