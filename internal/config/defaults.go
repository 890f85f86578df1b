package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values.
const (
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultDiskCapacity   = "50MiB"
	DefaultMemoryFraction = 8
	DefaultCodec          = "none"
	DefaultFetchTimeout   = 30 * time.Second
	DefaultIOBuffer       = "8KiB"
	DefaultMaxBlob        = "32MiB"
	DefaultUserAgent      = "imgcache/1"
	DefaultMetricsAddr    = ":9090"
	DefaultS3PartSize     = "8MiB"
	DefaultS3Concurrency  = 4
)

func defaults() map[string]any {
	return map[string]any{
		"logging.level":  DefaultLogLevel,
		"logging.format": DefaultLogFormat,

		"cache.dir":               "",
		"cache.disk_capacity":     DefaultDiskCapacity,
		"cache.memory_capacity":   0,
		"cache.memory_fraction":   DefaultMemoryFraction,
		"cache.codec":             DefaultCodec,
		"cache.sync":              true,
		"cache.disable_disk":      false,
		"cache.sharded":           false,
		"cache.max_decode_pixels": 0,

		"fetch.workers":        0,
		"fetch.timeout":        DefaultFetchTimeout.String(),
		"fetch.io_buffer":      DefaultIOBuffer,
		"fetch.io_limit":       0,
		"fetch.max_concurrent": 0,
		"fetch.max_blob":       DefaultMaxBlob,
		"fetch.user_agent":     DefaultUserAgent,

		"metrics.enabled": false,
		"metrics.addr":    DefaultMetricsAddr,

		"s3.enabled":          false,
		"s3.region":           "",
		"s3.ranged_threshold": 0,
		"s3.part_size":        DefaultS3PartSize,
		"s3.concurrency":      DefaultS3Concurrency,

		"minio.enabled":    false,
		"minio.endpoint":   "",
		"minio.access_key": "",
		"minio.secret_key": "",
		"minio.secure":     true,
	}
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := load(v, "")
	if err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(err)
	}
	return cfg
}
