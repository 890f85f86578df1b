// Package config loads imgcache settings for the command line tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. IMGCACHE_CACHE_DIR.
const EnvPrefix = "IMGCACHE"

// Config is the imgcache tool configuration.
//
// Sources in order of precedence:
//  1. CLI flags (bound by the caller)
//  2. Environment variables (IMGCACHE_*)
//  3. Configuration file (YAML, TOML or JSON)
//  4. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	S3      S3Config      `mapstructure:"s3"`
	MinIO   MinIOConfig   `mapstructure:"minio"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// CacheConfig configures the memory and disk tiers.
type CacheConfig struct {
	// Dir is the disk cache directory. Empty uses the per-user cache dir.
	Dir string `mapstructure:"dir"`
	// DiskCapacity accepts human-readable sizes like "50MiB" or "1GB".
	DiskCapacity ByteSize `mapstructure:"disk_capacity" validate:"required_unless=DisableDisk true"`
	// MemoryCapacity overrides MemoryFraction when non-zero.
	MemoryCapacity ByteSize `mapstructure:"memory_capacity"`
	// MemoryFraction sizes the memory tier as 1/n of the memory budget.
	MemoryFraction int `mapstructure:"memory_fraction" validate:"min=1"`
	// Codec compresses new disk blobs.
	Codec string `mapstructure:"codec" validate:"oneof=none zstd lz4"`
	// Sync fsyncs the journal after every committed download.
	Sync bool `mapstructure:"sync"`
	// DisableDisk runs memory-only.
	DisableDisk bool `mapstructure:"disable_disk"`
	// Sharded stripes the memory tier over several locks.
	Sharded bool `mapstructure:"sharded"`
	// MaxDecodePixels rejects sources whose header declares more pixels.
	// Zero keeps the loader default; negative disables the check.
	MaxDecodePixels int64 `mapstructure:"max_decode_pixels"`
}

// FetchConfig configures origin access.
type FetchConfig struct {
	// Workers is the pool size. Zero uses 2*NumCPU+1.
	Workers int `mapstructure:"workers" validate:"min=0"`
	// Timeout bounds each fetch. Negative disables it.
	Timeout time.Duration `mapstructure:"timeout"`
	// IOBuffer is the copy buffer size.
	IOBuffer ByteSize `mapstructure:"io_buffer" validate:"required"`
	// IOLimit caps network reads per second. Zero is unlimited.
	IOLimit ByteSize `mapstructure:"io_limit"`
	// MaxConcurrent caps simultaneous fetches. Zero is unlimited.
	MaxConcurrent int64 `mapstructure:"max_concurrent" validate:"min=0"`
	// MaxBlob bounds bodies buffered in memory while the disk tier is off.
	MaxBlob ByteSize `mapstructure:"max_blob"`
	// UserAgent is sent with HTTP requests.
	UserAgent string `mapstructure:"user_agent"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// S3Config enables s3:// URIs through the AWS SDK.
type S3Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
	// RangedThreshold switches objects at least this large to parallel
	// ranged downloads. Zero disables ranged downloads.
	RangedThreshold ByteSize `mapstructure:"ranged_threshold"`
	PartSize        ByteSize `mapstructure:"part_size"`
	Concurrency     int      `mapstructure:"concurrency" validate:"min=0"`
}

// MinIOConfig enables minio:// URIs against an S3-compatible endpoint.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
}

// ByteSize is a size in bytes that decodes from strings like "8KiB".
type ByteSize uint64

// String formats the size with IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Int64 returns the size as int64.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// ParseByteSize parses "50MiB", "1GB", "4096" and similar.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// Load reads configuration from configPath (optional), the environment and
// defaults, then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	return load(v, configPath)
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	// IMGCACHE_CACHE_DISK_CAPACITY=1GiB overrides cache.disk_capacity.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults register every key so AutomaticEnv can see it during Unmarshal.
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// byteSizeDecodeHook converts human-readable strings and plain numbers to
// ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return ParseByteSize(v)
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			// YAML numbers may decode as float64.
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}
