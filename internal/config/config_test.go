package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, ByteSize(50<<20), cfg.Cache.DiskCapacity)
	assert.Equal(t, 8, cfg.Cache.MemoryFraction)
	assert.Equal(t, "none", cfg.Cache.Codec)
	assert.True(t, cfg.Cache.Sync)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, ByteSize(8<<10), cfg.Fetch.IOBuffer)
	assert.Equal(t, ByteSize(32<<20), cfg.Fetch.MaxBlob)
	assert.Equal(t, "imgcache/1", cfg.Fetch.UserAgent)
	assert.False(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.MinIO.Secure)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: DEBUG
  format: json
cache:
  dir: /var/cache/imgcache
  disk_capacity: 1GiB
  memory_capacity: 64MB
  codec: zstd
  sync: false
fetch:
  workers: 9
  timeout: 5s
  io_limit: 1MiB
  max_concurrent: 4
s3:
  enabled: true
  region: eu-west-1
  ranged_threshold: 16MiB
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/var/cache/imgcache", cfg.Cache.Dir)
	assert.Equal(t, ByteSize(1<<30), cfg.Cache.DiskCapacity)
	assert.Equal(t, ByteSize(64_000_000), cfg.Cache.MemoryCapacity)
	assert.Equal(t, "zstd", cfg.Cache.Codec)
	assert.False(t, cfg.Cache.Sync)
	assert.Equal(t, 9, cfg.Fetch.Workers)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, ByteSize(1<<20), cfg.Fetch.IOLimit)
	assert.Equal(t, int64(4), cfg.Fetch.MaxConcurrent)
	assert.True(t, cfg.S3.Enabled)
	assert.Equal(t, ByteSize(16<<20), cfg.S3.RangedThreshold)

	// Untouched keys keep their defaults.
	assert.Equal(t, ByteSize(8<<10), cfg.Fetch.IOBuffer)
}

func TestLoad_NumericSizes(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
cache:
  disk_capacity: 4096
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ByteSize(4096), cfg.Cache.DiskCapacity)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
cache:
  codec: lz4
`)
	t.Setenv("IMGCACHE_CACHE_CODEC", "zstd")
	t.Setenv("IMGCACHE_CACHE_DISK_CAPACITY", "2GiB")
	t.Setenv("IMGCACHE_FETCH_TIMEOUT", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "zstd", cfg.Cache.Codec)
	assert.Equal(t, ByteSize(2<<30), cfg.Cache.DiskCapacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.Timeout)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ByteSize(50<<20), cfg.Cache.DiskCapacity)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"bad codec", "cache:\n  codec: brotli\n"},
		{"bad size", "cache:\n  disk_capacity: lots\n"},
		{"zero fraction", "cache:\n  memory_fraction: 0\n"},
		{"minio without endpoint", "minio:\n  enabled: true\n"},
		{"malformed yaml", "cache: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DisableDiskAllowsZeroCapacity(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", `
cache:
  disable_disk: true
  disk_capacity: 0
`))
	require.NoError(t, err)
	assert.True(t, cfg.Cache.DisableDisk)
}

func TestParseByteSize(t *testing.T) {
	n, err := ParseByteSize(" 8KiB ")
	require.NoError(t, err)
	assert.Equal(t, ByteSize(8192), n)
	assert.Equal(t, "8.0 KiB", n.String())

	_, err = ParseByteSize("eight")
	assert.Error(t, err)
}

func TestLoaderOptions(t *testing.T) {
	cfg := Default()
	cfg.Cache.Dir = t.TempDir()
	cfg.Cache.MemoryCapacity = 1 << 20
	cfg.Fetch.MaxConcurrent = 2
	cfg.Cache.MaxDecodePixels = 1 << 20

	opts := cfg.LoaderOptions()
	assert.NotEmpty(t, opts)
	assert.NotNil(t, cfg.Logging.Logger())
}
