package commands

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	path := filepath.Join(dir, "img.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Flag variables are package globals; reset the ones tests touch.
	cfgFile, cacheDir, logLevel, noDisk = "", "", "", false
	fetchWidth, fetchHeight = 0, 0

	var out bytes.Buffer
	cmd := GetRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "imgcache dev")
}

func TestFetchStatsClear(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache")
	img := writePNG(t, dir, 400, 300)

	out, err := run(t, "fetch", "--cache-dir", cache, "--log-level", "error", "--width", "50", "--height", "50", "file://"+img)
	require.NoError(t, err)
	assert.Contains(t, out, "network")
	assert.Contains(t, out, "200x150")

	out, err = run(t, "stats", "--cache-dir", cache, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "disk entries:    1")

	out, err = run(t, "fetch", "--cache-dir", cache, "--log-level", "error", "file://"+img)
	require.NoError(t, err)
	assert.Contains(t, out, "disk")

	out, err = run(t, "clear", "--cache-dir", cache, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 entries")
}

func TestFetch_Failure(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "fetch", "--cache-dir", dir, "--log-level", "error", "file://"+filepath.Join(dir, "missing.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 fetches failed")
	assert.Contains(t, out, "error")
}

func TestStats_NoDisk(t *testing.T) {
	out, err := run(t, "stats", "--no-disk", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "disk: disabled")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, "stats", "--no-disk", "--log-level", "loud")
	assert.Error(t, err)
}
