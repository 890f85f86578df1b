package imgcache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/stretchr/testify/assert"
)

func bufferLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})), &buf
}

func TestLogger_LogLoad(t *testing.T) {
	l, buf := bufferLogger(slog.LevelDebug)

	l.LogLoad(context.Background(), Result{
		URI:    "https://example.com/a.png",
		Key:    "abc",
		Source: SourceDisk,
		Image:  &decode.Image{Width: 10, Height: 20, SampleSize: 2},
	})
	out := buf.String()
	assert.Contains(t, out, "load completed")
	assert.Contains(t, out, "source=disk")
	assert.Contains(t, out, "sample_size=2")

	buf.Reset()
	l.LogLoad(context.Background(), Result{URI: "https://example.com/b.png", Err: errors.New("boom")})
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "error=boom")
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := bufferLogger(slog.LevelInfo)
	l.LogEviction(context.Background(), "memory", "abc", 100)
	assert.Empty(t, buf.String())

	l.LogDiskDisabled(context.Background(), "/tmp/x", errors.New("read-only"))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "dir=/tmp/x")
}

func TestLogger_ForRequest(t *testing.T) {
	l, buf := bufferLogger(slog.LevelInfo)
	l.ForRequest("https://example.com/c.png", "k1").Info("hello")
	assert.Contains(t, buf.String(), "uri=https://example.com/c.png")
	assert.Contains(t, buf.String(), "key=k1")
}

func TestNoopLogger(t *testing.T) {
	assert.False(t, NoopLogger().Enabled(context.Background(), slog.LevelError))
}
