package imgcache

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the slog.Logger the loader reports through. Its helpers keep
// attribute names stable across log lines: uri, key, source, tier.
type Logger struct {
	*slog.Logger
}

// NewLogger wraps handler. A nil handler logs text at info level to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = stderrHandler(slog.LevelInfo, false)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger logs JSON lines at level or above to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(stderrHandler(level, true))
}

// NewTextLogger logs logfmt-style text at level or above to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(stderrHandler(level, false))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

func stderrHandler(level slog.Level, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// ForRequest returns a child logger tagged with a request's uri and key.
func (l *Logger) ForRequest(uri, key string) *Logger {
	return &Logger{Logger: l.With(slog.String("uri", uri), slog.String("key", key))}
}

// LogLoad reports a delivered result: failures at warn, successes at debug.
func (l *Logger) LogLoad(ctx context.Context, res Result) {
	attrs := []slog.Attr{
		slog.String("uri", res.URI),
		slog.String("key", string(res.Key)),
		slog.String("source", string(res.Source)),
		slog.Duration("duration", res.Duration),
	}
	if res.Err != nil {
		l.LogAttrs(ctx, slog.LevelWarn, "load failed", append(attrs, slog.Any("error", res.Err))...)
		return
	}
	if res.Image != nil {
		attrs = append(attrs,
			slog.Int("width", res.Image.Width),
			slog.Int("height", res.Image.Height),
			slog.Int("sample_size", res.Image.SampleSize),
		)
	}
	l.LogAttrs(ctx, slog.LevelDebug, "load completed", append(attrs, slog.Bool("coalesced", res.Coalesced))...)
}

// LogDiskDisabled reports that the disk tier failed to open and misses now
// go straight to the origin.
func (l *Logger) LogDiskDisabled(ctx context.Context, dir string, err error) {
	l.LogAttrs(ctx, slog.LevelError, "disk cache disabled, loading directly from origin",
		slog.String("dir", dir),
		slog.Any("error", err),
	)
}

// LogEviction reports an entry dropped for capacity.
func (l *Logger) LogEviction(ctx context.Context, tier, key string, sizeBytes int64) {
	l.LogAttrs(ctx, slog.LevelDebug, "evicted",
		slog.String("tier", tier),
		slog.String("key", key),
		slog.Int64("bytes", sizeBytes),
	)
}
