package origin

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
)

// Mux dispatches fetches by URI scheme.
//
// URIs without a scheme are routed to the "file" handler when one is
// registered.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Fetcher
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Fetcher)}
}

// DefaultMux returns a Mux serving http, https and file URIs.
func DefaultMux() *Mux {
	h := NewHTTP()
	m := NewMux()
	m.Handle("http", h)
	m.Handle("https", h)
	m.Handle("file", NewFile(nil))
	return m
}

// Handle registers f for scheme, replacing any previous handler.
func (m *Mux) Handle(scheme string, f Fetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[strings.ToLower(scheme)] = f
}

// Schemes returns the registered schemes.
func (m *Mux) Schemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.handlers))
	for s := range m.handlers {
		out = append(out, s)
	}
	return out
}

// Fetch implements Fetcher.
func (m *Mux) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	scheme := "file"
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" {
		scheme = strings.ToLower(u.Scheme)
	}

	m.mu.RLock()
	f, ok := m.handlers[scheme]
	m.mu.RUnlock()
	if !ok {
		return nil, &FetchError{Kind: KindUnsupportedScheme, URI: uri, Err: errors.New("no fetcher for scheme " + scheme)}
	}
	return f.Fetch(ctx, uri)
}
