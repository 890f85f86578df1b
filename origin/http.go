package origin

import (
	"context"
	"io"
	"net/http"
	"time"
)

// DefaultUserAgent is sent by HTTP unless overridden.
const DefaultUserAgent = "imgcache/1"

// HTTP fetches http and https URIs with a GET request.
//
// Any status outside 2xx is a KindHTTPStatus failure. The response body is
// returned unread.
type HTTP struct {
	client    *http.Client
	userAgent string
	header    http.Header
}

// HTTPOption configures an HTTP fetcher.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = c
	}
}

// WithTimeout sets an overall per-request timeout on a private client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		c := *h.client
		c.Timeout = d
		h.client = &c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTP) {
		h.userAgent = ua
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) {
		h.header.Add(key, value)
	}
}

// NewHTTP creates an HTTP fetcher. Without options it uses a copy of
// http.DefaultClient.
func NewHTTP(opts ...HTTPOption) *HTTP {
	c := *http.DefaultClient
	h := &HTTP{
		client:    &c,
		userAgent: DefaultUserAgent,
		header:    make(http.Header),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fetch implements Fetcher.
func (h *HTTP) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindIO, URI: uri, Err: err}
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, Classify(uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, StatusError(uri, resp.StatusCode)
	}
	return resp.Body, nil
}
