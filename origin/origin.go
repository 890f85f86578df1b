package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Fetcher retrieves the raw bytes of a resource.
//
// Implementations must be safe for concurrent use. The caller closes the
// returned reader. Errors should be *FetchError; anything else is classified
// with Classify.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (io.ReadCloser, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, uri string) (io.ReadCloser, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	return f(ctx, uri)
}

// Kind classifies a fetch failure.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindConnectionRefused Kind = "connection-refused"
	KindHTTPStatus        Kind = "http-status"
	KindIO                Kind = "io-error"
	KindUnsupportedScheme Kind = "unsupported-scheme"
)

// FetchError is returned when a resource could not be retrieved.
type FetchError struct {
	Kind       Kind
	URI        string
	StatusCode int // Set for KindHTTPStatus.
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: %s %d", e.URI, e.Kind, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URI, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URI, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a timeout.
func (e *FetchError) Timeout() bool {
	return e.Kind == KindTimeout
}

// Classify converts err into a *FetchError for uri.
// It returns nil for a nil error and err itself when it already is a
// *FetchError.
func Classify(uri string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	kind := KindIO
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = KindConnectionRefused
	}
	return &FetchError{Kind: kind, URI: uri, Err: err}
}

// StatusError returns a KindHTTPStatus error.
func StatusError(uri string, code int) *FetchError {
	return &FetchError{Kind: KindHTTPStatus, URI: uri, StatusCode: code}
}
