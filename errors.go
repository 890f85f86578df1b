package imgcache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/hupe1980/imgcache/internal/engine"
	"github.com/hupe1980/imgcache/origin"
)

var (
	// ErrClosed is returned for requests made after Close.
	ErrClosed = errors.New("imgcache: loader closed")
	// ErrInvalidURI is returned for an empty URI.
	ErrInvalidURI = errors.New("imgcache: invalid uri")
	// ErrInvalidSize is returned for a negative target width or height.
	ErrInvalidSize = errors.New("imgcache: invalid target size")
	// ErrNilConsumer is returned when a request has no consumer.
	ErrNilConsumer = errors.New("imgcache: consumer is required")
	// ErrBlobTooLarge is returned when a body exceeds the in-memory limit
	// while the disk cache is disabled.
	ErrBlobTooLarge = engine.ErrBlobTooLarge
	// ErrTooManyPixels is wrapped in a DecodeError when a source declares
	// more pixels than WithMaxDecodePixels allows.
	ErrTooManyPixels = decode.ErrTooManyPixels
)

// DecodeError is reported when fetched bytes are not a decodable image.
// The image is not cached in memory and its disk blob is removed.
type DecodeError = decode.Error

// IOError is reported when a download could not be committed to disk.
// Disk read failures are never reported; they are treated as misses.
type IOError = engine.IOError

// FetchError is reported when the origin could not deliver the resource.
type FetchError = origin.FetchError

// InitializationError records why the disk tier could not be opened.
// The loader keeps working without it.
type InitializationError struct {
	Dir string
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("imgcache: open disk cache %s: %v", e.Dir, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

func translateError(err error) error {
	if errors.Is(err, engine.ErrClosed) {
		return ErrClosed
	}
	return err
}
