package resource

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// byteThrottle is a token bucket over bytes, one second of burst.
type byteThrottle struct {
	lim *rate.Limiter // nil: unlimited
}

func newByteThrottle(bytesPerSec int64) *byteThrottle {
	if bytesPerSec <= 0 {
		return &byteThrottle{}
	}
	return &byteThrottle{lim: rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))}
}

func (t *byteThrottle) wait(ctx context.Context, n int) error {
	if t.lim == nil {
		return nil
	}
	// WaitN rejects n above the burst, so large chunks are charged in pieces.
	for burst := t.lim.Burst(); n > burst; n -= burst {
		if err := t.lim.WaitN(ctx, burst); err != nil {
			return err
		}
	}
	return t.lim.WaitN(ctx, n)
}

// RateLimitedReader charges every chunk read from an origin body against the
// controller's IO budget, after the read.
type RateLimitedReader struct {
	ctx context.Context
	src io.Reader
	rc  *Controller
}

// NewRateLimitedReader wraps body. A nil rc leaves it unthrottled.
func NewRateLimitedReader(ctx context.Context, body io.Reader, rc *Controller) *RateLimitedReader {
	return &RateLimitedReader{ctx: ctx, src: body, rc: rc}
}

func (r *RateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n == 0 {
		return n, err
	}
	if werr := r.rc.AcquireIO(r.ctx, n); werr != nil {
		return n, werr
	}
	return n, err
}
