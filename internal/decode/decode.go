package decode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"

	// Registered image formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	xdraw "golang.org/x/image/draw"
)

const (
	// BytesPerPixel is the footprint of one decoded RGBA pixel.
	BytesPerPixel = 4

	// DefaultMaxPixels bounds the raw pixel count of a source (50 MP,
	// about 200 MiB as RGBA). The standard decoders cannot subsample while
	// decoding, so every source is materialized at full size first.
	DefaultMaxPixels int64 = 50_000_000
)

var (
	// ErrEmptySource is returned when there are no bytes to decode.
	ErrEmptySource = errors.New("empty image source")

	// ErrTooManyPixels is returned when a source's header declares more
	// pixels than the decoder's budget.
	ErrTooManyPixels = errors.New("image exceeds decode pixel budget")
)

// Error is returned when a source cannot be probed or decoded.
type Error struct {
	Op     string // "probe" or "decode"
	Format string
	Err    error
}

func (e *Error) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("decode: %s %s: %v", e.Op, e.Format, e.Err)
	}
	return fmt.Sprintf("decode: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Bounds are the raw dimensions of an encoded image.
type Bounds struct {
	Width  int
	Height int
	Format string
}

// Image is a decoded, possibly downsampled, image.
// Pix is never nil for an Image returned by this package.
type Image struct {
	Width      int
	Height     int
	SampleSize int
	Format     string
	Pix        *image.RGBA
}

// SizeBytes returns the decoded pixel footprint.
func (img *Image) SizeBytes() int64 {
	if img == nil {
		return 0
	}
	return int64(img.Width) * int64(img.Height) * BytesPerPixel
}

// Probe reads only the header of r and returns the raw bounds.
func Probe(r io.Reader) (Bounds, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return Bounds{}, &Error{Op: "probe", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Bounds{}, &Error{Op: "probe", Format: format, Err: fmt.Errorf("invalid bounds %dx%d", cfg.Width, cfg.Height)}
	}
	return Bounds{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// SampleSize returns the power-of-two divisor used to decode a raw image
// for a target box. It is 1 when either target dimension is 0. Otherwise it
// is the largest s with (rawW/2)/s >= targetW and (rawH/2)/s >= targetH,
// and 1 when no power of two satisfies both.
func SampleSize(rawW, rawH, targetW, targetH int) int {
	if targetW <= 0 || targetH <= 0 {
		return 1
	}
	s := 1
	halfW, halfH := rawW/2, rawH/2
	for halfW/(s*2) >= targetW && halfH/(s*2) >= targetH {
		s *= 2
	}
	return s
}

// Decoder decodes images with an optional scaler.
// The zero value is ready to use: it scales with a bilinear filter and
// enforces DefaultMaxPixels.
type Decoder struct {
	// Scaler resamples the full decode down to the sampled size.
	// Defaults to xdraw.ApproxBiLinear.
	Scaler xdraw.Scaler

	// MaxPixels is the largest width*height accepted from a header. Zero
	// means DefaultMaxPixels; negative disables the check.
	MaxPixels int64
}

// Decode probes src, rewinds it and decodes it for the target box.
func (d *Decoder) Decode(src io.ReadSeeker, targetW, targetH int) (*Image, error) {
	b, err := Probe(src)
	if err != nil {
		return nil, err
	}
	if limit := d.maxPixels(); limit > 0 && int64(b.Width)*int64(b.Height) > limit {
		return nil, &Error{Op: "decode", Format: b.Format,
			Err: fmt.Errorf("%w: %dx%d > %d", ErrTooManyPixels, b.Width, b.Height, limit)}
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, &Error{Op: "decode", Format: b.Format, Err: err}
	}
	raw, format, err := image.Decode(src)
	if err != nil {
		return nil, &Error{Op: "decode", Format: b.Format, Err: err}
	}

	s := SampleSize(b.Width, b.Height, targetW, targetH)
	w, h := max(b.Width/s, 1), max(b.Height/s, 1)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if s == 1 {
		draw.Draw(dst, dst.Bounds(), raw, raw.Bounds().Min, draw.Src)
	} else {
		d.scaler().Scale(dst, dst.Bounds(), raw, raw.Bounds(), xdraw.Src, nil)
	}

	return &Image{
		Width:      w,
		Height:     h,
		SampleSize: s,
		Format:     format,
		Pix:        dst,
	}, nil
}

// DecodeBytes decodes an in-memory source.
func (d *Decoder) DecodeBytes(b []byte, targetW, targetH int) (*Image, error) {
	if len(b) == 0 {
		return nil, &Error{Op: "probe", Err: ErrEmptySource}
	}
	return d.Decode(bytes.NewReader(b), targetW, targetH)
}

func (d *Decoder) maxPixels() int64 {
	if d == nil || d.MaxPixels == 0 {
		return DefaultMaxPixels
	}
	return d.MaxPixels
}

func (d *Decoder) scaler() xdraw.Scaler {
	if d == nil || d.Scaler == nil {
		return xdraw.ApproxBiLinear
	}
	return d.Scaler
}
