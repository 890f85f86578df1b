package cache

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses blobs on their way to disk.
//
// Every blob starts with a one byte codec tag, so blobs written under one
// codec stay readable after the store is reopened with another.
type Codec interface {
	// Name returns the codec name used in configuration.
	Name() string
	// Tag returns the byte stored in front of every blob.
	Tag() byte
	// NewWriter wraps w. Close must flush but not close w.
	NewWriter(w io.Writer) (io.WriteCloser, error)
	// NewReader wraps r.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

const (
	tagNone byte = 0
	tagZstd byte = 1
	tagLZ4  byte = 2
)

var (
	// CodecNone stores blobs as written.
	CodecNone Codec = noneCodec{}
	// CodecZstd compresses blobs with zstd.
	CodecZstd Codec = zstdCodec{}
	// CodecLZ4 compresses blobs with the lz4 frame format.
	CodecLZ4 Codec = lz4Codec{}
)

// ParseCodec returns the codec with the given name.
// The empty string selects CodecNone.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return nil, fmt.Errorf("cache: unknown codec %q", name)
	}
}

func codecByTag(tag byte) (Codec, error) {
	switch tag {
	case tagNone:
		return CodecNone, nil
	case tagZstd:
		return CodecZstd, nil
	case tagLZ4:
		return CodecLZ4, nil
	default:
		return nil, fmt.Errorf("cache: unknown codec tag %d", tag)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }
func (noneCodec) Tag() byte    { return tagNone }
func (noneCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}
func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }
func (zstdCodec) Tag() byte    { return tagZstd }
func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}
func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }
func (lz4Codec) Tag() byte    { return tagLZ4 }
func (lz4Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}
func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
