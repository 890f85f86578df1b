// Package minio fetches images from MinIO and other S3-compatible stores
// through the MinIO client.
//
// URIs take the form scheme://bucket/key; the scheme is whatever the fetcher
// is registered under in an origin.Mux.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	mux.Handle("minio", miniorigin.NewFetcher(client))
package minio

import (
	"context"
	"io"
	"net/http"

	"github.com/hupe1980/imgcache/origin"
	"github.com/minio/minio-go/v7"
)

type getFunc func(ctx context.Context, bucket, key string) (io.ReadCloser, error)

// Fetcher implements origin.Fetcher for MinIO.
type Fetcher struct {
	get getFunc
}

// NewFetcher creates a fetcher on client.
func NewFetcher(client *minio.Client) *Fetcher {
	return &Fetcher{
		get: func(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
			obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
			if err != nil {
				return nil, err
			}
			// GetObject is lazy; Stat surfaces a missing object up front.
			if _, err := obj.Stat(); err != nil {
				_ = obj.Close()
				return nil, err
			}
			return obj, nil
		},
	}
}

// Fetch implements origin.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := origin.ParseObjectURI(uri)
	if err != nil {
		return nil, &origin.FetchError{Kind: origin.KindIO, URI: uri, Err: err}
	}

	rc, err := f.get(ctx, bucket, key)
	if err != nil {
		return nil, classify(uri, err)
	}
	return rc, nil
}

func classify(uri string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.Code == "NoSuchBucket":
		return &origin.FetchError{Kind: origin.KindHTTPStatus, URI: uri, StatusCode: http.StatusNotFound, Err: err}
	case resp.StatusCode >= 400:
		return &origin.FetchError{Kind: origin.KindHTTPStatus, URI: uri, StatusCode: resp.StatusCode, Err: err}
	}
	return origin.Classify(uri, err)
}
