// Package s3 fetches images from Amazon S3 with aws-sdk-go-v2.
//
// URIs take the form s3://bucket/key. Small objects are streamed from a
// single GetObject call; objects at or above the ranged-download threshold
// are fetched in parallel byte ranges through the SDK's download manager.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/imgcache/origin"
)

// Client is the subset of the S3 API used by Fetcher.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Fetcher implements origin.Fetcher for S3.
type Fetcher struct {
	client     Client
	downloader *manager.Downloader

	// rangedThreshold enables the download manager for objects of at least
	// this many bytes. Zero disables it.
	rangedThreshold int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRangedDownload fetches objects of at least threshold bytes in parallel
// ranges of partSize bytes using concurrency workers.
func WithRangedDownload(threshold, partSize int64, concurrency int) Option {
	return func(f *Fetcher) {
		f.rangedThreshold = threshold
		f.downloader = manager.NewDownloader(f.client, func(d *manager.Downloader) {
			if partSize > 0 {
				d.PartSize = partSize
			}
			if concurrency > 0 {
				d.Concurrency = concurrency
			}
		})
	}
}

// NewFetcher creates a fetcher on client.
func NewFetcher(client Client, opts ...Option) *Fetcher {
	f := &Fetcher{client: client}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewFromConfig creates a fetcher using the default AWS credential chain.
func NewFromConfig(ctx context.Context, region string, opts ...Option) (*Fetcher, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return NewFetcher(s3.NewFromConfig(cfg), opts...), nil
}

// Fetch implements origin.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := origin.ParseObjectURI(uri)
	if err != nil {
		return nil, &origin.FetchError{Kind: origin.KindIO, URI: uri, Err: err}
	}

	if f.downloader != nil && f.rangedThreshold > 0 {
		head, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, classify(uri, err)
		}
		if size := aws.ToInt64(head.ContentLength); size >= f.rangedThreshold {
			return f.download(ctx, uri, bucket, key, size)
		}
	}

	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(uri, err)
	}
	return resp.Body, nil
}

func (f *Fetcher) download(ctx context.Context, uri, bucket, key string, size int64) (io.ReadCloser, error) {
	buf := manager.NewWriteAtBuffer(make([]byte, size))
	n, err := f.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(uri, err)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes()[:n])), nil
}

func classify(uri string, err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return &origin.FetchError{Kind: origin.KindHTTPStatus, URI: uri, StatusCode: http.StatusNotFound, Err: err}
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() >= 400 {
		return &origin.FetchError{Kind: origin.KindHTTPStatus, URI: uri, StatusCode: re.HTTPStatusCode(), Err: err}
	}
	return origin.Classify(uri, err)
}
