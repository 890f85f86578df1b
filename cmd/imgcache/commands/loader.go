package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hupe1980/imgcache"
	"github.com/hupe1980/imgcache/internal/config"
	promcollector "github.com/hupe1980/imgcache/metrics/prometheus"
	"github.com/hupe1980/imgcache/origin"
	miniofetcher "github.com/hupe1980/imgcache/origin/minio"
	s3fetcher "github.com/hupe1980/imgcache/origin/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildOrigin registers every origin enabled in cfg.
func buildOrigin(ctx context.Context, cfg *config.Config) (*origin.Mux, error) {
	mux := origin.NewMux()

	h := origin.NewHTTP(origin.WithUserAgent(cfg.Fetch.UserAgent))
	mux.Handle("http", h)
	mux.Handle("https", h)
	mux.Handle("file", origin.NewFile(nil))

	if cfg.S3.Enabled {
		var opts []s3fetcher.Option
		if cfg.S3.RangedThreshold > 0 {
			opts = append(opts, s3fetcher.WithRangedDownload(
				cfg.S3.RangedThreshold.Int64(),
				cfg.S3.PartSize.Int64(),
				cfg.S3.Concurrency,
			))
		}
		f, err := s3fetcher.NewFromConfig(ctx, cfg.S3.Region, opts...)
		if err != nil {
			return nil, fmt.Errorf("s3 origin: %w", err)
		}
		mux.Handle("s3", f)
	}

	if cfg.MinIO.Enabled {
		client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio origin: %w", err)
		}
		mux.Handle("minio", miniofetcher.NewFetcher(client))
	}

	return mux, nil
}

// session is an open loader plus its optional metrics endpoint.
type session struct {
	loader  *imgcache.Loader
	metrics *http.Server
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	mux, err := buildOrigin(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := append(cfg.LoaderOptions(), imgcache.WithFetcher(mux))

	s := &session{}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		opts = append(opts, imgcache.WithMetricsCollector(promcollector.NewCollector(reg)))

		httpMux := http.NewServeMux()
		httpMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		s.metrics = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           httpMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cfg.Logging.Logger().Error("metrics server stopped", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	l, err := imgcache.New(opts...)
	if err != nil {
		s.shutdownMetrics()
		return nil, err
	}
	s.loader = l
	return s, nil
}

func (s *session) shutdownMetrics() {
	if s.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.metrics.Shutdown(ctx)
}

func (s *session) Close() error {
	defer s.shutdownMetrics()
	return s.loader.Close()
}
