// Package prometheus exports imgcache metrics to a Prometheus registry.
package prometheus

import (
	"time"

	"github.com/hupe1980/imgcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ imgcache.MetricsCollector = (*Collector)(nil)

// Collector is a Prometheus-backed imgcache.MetricsCollector.
type Collector struct {
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	fetches        *prometheus.CounterVec
	fetchBytes     prometheus.Counter
	fetchLatency   prometheus.Histogram
	decodes        *prometheus.CounterVec
	decodeLatency  prometheus.Histogram
	sampleSize     prometheus.Histogram
	evictions      *prometheus.CounterVec
	coalesced      prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgcache_requests_total",
				Help: "Total number of image requests by source and status",
			},
			[]string{"source", "status"}, // source: "memory", "disk", "network"
		),
		requestLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "imgcache_request_duration_milliseconds",
				Help: "Time from request to delivery in milliseconds",
				Buckets: []float64{
					0.1,  // 100us - memory hits
					1,    // 1ms
					5,    // 5ms - disk hits
					25,   // 25ms
					100,  // 100ms
					250,  // 250ms - typical network loads
					1000, // 1s
					5000, // 5s
				},
			},
			[]string{"source"},
		),
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgcache_fetches_total",
				Help: "Total number of origin fetches by status",
			},
			[]string{"status"},
		),
		fetchBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "imgcache_fetch_bytes_total",
			Help: "Total bytes received from origins",
		}),
		fetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgcache_fetch_duration_milliseconds",
			Help:    "Duration of origin fetches in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 11), // 5ms .. ~5s
		}),
		decodes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgcache_decodes_total",
				Help: "Total number of decodes by status",
			},
			[]string{"status"},
		),
		decodeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgcache_decode_duration_milliseconds",
			Help:    "Duration of decodes in milliseconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		sampleSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgcache_decode_sample_size",
			Help:    "Power-of-two sample size chosen for successful decodes",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		}),
		evictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgcache_evictions_total",
				Help: "Total number of capacity evictions by tier",
			},
			[]string{"tier"}, // "memory", "disk"
		),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "imgcache_coalesced_requests_total",
			Help: "Requests that joined an in-flight load for the same key",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordRequest implements imgcache.MetricsCollector.
func (c *Collector) RecordRequest(source string, duration time.Duration, err error) {
	c.requests.WithLabelValues(source, status(err)).Inc()
	if err == nil {
		c.requestLatency.WithLabelValues(source).Observe(millis(duration))
	}
}

// RecordFetch implements imgcache.MetricsCollector.
func (c *Collector) RecordFetch(bytes int64, duration time.Duration, err error) {
	c.fetches.WithLabelValues(status(err)).Inc()
	c.fetchBytes.Add(float64(bytes))
	c.fetchLatency.Observe(millis(duration))
}

// RecordDecode implements imgcache.MetricsCollector.
func (c *Collector) RecordDecode(sampleSize int, duration time.Duration, err error) {
	c.decodes.WithLabelValues(status(err)).Inc()
	c.decodeLatency.Observe(millis(duration))
	if err == nil {
		c.sampleSize.Observe(float64(sampleSize))
	}
}

// RecordEviction implements imgcache.MetricsCollector.
func (c *Collector) RecordEviction(tier string) {
	c.evictions.WithLabelValues(tier).Inc()
}

// RecordCoalesced implements imgcache.MetricsCollector.
func (c *Collector) RecordCoalesced() {
	c.coalesced.Inc()
}
