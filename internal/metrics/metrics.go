package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wmts_tile_requests_total",
		Help: "Total number of tile requests by response status",
	}, []string{"status"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wmts_cache_hits_total",
		Help: "Total number of tiles served from the object store",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wmts_cache_misses_total",
		Help: "Total number of object store lookups without a usable tile",
	})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wmts_cache_errors_total",
		Help: "Total number of failed object store operations",
	}, []string{"operation"})

	CacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wmts_cache_writes_total",
		Help: "Total number of object store writes by policy and outcome",
	}, []string{"policy", "outcome"})

	AsyncWritesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wmts_cache_async_writes_dropped_total",
		Help: "Total number of asynchronous writes dropped because the queue was full",
	})

	BackendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wmts_backend_render_seconds",
		Help:    "Latency of WMS GetMap calls in seconds",
		Buckets: prometheus.DefBuckets,
	})

	TileGenerationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wmts_tile_generation_seconds",
		Help:    "Time to render and post-process a tile in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
