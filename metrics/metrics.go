package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelCache  = "cache"
	LabelResult = "result"
	LabelLayer  = "layer"
)

var (
	CacheCapacityBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilestream_cache_capacity_bytes",
		Help: "Byte budget of the tile cache",
	}, []string{LabelCache})

	CacheUsedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilestream_cache_used_bytes",
		Help: "Bytes held by resident tiles",
	}, []string{LabelCache})

	CacheInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilestream_cache_inflight_requests",
		Help: "Tile fetches currently in flight",
	}, []string{LabelCache})

	CacheLayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilestream_cache_layers",
		Help: "Layers registered with the cache",
	}, []string{LabelCache})

	CacheFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_cache_fetches_total",
		Help: "Completed tile fetches by result",
	}, []string{LabelCache, LabelResult})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_cache_evictions_total",
		Help: "Tiles evicted to free byte budget",
	}, []string{LabelCache})

	CacheDeadlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_cache_deadlocks_total",
		Help: "Ticks aborted because nothing older than the candidate could be evicted",
	}, []string{LabelCache})

	CacheRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_cache_rate_limited_total",
		Help: "Ticks deferred by the request rate cap",
	}, []string{LabelCache})

	FetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tilestream_fetch_latency_seconds",
		Help:    "Latency of tile channel fetches in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{LabelLayer, LabelResult})
)

// Result turns an error into a result label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
