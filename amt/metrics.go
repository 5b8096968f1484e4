package amt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var nodesFlushed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "amt_nodes_flushed_total",
	Help: "Number of AMT nodes serialized and written to the block store",
})

var nodeLoads = promauto.NewCounter(prometheus.CounterOpts{
	Name: "amt_node_loads_total",
	Help: "Number of AMT nodes fetched from the block store",
})

var nodeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "amt_node_cache_hits_total",
	Help: "Number of AMT node resolutions served from a link cache",
})

var flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "amt_flush_duration_seconds",
	Help:    "Duration of AMT flushes",
	Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
})

var rootLoadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "amt_root_load_errors_total",
	Help: "Number of AMT roots that failed to load, by reason",
}, []string{"reason"})
