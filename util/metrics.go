package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var blockstoreOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "amt_blockstore_ops_total",
	Help: "Number of block store operations, by store and operation",
}, []string{"store", "op"})

var blockstoreBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "amt_blockstore_bytes_total",
	Help: "Bytes read from or written to block stores, by store and operation",
}, []string{"store", "op"})

var blockCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "amt_block_cache_hits_total",
	Help: "Number of block reads served from the block cache",
})

var blockCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "amt_block_cache_misses_total",
	Help: "Number of block reads that missed the block cache",
})
