package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dedupEntriesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sigil_dedup_entries_swept_total",
		Help: "Total number of expired dedup entries removed by the sweeper",
	})
	dedupCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sigil_dedup_cache_size",
		Help: "Number of entries currently in the dedup cache",
	})
)
