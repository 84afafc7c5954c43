package download

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ytq"

// Download outcomes
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomePaused    = "paused"
	outcomeAbandoned = "abandoned"
)

var (
	downloadsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "downloads_active",
		Help:      "Number of downloads currently holding a slot.",
	})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "downloads_total",
		Help:      "Finished download runs by outcome.",
	}, []string{"outcome"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "download_duration_seconds",
		Help:      "Wall time of download runs that reached a terminal state.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	progressWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "progress_writes_total",
		Help:      "Persisted progress updates.",
	})

	duplicateCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "duplicate_cache_hits_total",
		Help:      "Duplicate lookups served from cache.",
	})

	duplicateCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "duplicate_cache_misses_total",
		Help:      "Duplicate lookups that queried the store.",
	})

	consistencyFaults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "scheduler_consistency_faults_total",
		Help:      "Active items found sharing a queue position.",
	})
)
