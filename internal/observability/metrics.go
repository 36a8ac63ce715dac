package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncRunsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "venue_service",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Synchronization runs grouped by outcome.",
	}, []string{"outcome"})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "venue_service",
		Subsystem: "sync",
		Name:      "duration_seconds",
		Help:      "Wall time of a synchronization run, from validation to commit.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	recordsPersistedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "venue_service",
		Subsystem: "persistence",
		Name:      "records_persisted_total",
		Help:      "Venue records written by committed synchronization runs.",
	}, []string{"category"})

	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "venue_service",
		Subsystem: "persistence",
		Name:      "last_sync_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed synchronization run.",
	})

	providerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "venue_service",
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Latency of business search calls by term and outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.025, 2, 10),
	}, []string{"term", "outcome"})
)

func init() {
	prometheus.MustRegister(syncRunsCounter, syncDuration, recordsPersistedCounter, lastSyncGauge, providerDuration)
}

// RecordSyncRun counts a finished run and observes its duration.
func RecordSyncRun(outcome string, elapsed time.Duration) {
	syncRunsCounter.WithLabelValues(outcome).Inc()
	syncDuration.Observe(elapsed.Seconds())
}

// RecordSyncCommitted updates per-category record counters and the commit watermark.
func RecordSyncCommitted(counts map[string]int, ts time.Time) {
	for category, n := range counts {
		recordsPersistedCounter.WithLabelValues(category).Add(float64(n))
	}
	if ts.IsZero() {
		return
	}
	lastSyncGauge.Set(float64(ts.Unix()))
}

// RecordProviderRequest observes one provider search call.
func RecordProviderRequest(term, outcome string, elapsed time.Duration) {
	providerDuration.WithLabelValues(term, outcome).Observe(elapsed.Seconds())
}
