package rss

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_fetch_attempts_total",
		Help: "The total number of HTTP attempts made to retrieve feeds",
	})

	fetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_fetch_failures_total",
		Help: "The total number of feeds that failed after all retries",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedsync_fetch_duration_seconds",
		Help:    "Time spent retrieving one feed, retries included",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
	})

	itemsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_items_inserted_total",
		Help: "The total number of new items persisted by sync",
	})

	itemsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_items_pruned_total",
		Help: "The total number of items removed by retention pruning",
	})

	syncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_sync_cycles_total",
		Help: "Completed sync cycles by scope",
	}, []string{"scope"})

	syncFailedSubscriptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_sync_failed_subscriptions_total",
		Help: "Subscriptions skipped in a sync cycle because their feed could not be fetched",
	})
)
