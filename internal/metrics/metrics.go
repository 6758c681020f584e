package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MediaFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emogo_media_fetches_total",
			Help: "Total number of media fetch attempts by result",
		},
		[]string{"result"},
	)

	MediaFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emogo_media_fetch_duration_seconds",
			Help:    "Media fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	BundlesBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emogo_bundles_total",
			Help: "Total number of bundle exports by status",
		},
		[]string{"category", "status"},
	)

	BundleBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emogo_bundle_size_bytes",
			Help:    "Size of produced bundle archives",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
		},
	)

	RecordsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emogo_records_served_total",
			Help: "Total number of records returned by JSON exports",
		},
		[]string{"category"},
	)

	RecordsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emogo_records_inserted_total",
			Help: "Total number of records written",
		},
		[]string{"category"},
	)

	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emogo_store_operations_total",
			Help: "Total number of record store operations",
		},
		[]string{"operation", "collection", "status"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emogo_store_operation_duration_seconds",
			Help:    "Record store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "collection"},
	)
)
