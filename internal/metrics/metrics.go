// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mediastream"

var (
	// StreamRequests counts stream requests by terminal state.
	StreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_requests_total",
		Help:      "Stream requests by terminal outcome.",
	}, []string{"outcome"})

	BytesServed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_served_total",
		Help:      "Response body bytes written by the stream endpoint.",
	})

	IngestOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingests_total",
		Help:      "Uploads by outcome (finalized, aborted, rejected).",
	}, []string{"outcome"})

	BytesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_ingested_total",
		Help:      "Bytes committed by finalized uploads.",
	})

	ChunkFetchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chunk_fetch_seconds",
		Help:      "Latency of single chunk reads from the object store.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	ViewIncrements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "view_increments_total",
		Help:      "View counter increments by result.",
	}, []string{"result"})
)
