package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "context_provider_requests_total",
			Help: "Total number of context provider calls by outcome",
		},
		[]string{"provider", "status"},
	)

	providerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "context_provider_duration_seconds",
			Help:    "Duration of context provider calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "context_broker_query_duration_seconds",
			Help:    "Duration of fan-out queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"search_context"},
	)
)
