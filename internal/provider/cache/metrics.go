package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chat_source_cache_lookups_total",
		Help: "Source cache lookups by provider and result",
	},
	[]string{"provider", "result"},
)
