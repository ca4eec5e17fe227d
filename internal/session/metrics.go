package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_sessions_active",
		Help: "Number of sessions held in memory",
	})

	evictedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_sessions_evicted_total",
		Help: "Total number of sessions evicted by the sweeper",
	})
)
