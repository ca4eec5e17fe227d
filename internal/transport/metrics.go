package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var heartbeatTimeouts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_heartbeat_timeouts_total",
	Help: "Total number of connections closed for a missed heartbeat",
})
