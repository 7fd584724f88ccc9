package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "swarm",
	Subsystem: "retrieval",
	Name:      "cache_requests_total",
	Help:      "Cache lookups by level and outcome.",
}, []string{"level", "outcome"})
