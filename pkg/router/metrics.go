package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "router",
		Name:      "requests_total",
		Help:      "Routed requests by role and outcome.",
	}, []string{"role", "outcome"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "router",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker transitions by resulting state.",
	}, []string{"state"})
)
