// Package metrics exposes Prometheus instrumentation for the replication
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal counts per-site dispatch outcomes.
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replicast_dispatch_total",
		Help: "Replication dispatches by site and outcome.",
	}, []string{"site", "outcome"})

	// BreakerState tracks each site's circuit breaker state
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "replicast_breaker_state",
		Help: "Circuit breaker state per site.",
	}, []string{"site"})

	// InboundWrites counts accepted replica-side writes by resource.
	InboundWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replicast_inbound_writes_total",
		Help: "Accepted inbound replication writes by resource and method.",
	}, []string{"resource", "method"})
)
