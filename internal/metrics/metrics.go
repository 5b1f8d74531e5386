// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsTotal counts inbound signals by event kind.
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "signals_total",
		Help:      "Inbound signals by event kind",
	}, []string{"event"})

	// RejectedTotal counts blocked/rejected signal outcomes by reason.
	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "rejected_total",
		Help:      "Blocked or rejected signals by reason code",
	}, []string{"reason"})

	// ExecutionsTotal counts execution status transitions.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "executions_total",
		Help:      "Execution lifecycle transitions by resulting status",
	}, []string{"status"})

	// LockContentionTotal counts failed lock acquisitions by purpose.
	LockContentionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "lock_contention_total",
		Help:      "Lock acquisitions rejected by an existing holder",
	}, []string{"purpose"})
)
