package vr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	viewChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_vr_view_changes_total",
		Help: "View changes iniciadas por esta réplica.",
	})
	opsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_vr_ops_committed_total",
		Help: "Operações commitadas com quorum na primária.",
	})
)
