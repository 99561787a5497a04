package txn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txBegun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_tx_begun_total",
		Help: "Transações abertas.",
	})
	txCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_tx_committed_total",
		Help: "Transações commitadas.",
	})
	txAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_tx_aborted_total",
		Help: "Transações abortadas (inclui falhas de serialização).",
	})
	txConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_tx_write_conflicts_total",
		Help: "Conflitos escritor-escritor detectados no write.",
	})
)
