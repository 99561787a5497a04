package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	walAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_wal_appends_total",
		Help: "Total de registros escritos no WAL.",
	})
	walSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_wal_syncs_total",
		Help: "Total de fsyncs do WAL.",
	})
	walRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_wal_rotations_total",
		Help: "Total de rotações de segmento.",
	})
	walCorruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_wal_corruptions_total",
		Help: "Registros corrompidos encontrados durante leitura; o log é truncado no registro ofensor.",
	})
)
