package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bobboyms/olap-engine/pkg/catalog"
	"github.com/bobboyms/olap-engine/pkg/executor"
	"github.com/bobboyms/olap-engine/pkg/index"
	"github.com/bobboyms/olap-engine/pkg/planner"
	"github.com/bobboyms/olap-engine/pkg/storage"
	"github.com/bobboyms/olap-engine/pkg/txn"
	"github.com/bobboyms/olap-engine/pkg/wal"
)

// olapd: processo do engine. O servidor TCP/SQL é um colaborador
// externo; aqui sobe o núcleo (WAL + recovery + planner/executor), o
// loop de checkpoint e o endpoint de métricas.

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "olapd",
		Short: "OLAP engine daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	cmd.Flags().String("data-dir", "./data", "diretório de dados (wal + checkpoints)")
	cmd.Flags().Int("metrics-port", 9187, "porta HTTP de métricas (0 desliga)")
	cmd.Flags().Duration("checkpoint-interval", 5*time.Minute, "intervalo entre checkpoints")

	viper.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
	viper.BindPFlag("metrics_port", cmd.Flags().Lookup("metrics-port"))
	viper.BindPFlag("checkpoint_interval", cmd.Flags().Lookup("checkpoint-interval"))
	viper.SetEnvPrefix("olap")
	viper.AutomaticEnv() // OLAP_DATA_DIR, OLAP_METRICS_PORT, OLAP_CHECKPOINT_INTERVAL

	return cmd
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	dataDir := viper.GetString("data_dir")
	walDir := filepath.Join(dataDir, "wal")
	chkDir := filepath.Join(dataDir, "checkpoints")
	if err := os.MkdirAll(chkDir, 0755); err != nil {
		return err
	}

	walOpts := wal.DefaultOptions()
	walOpts.DirPath = walDir
	walWriter, err := wal.NewWALWriter(walOpts, logger)
	if err != nil {
		return err
	}
	defer walWriter.Close()

	txns := txn.NewManager(storage.NewAdapter(), walWriter, logger)
	checkpoints := txn.NewCheckpointManager(chkDir)

	stats, err := txn.Recover(txns, checkpoints, walDir, 0)
	if err != nil {
		return err
	}
	logger.Info("engine recovered",
		zap.Bool("checkpoint", stats.CheckpointLoaded),
		zap.Int("committed_replayed", stats.CommittedReplayed),
		zap.Bool("wal_truncated", stats.Truncated))

	cat := catalog.NewCatalog()
	tableStats := catalog.NewStats()
	registry := index.NewRegistry()
	pl := planner.New(cat, tableStats, registry, planner.DefaultOptions(), logger)
	_ = executor.New(cat, tableStats, registry, txns, pl, nil, logger)

	// Loop de checkpoint em background
	interval := viper.GetDuration("checkpoint_interval")
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := checkpoints.Create(txns); err != nil {
					logger.Error("checkpoint failed", zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()

	if port := viper.GetInt("metrics_port"); port > 0 {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
				logger.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	logger.Info("olapd up", zap.String("data_dir", dataDir))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	close(stop)

	// Checkpoint final antes de sair
	if err := checkpoints.Create(txns); err != nil {
		logger.Error("final checkpoint failed", zap.Error(err))
	}
	logger.Info("olapd shutting down")
	return nil
}
