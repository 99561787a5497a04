package txn

import (
	stderrors "errors"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/wal"
)

// RecoveryStats resume o que o replay encontrou
type RecoveryStats struct {
	CheckpointLoaded  bool
	CommittedReplayed int
	OrphanedWrites    int // Writes sem Commit correspondente (descartados)
	Truncated         bool
	DataLossFromLSN   uint64
}

// pendingTx acumula as escritas de uma transação durante o replay
type pendingTx struct {
	writes []*wal.WriteRecord
}

// Recover reconstrói o estado commitado: checkpoint + replay do WAL.
// Regras:
//   - Reaplica cada Write cuja transação tem Commit presente no log
//   - Descarta Writes órfãos (transação sem Commit)
//   - Registro com CRC inválido ou comprimento além do EOF trunca o log
//     no seu início; todos os bytes seguintes são descartados
//   - Commits cujos Writes precedem o checkpoint reaplicam de forma
//     idempotente (Put do mesmo valor)
//   - targetTS != 0 ativa PITR: para ANTES do primeiro Commit com
//     commit_ts > targetTS
//
// Deve ser chamado ANTES de qualquer operação concorrente no manager.
func Recover(m *Manager, cm *CheckpointManager, walDir string, targetTS uint64) (*RecoveryStats, error) {
	stats := &RecoveryStats{}

	var maxLSN, maxTS, maxTx uint64

	// 1. Checkpoint, se houver
	if cm != nil {
		meta, err := cm.LoadLatest(m.adapter)
		if err == nil {
			stats.CheckpointLoaded = true
			maxLSN, maxTS, maxTx = meta.LSN, meta.TsWatermark, meta.TxWatermark
			// Estado do checkpoint entra nas correntes como base commitada
			m.seedChainsFromAdapter(meta.TsWatermark)
			m.log.Info("checkpoint loaded",
				zap.Uint64("lsn", meta.LSN),
				zap.Uint64("ts_watermark", meta.TsWatermark))
		} else if !stderrors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	// 2. Replay do WAL
	if _, err := os.Stat(walDir); stderrors.Is(err, os.ErrNotExist) {
		m.setLSN(maxLSN)
		m.setClock(maxTS)
		atomic.StoreUint64(&m.nextTxID, maxTx)
		return stats, nil
	}

	reader, err := wal.NewWALReader(walDir)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	pending := make(map[uint64]*pendingTx)

replay:
	for {
		record, err := reader.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			var corruption *engerrors.WalCorruptionError
			if stderrors.As(err, &corruption) {
				// Trunca no registro ofensor e reporta a janela de perda
				if tErr := wal.TruncateAt(walDir, corruption.Segment, corruption.Offset); tErr != nil {
					return nil, tErr
				}
				stats.Truncated = true
				stats.DataLossFromLSN = maxLSN + 1
				m.log.Warn("wal corruption: log truncated",
					zap.Uint64("segment", corruption.Segment),
					zap.Int64("offset", corruption.Offset),
					zap.Uint64("data_loss_from_lsn", stats.DataLossFromLSN),
					zap.String("reason", corruption.Reason))
				break
			}
			return nil, err
		}

		if record.LSN > maxLSN {
			maxLSN = record.LSN
		}

		switch record.Kind {
		case wal.RecordBegin:
			rec, err := wal.DecodeBegin(record.Payload)
			if err != nil {
				return nil, err
			}
			pending[rec.TxID] = &pendingTx{}
			if rec.TxID > maxTx {
				maxTx = rec.TxID
			}

		case wal.RecordWrite:
			rec, err := wal.DecodeWrite(record.Payload)
			if err != nil {
				return nil, err
			}
			if p, ok := pending[rec.TxID]; ok {
				p.writes = append(p.writes, rec)
			} else {
				// Write sem Begin visível (checkpoint antigo): acumula mesmo assim
				pending[rec.TxID] = &pendingTx{writes: []*wal.WriteRecord{rec}}
			}
			if rec.TxID > maxTx {
				maxTx = rec.TxID
			}

		case wal.RecordCommit:
			rec, err := wal.DecodeCommit(record.Payload)
			if err != nil {
				return nil, err
			}

			// PITR: para antes do primeiro commit além do alvo
			if targetTS != 0 && rec.CommitTS > targetTS {
				break replay
			}

			if p, ok := pending[rec.TxID]; ok {
				for _, w := range p.writes {
					m.installCommitted(w.Key, w.Value, w.TxID, rec.CommitTS, w.Tombstone)
				}
				stats.CommittedReplayed++
				delete(pending, rec.TxID)
			}
			if rec.CommitTS > maxTS {
				maxTS = rec.CommitTS
			}

		case wal.RecordAbort:
			rec, err := wal.DecodeAbort(record.Payload)
			if err != nil {
				return nil, err
			}
			delete(pending, rec.TxID)

		case wal.RecordCheckpoint:
			// O snapshot correspondente já foi carregado (ou é mais antigo
			// que o carregado); o marcador em si não muda estado
		}
	}

	// Writes órfãos: transações sem Commit são descartadas
	for _, p := range pending {
		stats.OrphanedWrites += len(p.writes)
	}

	m.setLSN(maxLSN)
	m.setClock(maxTS)
	atomic.StoreUint64(&m.nextTxID, maxTx)

	m.log.Info("recovery complete",
		zap.Int("committed_replayed", stats.CommittedReplayed),
		zap.Int("orphaned_writes", stats.OrphanedWrites),
		zap.Uint64("lsn", maxLSN),
		zap.Uint64("ts", maxTS))

	// Após o replay, instala um novo marcador de checkpoint com os
	// watermarks altos
	if m.wal != nil {
		rec := &wal.CheckpointRecord{TxWatermark: maxTx, TsWatermark: maxTS}
		if err := m.wal.Append(wal.RecordCheckpoint, m.nextLSN(), rec.Encode(nil)); err != nil {
			return nil, err
		}
		if err := m.wal.Sync(); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

// seedChainsFromAdapter cria correntes de versão-única a partir do estado
// do checkpoint recém-carregado no adapter
func (m *Manager) seedChainsFromAdapter(baseTS uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.adapter.Snapshot()
	m.adapter.ScanAt(snap, nil, func(key, value []byte) bool {
		m.chains.Set(chainItem{
			key: append([]byte(nil), key...),
			versions: []Version{{
				Value:   value,
				BeginTS: baseTS,
				EndTS:   infinity,
			}},
		})
		return true
	})
}
