package txn

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/storage"
	"github.com/bobboyms/olap-engine/pkg/wal"
)

const (
	checkpointMagic   = 0x43484B50 // ASCII "CHKP"
	checkpointVersion = 1
)

// checksumTable: Castagnoli, o mesmo polinômio dos frames do WAL
var checksumTable = crc32.MakeTable(crc32.Castagnoli)

// fileChecksum protege snapshots de checkpoint e arquivos de backup
func fileChecksum(data []byte) uint32 {
	return crc32.Checksum(data, checksumTable)
}

// snapshotMeta são os watermarks gravados junto com o snapshot
type snapshotMeta struct {
	TxWatermark uint64
	TsWatermark uint64
	LSN         uint64
}

// encodeSnapshot serializa o estado commitado do adapter:
// header fixo + pares (key, value) com prefixo de tamanho + CRC32 na cauda.
func encodeSnapshot(adapter *storage.Adapter, meta snapshotMeta) []byte {
	buf := make([]byte, 0, 4096)
	buf = binary.LittleEndian.AppendUint32(buf, checkpointMagic)
	buf = binary.LittleEndian.AppendUint16(buf, checkpointVersion)
	buf = binary.LittleEndian.AppendUint64(buf, meta.TxWatermark)
	buf = binary.LittleEndian.AppendUint64(buf, meta.TsWatermark)
	buf = binary.LittleEndian.AppendUint64(buf, meta.LSN)

	count := uint64(0)
	countAt := len(buf)
	buf = binary.LittleEndian.AppendUint64(buf, 0) // placeholder

	snap := adapter.Snapshot()
	adapter.ScanAt(snap, nil, func(key, value []byte) bool {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(key)))
		buf = append(buf, key...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
		buf = append(buf, value...)
		count++
		return true
	})
	binary.LittleEndian.PutUint64(buf[countAt:], count)

	crc := fileChecksum(buf)
	return binary.LittleEndian.AppendUint32(buf, crc)
}

// decodeSnapshot valida o CRC e materializa os pares no adapter
func decodeSnapshot(data []byte, adapter *storage.Adapter) (snapshotMeta, error) {
	var meta snapshotMeta
	if len(data) < 4+2+8+8+8+8+4 {
		return meta, &engerrors.StorageCorruptionError{Key: "checkpoint", Reason: "arquivo curto demais"}
	}

	body := data[:len(data)-4]
	crc := binary.LittleEndian.Uint32(data[len(data)-4:])
	if fileChecksum(body) != crc {
		return meta, &engerrors.StorageCorruptionError{Key: "checkpoint", Reason: "checksum inválido"}
	}

	if binary.LittleEndian.Uint32(body[0:4]) != checkpointMagic {
		return meta, &engerrors.StorageCorruptionError{Key: "checkpoint", Reason: "magic incorreto"}
	}
	meta.TxWatermark = binary.LittleEndian.Uint64(body[6:14])
	meta.TsWatermark = binary.LittleEndian.Uint64(body[14:22])
	meta.LSN = binary.LittleEndian.Uint64(body[22:30])
	count := binary.LittleEndian.Uint64(body[30:38])

	pos := 38
	for i := uint64(0); i < count; i++ {
		if pos+4 > len(body) {
			return meta, &engerrors.StorageCorruptionError{Key: "checkpoint", Reason: "entrada truncada"}
		}
		keyLen := int(binary.LittleEndian.Uint32(body[pos:]))
		pos += 4
		key := body[pos : pos+keyLen]
		pos += keyLen
		valLen := int(binary.LittleEndian.Uint32(body[pos:]))
		pos += 4
		value := body[pos : pos+valLen]
		pos += valLen
		adapter.Put(key, append([]byte(nil), value...))
	}
	return meta, nil
}

// CheckpointManager gerencia a criação e leitura de checkpoints
type CheckpointManager struct {
	basePath string
	mu       sync.Mutex
}

func NewCheckpointManager(basePath string) *CheckpointManager {
	return &CheckpointManager{
		basePath: basePath,
	}
}

// Create grava um checkpoint do estado commitado e registra o marcador
// no WAL. O arquivo vai com write-temp + rename (atômico no mesmo fs).
func (cm *CheckpointManager) Create(m *Manager) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	meta := snapshotMeta{
		TxWatermark: m.currentTxID(),
		TsWatermark: m.NowTS(),
		LSN:         m.currentLSN(),
	}
	data := encodeSnapshot(m.adapter, meta)

	// Nome do arquivo: checkpoint_<LSN>.chk
	filename := fmt.Sprintf("checkpoint_%d.chk", meta.LSN)
	path := filepath.Join(cm.basePath, filename)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file failed: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename file failed: %w", err)
	}

	// Marca no WAL que o replay pode começar daqui
	if m.wal != nil {
		rec := &wal.CheckpointRecord{TxWatermark: meta.TxWatermark, TsWatermark: meta.TsWatermark}
		if err := m.wal.Append(wal.RecordCheckpoint, m.nextLSN(), rec.Encode(nil)); err != nil {
			return err
		}
		if err := m.wal.Sync(); err != nil {
			return err
		}
	}

	// Limpeza de checkpoints antigos (mantém apenas o mais recente)
	return cm.cleanOld(meta.LSN)
}

func (cm *CheckpointManager) cleanOld(keepLSN uint64) error {
	files, err := os.ReadDir(cm.basePath)
	if err != nil {
		return err
	}
	for _, f := range files {
		lsn, ok := parseCheckpointName(f.Name())
		if ok && lsn < keepLSN {
			os.Remove(filepath.Join(cm.basePath, f.Name()))
		}
	}
	return nil
}

// LoadLatest carrega o checkpoint mais recente para o adapter.
// Retorna os watermarks; os.ErrNotExist se não há checkpoint.
func (cm *CheckpointManager) LoadLatest(adapter *storage.Adapter) (snapshotMeta, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	files, err := os.ReadDir(cm.basePath)
	if err != nil {
		return snapshotMeta{}, err
	}

	var best string
	var bestLSN uint64
	found := false
	for _, f := range files {
		if lsn, ok := parseCheckpointName(f.Name()); ok {
			if !found || lsn > bestLSN {
				best, bestLSN, found = f.Name(), lsn, true
			}
		}
	}
	if !found {
		return snapshotMeta{}, os.ErrNotExist
	}

	data, err := os.ReadFile(filepath.Join(cm.basePath, best))
	if err != nil {
		return snapshotMeta{}, err
	}
	return decodeSnapshot(data, adapter)
}

func parseCheckpointName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "checkpoint_") || !strings.HasSuffix(name, ".chk") {
		return 0, false
	}
	lsnStr := strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint_"), ".chk")
	lsn, err := strconv.ParseUint(lsnStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return lsn, true
}

// currentTxID lê o contador de transações
func (m *Manager) currentTxID() uint64 {
	return atomic.LoadUint64(&m.nextTxID)
}
