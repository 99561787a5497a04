package txn

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"
	"go.uber.org/zap"

	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/storage"
	"github.com/bobboyms/olap-engine/pkg/wal"
)

// Version é um elo da corrente de versões de uma chave.
// Visibilidade para um leitor com snapshot S: begin_ts <= S < end_ts.
// Versão pendente (não-commitada) tem begin_ts == infinity.
type Version struct {
	Value     []byte
	WriterTx  uint64
	BeginTS   uint64
	EndTS     uint64 // infinity enquanto viva
	Tombstone bool
}

// chainItem guarda a corrente de uma chave, mais nova primeiro
type chainItem struct {
	key      []byte
	versions []Version
}

func chainLess(a, b chainItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Manager é o transaction manager MVCC (C8). Leituras resolvem a
// visibilidade por snapshot e só seguram o mutex global durante a busca
// na árvore de correntes; escritas passam por uma seção crítica curta em
// torno da instalação do write-set. Deadlock de leitura é impossível;
// conflito de escrita aborta o escritor mais tardio.
type Manager struct {
	mu     sync.Mutex // Seção crítica de instalação de versões
	chains *btree.BTreeG[chainItem]

	adapter  *storage.Adapter
	wal      *wal.WALWriter
	registry *Registry
	log      *zap.Logger

	nextTxID uint64 // atomic
	clock    uint64 // atomic: relógio lógico de timestamps
	lsn      uint64 // atomic: Log Sequence Number do WAL
}

// NewManager monta o manager sobre o adapter e o WAL dados.
// walWriter pode ser nil (modo memória, usado em testes de kernel).
func NewManager(adapter *storage.Adapter, walWriter *wal.WALWriter, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		chains:   btree.NewBTreeG(chainLess),
		adapter:  adapter,
		wal:      walWriter,
		registry: NewRegistry(),
		log:      log,
	}
}

// Adapter expõe o storage para checkpoint/backup
func (m *Manager) Adapter() *storage.Adapter {
	return m.adapter
}

// NowTS retorna o timestamp lógico corrente
func (m *Manager) NowTS() uint64 {
	return atomic.LoadUint64(&m.clock)
}

// nextLSN aloca o próximo Log Sequence Number (ordem total do WAL)
func (m *Manager) nextLSN() uint64 {
	return atomic.AddUint64(&m.lsn, 1)
}

// currentLSN lê o LSN corrente
func (m *Manager) currentLSN() uint64 {
	return atomic.LoadUint64(&m.lsn)
}

// setLSN instala o LSN no recovery
func (m *Manager) setLSN(val uint64) {
	atomic.StoreUint64(&m.lsn, val)
}

func (m *Manager) nextTS() uint64 {
	return atomic.AddUint64(&m.clock, 1)
}

// setClock instala o relógio no recovery
func (m *Manager) setClock(ts uint64) {
	atomic.StoreUint64(&m.clock, ts)
}

// Begin abre uma transação com o nível de isolamento dado
func (m *Manager) Begin(iso Isolation) (*Transaction, error) {
	tx := &Transaction{
		ID:         atomic.AddUint64(&m.nextTxID, 1),
		SnapshotTS: m.NowTS(),
		Status:     StatusActive,
		Isolation:  iso,
		writeSet:   make(map[string]*writeIntent),
		readSet:    make(map[readEntry]struct{}),
		mgr:        m,
	}
	m.registry.Register(tx)

	if m.wal != nil {
		rec := &wal.BeginRecord{TxID: tx.ID, SnapshotTS: tx.SnapshotTS}
		if err := m.wal.Append(wal.RecordBegin, m.nextLSN(), rec.Encode(nil)); err != nil {
			m.registry.Unregister(tx)
			return nil, err
		}
	}
	txBegun.Inc()
	return tx, nil
}

// readSnapshot resolve o snapshot efetivo da leitura conforme o isolamento
func (tx *Transaction) readSnapshot() uint64 {
	switch tx.Isolation {
	case ReadCommitted:
		// Snapshot por statement: o "agora" de cada leitura
		return tx.mgr.NowTS()
	default:
		return tx.SnapshotTS
	}
}

// Read localiza a versão visível da chave sob a regra do isolamento.
// Retorna (nil, false, nil) quando a chave não existe para este snapshot.
func (m *Manager) Read(tx *Transaction, key []byte) ([]byte, bool, error) {
	if tx.Status != StatusActive {
		return nil, false, &engerrors.TxNotActiveError{TxID: tx.ID, Status: tx.Status.String()}
	}

	// Read-your-writes: o write-set da própria transação vence
	tx.mu.Lock()
	if intent, ok := tx.writeSet[string(key)]; ok {
		tx.mu.Unlock()
		if intent.tombstone {
			return nil, false, nil
		}
		return intent.value, true, nil
	}
	tx.mu.Unlock()

	m.mu.Lock()
	item, found := m.chains.Get(chainItem{key: key})
	m.mu.Unlock()

	var value []byte
	var visible bool
	var writerTx uint64

	if found {
		if tx.Isolation == ReadUncommitted {
			// Última versão, commitada ou não
			v := item.versions[0]
			if !v.Tombstone {
				value, visible, writerTx = v.Value, true, v.WriterTx
			}
		} else {
			snap := tx.readSnapshot()
			for _, v := range item.versions {
				if v.BeginTS == infinity {
					continue // Pendente de outra transação
				}
				if v.BeginTS <= snap && snap < v.EndTS {
					if !v.Tombstone {
						value, visible, writerTx = v.Value, true, v.WriterTx
					}
					break
				}
			}
		}
	}

	// Read-set para validação (Serializable) e invariantes (RepeatableRead)
	if tx.Isolation == Serializable || tx.Isolation == RepeatableRead {
		tx.mu.Lock()
		tx.readSet[readEntry{key: string(key), writerTx: writerTx}] = struct{}{}
		tx.mu.Unlock()
	}

	return value, visible, nil
}

// Write registra a intenção de escrita. Se outra transação ativa ou em
// prepare detém a versão pendente mais nova, falha com WriteConflict —
// o escritor mais tardio perde.
func (m *Manager) Write(tx *Transaction, key, value []byte) error {
	return m.write(tx, key, value, false)
}

// Delete escreve um tombstone
func (m *Manager) Delete(tx *Transaction, key []byte) error {
	return m.write(tx, key, nil, true)
}

func (m *Manager) write(tx *Transaction, key, value []byte, tombstone bool) error {
	if tx.Status != StatusActive {
		return &engerrors.TxNotActiveError{TxID: tx.ID, Status: tx.Status.String()}
	}

	m.mu.Lock()
	item, found := m.chains.Get(chainItem{key: key})

	var prevLen uint32
	if found && len(item.versions) > 0 {
		head := item.versions[0]
		if head.BeginTS == infinity && head.WriterTx != tx.ID {
			m.mu.Unlock()
			txConflicts.Inc()
			return &engerrors.WriteConflictError{TxID: tx.ID, Key: string(key)}
		}
		if head.BeginTS != infinity && !head.Tombstone {
			prevLen = uint32(len(head.Value))
		}
	}

	// Instala (ou substitui) a versão pendente desta transação
	pending := Version{
		Value:     value,
		WriterTx:  tx.ID,
		BeginTS:   infinity,
		EndTS:     infinity,
		Tombstone: tombstone,
	}
	if found && len(item.versions) > 0 && item.versions[0].WriterTx == tx.ID && item.versions[0].BeginTS == infinity {
		item.versions[0] = pending
	} else {
		item.key = append([]byte(nil), key...)
		item.versions = append([]Version{pending}, item.versions...)
	}
	m.chains.Set(item)
	m.mu.Unlock()

	tx.mu.Lock()
	tx.writeSet[string(key)] = &writeIntent{value: value, prevLen: prevLen, tombstone: tombstone}
	tx.mu.Unlock()

	if m.wal != nil {
		rec := &wal.WriteRecord{
			TxID:      tx.ID,
			Key:       key,
			Value:     value,
			PrevLen:   prevLen,
			Tombstone: tombstone,
		}
		if err := m.wal.Append(wal.RecordWrite, m.nextLSN(), rec.Encode(nil)); err != nil {
			return err
		}
	}
	return nil
}

// validateSerializable executa a validação SSI: nenhuma leitura do
// read-set pode ter sido sobrescrita por um commit no intervalo
// (snapshot_ts, agora].
func (m *Manager) validateSerializable(tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for entry := range tx.readSet {
		item, found := m.chains.Get(chainItem{key: []byte(entry.key)})
		if !found {
			continue
		}
		for _, v := range item.versions {
			if v.BeginTS == infinity || v.WriterTx == tx.ID {
				continue
			}
			// Versão commitada depois do nosso snapshot sobre uma chave
			// que lemos: a leitura está obsoleta
			if v.BeginTS > tx.SnapshotTS && v.WriterTx != entry.writerTx {
				return &engerrors.SerializationFailureError{TxID: tx.ID, Key: entry.key}
			}
			break // Só a versão commitada mais nova importa
		}
	}
	return nil
}

// Commit finaliza a transação: Preparing -> validação -> WAL Commit
// durável -> instalação atômica dos begin_ts -> Committed.
func (m *Manager) Commit(tx *Transaction) error {
	if tx.Status != StatusActive {
		return &engerrors.TxNotActiveError{TxID: tx.ID, Status: tx.Status.String()}
	}
	tx.Status = StatusPreparing

	if tx.Isolation == Serializable {
		if err := m.validateSerializable(tx); err != nil {
			m.rollback(tx)
			if m.wal != nil {
				rec := &wal.AbortRecord{TxID: tx.ID}
				m.wal.Append(wal.RecordAbort, m.nextLSN(), rec.Encode(nil))
			}
			tx.Status = StatusAborted
			m.registry.Unregister(tx)
			txAborted.Inc()
			return err
		}
	}

	commitTS := m.nextTS()

	// Durabilidade ANTES de visibilidade: Commit no WAL + fsync
	if m.wal != nil {
		rec := &wal.CommitRecord{TxID: tx.ID, CommitTS: commitTS}
		if err := m.wal.Append(wal.RecordCommit, m.nextLSN(), rec.Encode(nil)); err != nil {
			return err
		}
		if err := m.wal.Sync(); err != nil {
			return err
		}
	}

	// Instalação atômica: begin_ts das versões pendentes = commit_ts
	m.mu.Lock()
	tx.mu.Lock()
	for key, intent := range tx.writeSet {
		item, found := m.chains.Get(chainItem{key: []byte(key)})
		if !found {
			continue
		}
		for i := range item.versions {
			if item.versions[i].WriterTx == tx.ID && item.versions[i].BeginTS == infinity {
				item.versions[i].BeginTS = commitTS
				// Fecha a validade da versão anterior
				if i+1 < len(item.versions) {
					item.versions[i+1].EndTS = commitTS
				}
				break
			}
		}
		m.chains.Set(item)

		// Materializa o estado commitado no storage adapter
		if intent.tombstone {
			m.adapter.Delete([]byte(key))
		} else {
			m.adapter.Put([]byte(key), intent.value)
		}
	}
	tx.mu.Unlock()
	m.mu.Unlock()

	tx.CommitTS = commitTS
	tx.Status = StatusCommitted
	m.registry.Unregister(tx)
	txCommitted.Inc()
	return nil
}

// Abort descarta a transação e suas versões pendentes
func (m *Manager) Abort(tx *Transaction) error {
	if tx.Status != StatusActive && tx.Status != StatusPreparing {
		return &engerrors.TxNotActiveError{TxID: tx.ID, Status: tx.Status.String()}
	}

	m.rollback(tx)

	if m.wal != nil {
		rec := &wal.AbortRecord{TxID: tx.ID}
		if err := m.wal.Append(wal.RecordAbort, m.nextLSN(), rec.Encode(nil)); err != nil {
			return err
		}
	}

	tx.Status = StatusAborted
	m.registry.Unregister(tx)
	txAborted.Inc()
	return nil
}

// rollback remove as versões pendentes da transação das correntes
func (m *Manager) rollback(tx *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx.mu.Lock()
	defer tx.mu.Unlock()

	for key := range tx.writeSet {
		item, found := m.chains.Get(chainItem{key: []byte(key)})
		if !found {
			continue
		}
		kept := item.versions[:0]
		for _, v := range item.versions {
			if v.WriterTx == tx.ID && v.BeginTS == infinity {
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == 0 {
			m.chains.Delete(item)
		} else {
			item.versions = kept
			m.chains.Set(item)
		}
	}
}

// ScanVisible percorre em ordem as chaves com o prefixo, entregando a
// versão visível sob o snapshot dado. Tombstones são pulados.
func (m *Manager) ScanVisible(tx *Transaction, prefix []byte, fn func(key, value []byte) bool) {
	snap := tx.readSnapshot()
	uncommitted := tx.Isolation == ReadUncommitted

	// Cópia COW da árvore de correntes: o scan não segura o lock global
	m.mu.Lock()
	tree := m.chains.Copy()
	m.mu.Unlock()

	tx.mu.Lock()
	writeSet := make(map[string]*writeIntent, len(tx.writeSet))
	for k, v := range tx.writeSet {
		writeSet[k] = v
	}
	tx.mu.Unlock()

	tree.Ascend(chainItem{key: prefix}, func(item chainItem) bool {
		if !bytes.HasPrefix(item.key, prefix) {
			return false
		}

		// Read-your-writes também em scans
		if intent, ok := writeSet[string(item.key)]; ok {
			if intent.tombstone {
				return true
			}
			return fn(item.key, intent.value)
		}

		for _, v := range item.versions {
			if v.BeginTS == infinity {
				if uncommitted && !v.Tombstone {
					return fn(item.key, v.Value)
				}
				continue
			}
			if uncommitted || (v.BeginTS <= snap && snap < v.EndTS) {
				if v.Tombstone {
					return true
				}
				return fn(item.key, v.Value)
			}
			if uncommitted {
				return true
			}
		}
		return true
	})
}

// Vacuum remove versões mortas que nenhuma transação ativa enxerga:
// end_ts < menor snapshot ativo. A versão mais nova de cada corrente
// nunca sai.
func (m *Manager) Vacuum() int {
	minTS := m.registry.MinActiveTS()
	if minTS == infinity {
		minTS = m.NowTS()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	var dead [][]byte
	var updated []chainItem

	m.chains.Scan(func(item chainItem) bool {
		kept := make([]Version, 0, len(item.versions))
		for i, v := range item.versions {
			if i > 0 && v.EndTS != infinity && v.EndTS < minTS {
				removed++
				continue
			}
			kept = append(kept, v)
		}

		// Corrente que virou só um tombstone antigo pode sumir inteira
		if len(kept) == 1 && kept[0].Tombstone && kept[0].BeginTS != infinity && kept[0].BeginTS < minTS {
			dead = append(dead, item.key)
			removed++
			return true
		}
		if len(kept) != len(item.versions) {
			updated = append(updated, chainItem{key: item.key, versions: kept})
		}
		return true
	})

	for _, item := range updated {
		m.chains.Set(item)
	}
	for _, key := range dead {
		m.chains.Delete(chainItem{key: key})
	}

	if removed > 0 {
		m.log.Info("vacuum pruned dead versions",
			zap.Int("removed", removed),
			zap.Uint64("min_active_ts", minTS))
	}
	return removed
}

// installCommitted injeta uma versão commitada diretamente (replay do WAL
// e state transfer da replicação). Não passa pelo caminho transacional.
func (m *Manager) installCommitted(key, value []byte, writerTx, commitTS uint64, tombstone bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, found := m.chains.Get(chainItem{key: key})
	if !found {
		item = chainItem{key: append([]byte(nil), key...)}
	}
	if len(item.versions) > 0 && item.versions[0].EndTS == infinity && item.versions[0].BeginTS != infinity {
		item.versions[0].EndTS = commitTS
	}
	item.versions = append([]Version{{
		Value:     value,
		WriterTx:  writerTx,
		BeginTS:   commitTS,
		EndTS:     infinity,
		Tombstone: tombstone,
	}}, item.versions...)
	m.chains.Set(item)

	if tombstone {
		m.adapter.Delete(key)
	} else {
		m.adapter.Put(key, value)
	}
}
