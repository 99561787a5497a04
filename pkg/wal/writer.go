package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SegmentName formata o nome de um segmento de log
func SegmentName(seq uint64) string {
	return fmt.Sprintf("wal_%06d.log", seq)
}

// ParseSegmentName extrai o número de sequência de um nome de segmento
func ParseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "wal_") || !strings.HasSuffix(name, ".log") {
		return 0, false
	}
	seqStr := strings.TrimSuffix(strings.TrimPrefix(name, "wal_"), ".log")
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// SegmentFiles lista os segmentos existentes no diretório, ordenados por sequência
func SegmentFiles(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var seqs []uint64
	for _, e := range entries {
		if seq, ok := ParseSegmentName(e.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// framePool recicla os buffers de montagem de frame entre Appends,
// evitando uma alocação por registro no caminho quente de escrita
var framePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, FrameHeaderSize+4096)
		return &buf
	},
}

// WALWriter gerencia a escrita no log segmentado.
// Registros nunca são divididos entre arquivos: quando o segmento ativo
// atinge o limite, escrevemos um RecordRotate e abrimos o próximo.
type WALWriter struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	options Options
	log     *zap.Logger

	seq         uint64 // Sequência do segmento ativo
	segmentSize int64  // Bytes escritos no segmento ativo

	// Estado para Batching
	batchBytes int64 // Bytes escritos desde o último sync

	// Controle de Threads
	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// NewWALWriter abre (ou cria) o log no diretório dado, continuando
// no último segmento existente.
func NewWALWriter(opts Options, log *zap.Logger) (*WALWriter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(opts.DirPath, 0755); err != nil {
		return nil, fmt.Errorf("falha ao criar diretório WAL: %w", err)
	}

	seqs, err := SegmentFiles(opts.DirPath)
	if err != nil {
		return nil, err
	}
	seq := uint64(1)
	if len(seqs) > 0 {
		seq = seqs[len(seqs)-1]
	}

	path := filepath.Join(opts.DirPath, SegmentName(seq))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("falha ao abrir arquivo WAL: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &WALWriter{
		file:        f,
		writer:      bufio.NewWriterSize(f, opts.BufferSize),
		options:     opts,
		log:         log,
		seq:         seq,
		segmentSize: info.Size(),
		done:        make(chan struct{}),
	}

	// Inicia rotina de background sync se necessário
	if opts.SyncPolicy == SyncInterval {
		w.ticker = time.NewTicker(opts.SyncIntervalDuration)
		go w.backgroundSync()
	}

	return w, nil
}

// Dir retorna o diretório dos segmentos
func (w *WALWriter) Dir() string {
	return w.options.DirPath
}

// ActiveSegment retorna a sequência do segmento ativo
func (w *WALWriter) ActiveSegment() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Append enquadra e escreve um registro no log. O LSN é atribuído pelo
// chamador (o transaction manager é o dono da ordem total).
func (w *WALWriter) Append(kind uint8, lsn uint64, payload []byte) error {
	bufPtr := framePool.Get().(*[]byte)
	frame := appendFrame((*bufPtr)[:0], kind, lsn, payload)

	err := w.writeFrame(frame)

	*bufPtr = frame[:0] // Devolve mantendo a capacidade
	framePool.Put(bufPtr)
	return err
}

// writeFrame escreve os bytes do frame, rotacionando o segmento se preciso
func (w *WALWriter) writeFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Rotação: registros nunca atravessam arquivos
	if w.segmentSize > 0 && w.segmentSize+int64(len(frame)) > w.options.SegmentSizeLimit {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := w.writer.Write(frame)
	if err != nil {
		return err
	}

	w.segmentSize += int64(n)
	w.batchBytes += int64(n)
	walAppends.Inc()

	// Aplica política de Sync
	switch w.options.SyncPolicy {
	case SyncEveryWrite:
		return w.syncLocked()

	case SyncBatch:
		if w.batchBytes >= w.options.SyncBatchBytes {
			return w.syncLocked()
		}
	}

	return nil
}

// rotateLocked escreve o marcador de cauda e abre o próximo segmento
func (w *WALWriter) rotateLocked() error {
	tail := appendFrame(nil, RecordRotate, 0, nil)
	if _, err := w.writer.Write(tail); err != nil {
		return err
	}

	if err := w.syncLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	w.seq++
	path := filepath.Join(w.options.DirPath, SegmentName(w.seq))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("falha ao abrir novo segmento WAL: %w", err)
	}

	w.file = f
	w.writer = bufio.NewWriterSize(f, w.options.BufferSize)
	w.segmentSize = 0
	walRotations.Inc()
	w.log.Info("wal segment rotated", zap.Uint64("segment", w.seq))
	return nil
}

// Sync força a persistência em disco
func (w *WALWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WALWriter) syncLocked() error {
	// Flush do buffer para o descritor de arquivo
	if err := w.writer.Flush(); err != nil {
		return err
	}

	// fsync do arquivo físico
	if err := w.file.Sync(); err != nil {
		return err
	}

	w.batchBytes = 0
	walSyncs.Inc()
	return nil
}

// Close fecha o arquivo e encerra rotinas
func (w *WALWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}

	// Último flush
	if err := w.syncLocked(); err != nil {
		w.file.Close() // Try to close anyway
		return err
	}

	return w.file.Close()
}

func (w *WALWriter) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			w.Sync() // Thread-safe
		case <-w.done:
			return
		}
	}
}
