package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
)

// WALReader lê registros do log segmentado sequencialmente.
// Corrupção (CRC, magic, truncamento) é reportada como WalCorruptionError
// com o segmento e o offset do registro ofensor — o recovery trunca ali.
type WALReader struct {
	dir    string
	seqs   []uint64
	idx    int
	file   *os.File
	offset int64
}

// NewWALReader cria um leitor para o diretório de log
func NewWALReader(dir string) (*WALReader, error) {
	seqs, err := SegmentFiles(dir)
	if err != nil {
		return nil, err
	}
	return &WALReader{dir: dir, seqs: seqs, idx: -1}, nil
}

// Segment retorna a sequência do segmento sendo lido (0 antes da primeira leitura)
func (r *WALReader) Segment() uint64 {
	if r.idx < 0 || r.idx >= len(r.seqs) {
		return 0
	}
	return r.seqs[r.idx]
}

// Offset retorna o offset corrente dentro do segmento ativo
func (r *WALReader) Offset() int64 {
	return r.offset
}

func (r *WALReader) nextSegment() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	r.idx++
	if r.idx >= len(r.seqs) {
		return io.EOF
	}
	path := filepath.Join(r.dir, SegmentName(r.seqs[r.idx]))
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	r.file = f
	r.offset = 0
	return nil
}

func (r *WALReader) corruption(start int64, reason string) error {
	walCorruptions.Inc()
	return &engerrors.WalCorruptionError{
		Segment: r.Segment(),
		Offset:  start,
		Reason:  reason,
	}
}

// ReadRecord lê o próximo registro do log.
// Retorna io.EOF quando não há mais dados.
func (r *WALReader) ReadRecord() (*Record, error) {
	if r.file == nil {
		if err := r.nextSegment(); err != nil {
			return nil, err
		}
	}

	frameStart := r.offset

	// 1. Prefixo do frame
	headerBuf := make([]byte, FrameHeaderSize)
	_, err := io.ReadFull(r.file, headerBuf)
	if err == io.EOF {
		// Fim limpo do segmento: tenta o próximo
		if segErr := r.nextSegment(); segErr != nil {
			return nil, segErr
		}
		return r.ReadRecord()
	}
	if err != nil {
		// Prefixo parcial: registro rasgado no fim do arquivo
		return nil, r.corruption(frameStart, "header truncado")
	}

	header, err := parseFrameHeader(headerBuf)
	if err != nil {
		return nil, r.corruption(frameStart, err.Error())
	}

	// Marcador de rotação: o log continua no próximo segmento
	if header.kind == RecordRotate {
		if segErr := r.nextSegment(); segErr != nil {
			return nil, segErr
		}
		return r.ReadRecord()
	}

	// 2. Payload
	var payload []byte
	if header.payloadLen > 0 {
		payload = make([]byte, header.payloadLen)
		if _, err := io.ReadFull(r.file, payload); err != nil {
			return nil, r.corruption(frameStart, "payload truncado")
		}
	}

	// 3. Checksum sobre kind + LSN + payload
	if !header.verify(payload) {
		return nil, r.corruption(frameStart, "checksum inválido")
	}

	r.offset += int64(FrameHeaderSize) + int64(header.payloadLen)
	return &Record{
		Kind:    header.kind,
		LSN:     header.lsn,
		Payload: payload,
	}, nil
}

// Close fecha o arquivo ativo
func (r *WALReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// TruncateAt descarta o registro ofensor e TODOS os bytes seguintes do log:
// trunca o segmento no offset dado e remove segmentos posteriores.
func TruncateAt(dir string, segment uint64, offset int64) error {
	seqs, err := SegmentFiles(dir)
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		path := filepath.Join(dir, SegmentName(seq))
		if seq == segment {
			if err := os.Truncate(path, offset); err != nil {
				return fmt.Errorf("falha ao truncar segmento %d: %w", seq, err)
			}
		} else if seq > segment {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("falha ao remover segmento %d: %w", seq, err)
			}
		}
	}
	return nil
}
