package wal

import (
	"encoding/binary"
	"fmt"
)

// records.go: taxonomia e payloads tipados dos registros transacionais.
// Campos em ordem fixa, little-endian, slices com prefixo de tamanho u32.

// Tipos de registro (tag kind do frame)
const (
	RecordBegin      uint8 = iota + 1 // 1: Begin(tx_id, snapshot_ts)
	RecordWrite                       // 2: Write(tx_id, key, new_value, prev_len)
	RecordCommit                      // 3: Commit(tx_id, commit_ts)
	RecordAbort                       // 4: Abort(tx_id)
	RecordCheckpoint                  // 5: Checkpoint(tx watermark, ts watermark)
	RecordRotate                      // 6: Marcador de cauda — o log continua no próximo segmento
)

// BeginRecord abre uma transação no log
type BeginRecord struct {
	TxID       uint64
	SnapshotTS uint64
}

// WriteRecord registra a intenção de escrita de uma transação.
// Tombstone marca um DELETE (Value vazio nesse caso).
type WriteRecord struct {
	TxID      uint64
	Key       []byte
	Value     []byte
	PrevLen   uint32 // Tamanho da versão anterior (0 se inexistente)
	Tombstone bool
}

// CommitRecord sela a transação com seu timestamp de commit
type CommitRecord struct {
	TxID     uint64
	CommitTS uint64
}

// AbortRecord encerra a transação descartando suas escritas
type AbortRecord struct {
	TxID uint64
}

// CheckpointRecord marca o ponto a partir do qual o replay pode começar
type CheckpointRecord struct {
	TxWatermark uint64 // Maior tx_id durável até aqui
	TsWatermark uint64 // Maior timestamp durável até aqui
}

func (r *BeginRecord) Encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, r.TxID)
	buf = binary.LittleEndian.AppendUint64(buf, r.SnapshotTS)
	return buf
}

func DecodeBegin(data []byte) (*BeginRecord, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("begin record: payload de %d bytes, esperado 16", len(data))
	}
	return &BeginRecord{
		TxID:       binary.LittleEndian.Uint64(data[0:8]),
		SnapshotTS: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

func (r *WriteRecord) Encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, r.TxID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Key)))
	buf = append(buf, r.Key...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Value)))
	buf = append(buf, r.Value...)
	buf = binary.LittleEndian.AppendUint32(buf, r.PrevLen)
	if r.Tombstone {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func DecodeWrite(data []byte) (*WriteRecord, error) {
	r := &WriteRecord{}
	if len(data) < 8+4 {
		return nil, fmt.Errorf("write record: payload truncado (%d bytes)", len(data))
	}
	r.TxID = binary.LittleEndian.Uint64(data[0:8])
	pos := 8

	keyLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+keyLen > len(data) {
		return nil, fmt.Errorf("write record: key excede payload")
	}
	r.Key = append([]byte(nil), data[pos:pos+keyLen]...)
	pos += keyLen

	if pos+4 > len(data) {
		return nil, fmt.Errorf("write record: payload truncado após key")
	}
	valLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+valLen > len(data) {
		return nil, fmt.Errorf("write record: value excede payload")
	}
	r.Value = append([]byte(nil), data[pos:pos+valLen]...)
	pos += valLen

	if pos+5 > len(data) {
		return nil, fmt.Errorf("write record: payload truncado no sufixo")
	}
	r.PrevLen = binary.LittleEndian.Uint32(data[pos : pos+4])
	r.Tombstone = data[pos+4] == 1
	return r, nil
}

func (r *CommitRecord) Encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, r.TxID)
	buf = binary.LittleEndian.AppendUint64(buf, r.CommitTS)
	return buf
}

func DecodeCommit(data []byte) (*CommitRecord, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("commit record: payload de %d bytes, esperado 16", len(data))
	}
	return &CommitRecord{
		TxID:     binary.LittleEndian.Uint64(data[0:8]),
		CommitTS: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

func (r *AbortRecord) Encode(buf []byte) []byte {
	return binary.LittleEndian.AppendUint64(buf, r.TxID)
}

func DecodeAbort(data []byte) (*AbortRecord, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("abort record: payload de %d bytes, esperado 8", len(data))
	}
	return &AbortRecord{TxID: binary.LittleEndian.Uint64(data)}, nil
}

func (r *CheckpointRecord) Encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, r.TxWatermark)
	buf = binary.LittleEndian.AppendUint64(buf, r.TsWatermark)
	return buf
}

func DecodeCheckpoint(data []byte) (*CheckpointRecord, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("checkpoint record: payload de %d bytes, esperado 16", len(data))
	}
	return &CheckpointRecord{
		TxWatermark: binary.LittleEndian.Uint64(data[0:8]),
		TsWatermark: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}
