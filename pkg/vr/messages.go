package vr

import (
	"encoding/binary"
	"fmt"
)

// messages.go: codec binário do protocolo. Cada mensagem é um frame com
// tag de tipo no primeiro byte e campos em ordem fixa, little-endian,
// slices com prefixo de tamanho u32. Mensagens são idempotentes no
// nível (view, op_number).

const (
	msgRequest uint8 = iota + 1
	msgPrepare
	msgPrepareOk
	msgCommit
	msgStartViewChange
	msgDoViewChange
	msgStartView
	msgGetState
	msgNewState
	msgHeartbeat
)

// Message é a união das mensagens do protocolo; apenas os campos da
// variante ativa são significativos.
type Message struct {
	Kind uint8

	View          uint64
	OpNumber      uint64
	CommitNumber  uint64
	NodeID        uint64
	TS            uint64
	LastNormal    uint64 // DoViewChange: última view em operação normal
	ClientID      string
	RequestNumber uint64
	Payload       []byte

	Log     []Operation  // DoViewChange/StartView/NewState
	Entries []stateEntry // NewState para RECOVERING
}

// Encode serializa a mensagem no formato do fio
func (m *Message) Encode() []byte {
	buf := []byte{m.Kind}
	buf = binary.LittleEndian.AppendUint64(buf, m.View)
	buf = binary.LittleEndian.AppendUint64(buf, m.OpNumber)
	buf = binary.LittleEndian.AppendUint64(buf, m.CommitNumber)
	buf = binary.LittleEndian.AppendUint64(buf, m.NodeID)
	buf = binary.LittleEndian.AppendUint64(buf, m.TS)
	buf = binary.LittleEndian.AppendUint64(buf, m.LastNormal)
	buf = appendBytes(buf, []byte(m.ClientID))
	buf = binary.LittleEndian.AppendUint64(buf, m.RequestNumber)
	buf = appendBytes(buf, m.Payload)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Log)))
	for _, op := range m.Log {
		buf = appendBytes(buf, []byte(op.ClientID))
		buf = binary.LittleEndian.AppendUint64(buf, op.RequestNumber)
		buf = appendBytes(buf, op.Payload)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Entries)))
	for _, e := range m.Entries {
		buf = appendBytes(buf, e.Key)
		buf = appendBytes(buf, e.Value)
	}
	return buf
}

// DecodeMessage reconstrói a mensagem a partir do frame
func DecodeMessage(data []byte) (*Message, error) {
	r := &byteReader{data: data}
	kind, err := r.u8()
	if err != nil {
		return nil, err
	}
	m := &Message{Kind: kind}

	if m.View, err = r.u64(); err != nil {
		return nil, err
	}
	if m.OpNumber, err = r.u64(); err != nil {
		return nil, err
	}
	if m.CommitNumber, err = r.u64(); err != nil {
		return nil, err
	}
	if m.NodeID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.TS, err = r.u64(); err != nil {
		return nil, err
	}
	if m.LastNormal, err = r.u64(); err != nil {
		return nil, err
	}
	clientID, err := r.bytes()
	if err != nil {
		return nil, err
	}
	m.ClientID = string(clientID)
	if m.RequestNumber, err = r.u64(); err != nil {
		return nil, err
	}
	if m.Payload, err = r.bytes(); err != nil {
		return nil, err
	}

	logLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < logLen; i++ {
		var op Operation
		cid, err := r.bytes()
		if err != nil {
			return nil, err
		}
		op.ClientID = string(cid)
		if op.RequestNumber, err = r.u64(); err != nil {
			return nil, err
		}
		if op.Payload, err = r.bytes(); err != nil {
			return nil, err
		}
		m.Log = append(m.Log, op)
	}

	entryLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < entryLen; i++ {
		var e stateEntry
		if e.Key, err = r.bytes(); err != nil {
			return nil, err
		}
		if e.Value, err = r.bytes(); err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, e)
	}
	return m, nil
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) u8() (uint8, error) {
	if r.pos+1 > len(r.data) {
		return 0, fmt.Errorf("vr: frame truncado")
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("vr: frame truncado")
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("vr: frame truncado")
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.data) {
		return nil, fmt.Errorf("vr: frame truncado")
	}
	v := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	if len(v) == 0 {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}
