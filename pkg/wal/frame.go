package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// frame.go: enquadramento físico do log. Cada registro vai ao disco como
//
//	magic(4) | version(1) | kind(1) | lsn(8) | payload_len(4) | crc(4) | payload
//
// O CRC (Castagnoli) cobre kind, LSN e payload — um header rasgado
// invalida o registro tanto quanto um payload rasgado. Registros nunca
// atravessam segmentos.

const (
	frameMagic   = 0x4F4C4150 // ASCII "OLAP"
	frameVersion = 1

	// FrameHeaderSize é o prefixo fixo de cada registro
	FrameHeaderSize = 4 + 1 + 1 + 8 + 4 + 4
)

// maxPayloadLen protege contra interpretar lixo como tamanho
const maxPayloadLen = 1 << 30 // 1GB

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Record é um registro decodificado do log
type Record struct {
	Kind    uint8
	LSN     uint64
	Payload []byte
}

// frameCRC calcula o checksum de um registro (kind + LSN + payload)
func frameCRC(kind uint8, lsn uint64, payload []byte) uint32 {
	var meta [9]byte
	meta[0] = kind
	binary.LittleEndian.PutUint64(meta[1:], lsn)
	crc := crc32.Update(0, crcTable, meta[:])
	return crc32.Update(crc, crcTable, payload)
}

// appendFrame serializa o registro completo no buffer
func appendFrame(buf []byte, kind uint8, lsn uint64, payload []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, frameMagic)
	buf = append(buf, frameVersion, kind)
	buf = binary.LittleEndian.AppendUint64(buf, lsn)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = binary.LittleEndian.AppendUint32(buf, frameCRC(kind, lsn, payload))
	return append(buf, payload...)
}

// frameHeader é o prefixo decodificado, ainda sem o payload
type frameHeader struct {
	kind       uint8
	lsn        uint64
	payloadLen uint32
	crc        uint32
}

// parseFrameHeader valida magic/version/tamanho e decodifica o prefixo
func parseFrameHeader(buf []byte) (frameHeader, error) {
	var h frameHeader
	if binary.LittleEndian.Uint32(buf[0:4]) != frameMagic {
		return h, fmt.Errorf("magic number incorreto")
	}
	if buf[4] != frameVersion {
		return h, fmt.Errorf("versão de formato desconhecida: %d", buf[4])
	}
	h.kind = buf[5]
	h.lsn = binary.LittleEndian.Uint64(buf[6:14])
	h.payloadLen = binary.LittleEndian.Uint32(buf[14:18])
	h.crc = binary.LittleEndian.Uint32(buf[18:22])
	if h.payloadLen > maxPayloadLen {
		return h, fmt.Errorf("payload de %d bytes excede o limite", h.payloadLen)
	}
	return h, nil
}

// verify confere o checksum do registro completo
func (h frameHeader) verify(payload []byte) bool {
	return frameCRC(h.kind, h.lsn, payload) == h.crc
}
