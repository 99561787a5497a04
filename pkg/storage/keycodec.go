package storage

import (
	"encoding/binary"
	"math"

	"github.com/bobboyms/olap-engine/pkg/types"
)

// keycodec.go: codificação de chaves preservando ordem.
// Um scan ordenado no KV precisa que a ordem dos bytes coincida com a
// ordem lógica dos valores, então inteiros viram big-endian com bit de
// sinal invertido e floats usam o truque clássico de complemento.

// Tags de tipo no primeiro byte da chave. NULL ordena antes de tudo.
const (
	keyTagNull    byte = 0x01
	keyTagInt     byte = 0x02
	keyTagFloat   byte = 0x03
	keyTagText    byte = 0x04
	keyTagBoolean byte = 0x05
)

// RowKey monta a chave física de uma linha: t/<tabela>/<pk codificada>
func RowKey(table string, pk types.Value) []byte {
	buf := TablePrefix(table)
	return EncodeValue(buf, pk)
}

// TablePrefix retorna o prefixo de scan de uma tabela
func TablePrefix(table string) []byte {
	buf := make([]byte, 0, len(table)+4)
	buf = append(buf, 't', '/')
	buf = append(buf, table...)
	buf = append(buf, '/')
	return buf
}

// EncodeValue anexa a codificação order-preserving do valor ao buffer
func EncodeValue(buf []byte, v types.Value) []byte {
	switch v.Kind {
	case types.KindNull:
		return append(buf, keyTagNull)
	case types.KindInteger:
		buf = append(buf, keyTagInt)
		// Inverte o bit de sinal: int64 ordenado vira uint64 ordenado
		return binary.BigEndian.AppendUint64(buf, uint64(v.Int)^(1<<63))
	case types.KindFloat:
		buf = append(buf, keyTagFloat)
		bits := math.Float64bits(v.Float)
		if bits&(1<<63) != 0 {
			bits = ^bits // Negativos: inverte tudo
		} else {
			bits |= 1 << 63 // Positivos: seta o bit de sinal
		}
		return binary.BigEndian.AppendUint64(buf, bits)
	case types.KindText:
		buf = append(buf, keyTagText)
		// Escape 0x00 -> 0x00 0xFF para manter o terminador exclusivo
		for _, b := range v.Text {
			if b == 0x00 {
				buf = append(buf, 0x00, 0xFF)
			} else {
				buf = append(buf, b)
			}
		}
		return append(buf, 0x00, 0x00)
	case types.KindBoolean:
		buf = append(buf, keyTagBoolean)
		if v.Bool {
			return append(buf, 1)
		}
		return append(buf, 0)
	}
	return buf
}
