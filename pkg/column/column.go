package column

import (
	"encoding/binary"
	"math"

	"github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/types"
)

// Column é o buffer colunar tipado que circula entre kernels.
// Invariantes:
//   - Para tipos de largura fixa: len(Data) == RowCount * ElementSize
//   - Para STRING: len(Offsets) == RowCount + 1, Data concatena os bytes
//   - Nulls, se presente, tem ceil(RowCount/8) bytes; bit i limpo => linha i é NULL
type Column struct {
	Name     string
	Type     types.DataType
	Data     []byte
	Offsets  []uint32 // Apenas para STRING
	Nulls    []byte   // Bitmap opcional (nil => sem NULLs)
	RowCount int
}

// NewColumn cria uma coluna vazia do tipo dado
func NewColumn(name string, t types.DataType) *Column {
	return &Column{Name: name, Type: t}
}

// IsNull verifica o bitmap. Bitmap ausente significa que nenhuma linha é NULL.
func (c *Column) IsNull(row int) bool {
	if c.Nulls == nil {
		return false
	}
	return c.Nulls[row/8]&(1<<(uint(row)%8)) == 0
}

// setValid marca a linha como não-NULL no bitmap (sem bitmap, não faz nada)
func (c *Column) setValid(row int) {
	if c.Nulls == nil {
		return
	}
	c.Nulls[row/8] |= 1 << (uint(row) % 8)
}

// ensureNullBitmap materializa o bitmap com todas as linhas existentes válidas
func (c *Column) ensureNullBitmap() {
	if c.Nulls != nil {
		return
	}
	c.Nulls = make([]byte, (c.RowCount+7)/8)
	for i := 0; i < c.RowCount; i++ {
		c.Nulls[i/8] |= 1 << (uint(i) % 8)
	}
}

// growNulls garante espaço no bitmap para a próxima linha
func (c *Column) growNulls() {
	need := c.RowCount/8 + 1
	for len(c.Nulls) < need {
		c.Nulls = append(c.Nulls, 0)
	}
}

// Append adiciona um Value no fim da coluna, convertendo para a
// representação física do tipo. NULL entra no bitmap.
func (c *Column) Append(v types.Value) error {
	if v.IsNull() {
		c.ensureNullBitmap()
		c.growNulls()
		// bit fica limpo => NULL
		c.appendZero()
		c.RowCount++
		return nil
	}

	if c.Nulls != nil {
		c.growNulls()
	}

	switch c.Type {
	case types.TypeInt8, types.TypeUint8:
		if v.Kind != types.KindInteger {
			return typeMismatch(c.Type, v)
		}
		c.Data = append(c.Data, byte(v.Int))
	case types.TypeInt16, types.TypeUint16:
		if v.Kind != types.KindInteger {
			return typeMismatch(c.Type, v)
		}
		c.Data = binary.LittleEndian.AppendUint16(c.Data, uint16(v.Int))
	case types.TypeInt32, types.TypeUint32, types.TypeDate:
		if v.Kind != types.KindInteger {
			return typeMismatch(c.Type, v)
		}
		c.Data = binary.LittleEndian.AppendUint32(c.Data, uint32(v.Int))
	case types.TypeInt64, types.TypeUint64, types.TypeTimestamp:
		if v.Kind != types.KindInteger {
			return typeMismatch(c.Type, v)
		}
		c.Data = binary.LittleEndian.AppendUint64(c.Data, uint64(v.Int))
	case types.TypeFloat32:
		if v.Kind != types.KindFloat {
			return typeMismatch(c.Type, v)
		}
		c.Data = binary.LittleEndian.AppendUint32(c.Data, math.Float32bits(float32(v.Float)))
	case types.TypeFloat64:
		if v.Kind != types.KindFloat {
			return typeMismatch(c.Type, v)
		}
		c.Data = binary.LittleEndian.AppendUint64(c.Data, math.Float64bits(v.Float))
	case types.TypeBoolean:
		if v.Kind != types.KindBoolean {
			return typeMismatch(c.Type, v)
		}
		if v.Bool {
			c.Data = append(c.Data, 1)
		} else {
			c.Data = append(c.Data, 0)
		}
	case types.TypeString:
		if v.Kind != types.KindText {
			return typeMismatch(c.Type, v)
		}
		if c.Offsets == nil {
			c.Offsets = append(c.Offsets, 0)
		}
		c.Data = append(c.Data, v.Text...)
		c.Offsets = append(c.Offsets, uint32(len(c.Data)))
	}

	c.setValid(c.RowCount)
	c.RowCount++
	return nil
}

// appendZero escreve o placeholder físico de uma linha NULL
func (c *Column) appendZero() {
	if c.Type == types.TypeString {
		if c.Offsets == nil {
			c.Offsets = append(c.Offsets, 0)
		}
		c.Offsets = append(c.Offsets, uint32(len(c.Data)))
		return
	}
	size := c.Type.ElementSize()
	for i := 0; i < size; i++ {
		c.Data = append(c.Data, 0)
	}
}

// ValueAt lê o Value lógico da linha (NULL se o bitmap disser)
func (c *Column) ValueAt(row int) types.Value {
	if c.IsNull(row) {
		return types.Null()
	}

	switch c.Type {
	case types.TypeInt8:
		return types.NewInt(int64(int8(c.Data[row])))
	case types.TypeUint8:
		return types.NewInt(int64(c.Data[row]))
	case types.TypeInt16:
		return types.NewInt(int64(int16(binary.LittleEndian.Uint16(c.Data[row*2:]))))
	case types.TypeUint16:
		return types.NewInt(int64(binary.LittleEndian.Uint16(c.Data[row*2:])))
	case types.TypeInt32, types.TypeDate:
		return types.NewInt(int64(int32(binary.LittleEndian.Uint32(c.Data[row*4:]))))
	case types.TypeUint32:
		return types.NewInt(int64(binary.LittleEndian.Uint32(c.Data[row*4:])))
	case types.TypeInt64, types.TypeTimestamp:
		return types.NewInt(int64(binary.LittleEndian.Uint64(c.Data[row*8:])))
	case types.TypeUint64:
		return types.NewInt(int64(binary.LittleEndian.Uint64(c.Data[row*8:])))
	case types.TypeFloat32:
		return types.NewFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(c.Data[row*4:]))))
	case types.TypeFloat64:
		return types.NewFloat(math.Float64frombits(binary.LittleEndian.Uint64(c.Data[row*8:])))
	case types.TypeBoolean:
		return types.NewBool(c.Data[row] != 0)
	case types.TypeString:
		start, end := c.Offsets[row], c.Offsets[row+1]
		return types.NewBytes(c.Data[start:end])
	}
	return types.Null()
}

// Validate confere as invariantes estruturais da coluna
func (c *Column) Validate() error {
	if c.Type.IsFixedWidth() {
		want := c.RowCount * c.Type.ElementSize()
		if len(c.Data) != want {
			return &errors.StorageCorruptionError{
				Key:    c.Name,
				Reason: "column data buffer length mismatch",
			}
		}
	} else if c.RowCount > 0 && len(c.Offsets) != c.RowCount+1 {
		return &errors.StorageCorruptionError{
			Key:    c.Name,
			Reason: "string column offsets length mismatch",
		}
	}
	if c.Nulls != nil && len(c.Nulls) < (c.RowCount+7)/8 {
		return &errors.StorageCorruptionError{
			Key:    c.Name,
			Reason: "null bitmap too short",
		}
	}
	return nil
}

func typeMismatch(t types.DataType, v types.Value) error {
	return &errors.TypeMismatchError{
		Expected: t.String(),
		Got:      v.Kind.String(),
	}
}
