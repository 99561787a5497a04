package types

import (
	"bytes"
	"fmt"
	"strconv"
)

// ValueKind identifica a variante ativa de um Value
type ValueKind uint8

const (
	KindNull    ValueKind = iota // 0: NULL (ausência de valor)
	KindInteger                  // 1: Inteiro de 64 bits com sinal
	KindFloat                    // 2: Float de 64 bits
	KindText                     // 3: Texto (bytes, ordenação lexicográfica)
	KindBoolean                  // 4: Booleano
)

func (k ValueKind) String() string {
	return [...]string{"NULL", "INTEGER", "FLOAT", "TEXT", "BOOLEAN"}[k]
}

// Value é a união taggeada que circula pelo engine inteiro.
// Comparações entre tags diferentes produzem NULL (SQL three-valued logic),
// por isso Compare retorna (int, ok).
type Value struct {
	Kind ValueKind

	// Apenas o campo correspondente ao Kind é significativo
	Int   int64
	Float float64
	Text  []byte
	Bool  bool
}

// Construtores convenientes
func Null() Value              { return Value{Kind: KindNull} }
func NewInt(v int64) Value     { return Value{Kind: KindInteger, Int: v} }
func NewFloat(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func NewText(v string) Value   { return Value{Kind: KindText, Text: []byte(v)} }
func NewBytes(v []byte) Value  { return Value{Kind: KindText, Text: v} }
func NewBool(v bool) Value     { return Value{Kind: KindBoolean, Bool: v} }

// IsNull indica se o valor é NULL
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// Compare retorna (-1|0|1, true) para valores da mesma tag.
// Retorna (0, false) quando a comparação é NULL: tags diferentes,
// ou qualquer lado NULL.
func (v Value) Compare(other Value) (int, bool) {
	if v.Kind == KindNull || other.Kind == KindNull {
		return 0, false
	}
	if v.Kind != other.Kind {
		return 0, false
	}

	switch v.Kind {
	case KindInteger:
		return compareInt64(v.Int, other.Int), true
	case KindFloat:
		return compareFloat64(v.Float, other.Float), true
	case KindText:
		return bytes.Compare(v.Text, other.Text), true
	case KindBoolean:
		// false < true
		if v.Bool == other.Bool {
			return 0, true
		}
		if !v.Bool {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// Equal é a igualdade estrita (mesma tag e mesmo conteúdo).
// NULL nunca é igual a nada, nem a NULL (semântica SQL).
func (v Value) Equal(other Value) bool {
	cmp, ok := v.Compare(other)
	return ok && cmp == 0
}

// CompareTotal impõe uma ordem total sobre Values, usada apenas para
// estruturas de índice e sort estável: NULL é o menor, depois ordena
// por tag e dentro da tag pelo conteúdo. NÃO usar para predicados SQL.
func (v Value) CompareTotal(other Value) int {
	if v.Kind != other.Kind {
		return compareInt64(int64(v.Kind), int64(other.Kind))
	}
	if v.Kind == KindNull {
		return 0
	}
	cmp, _ := v.Compare(other)
	return cmp
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindText:
		return string(v.Text)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	}
	return fmt.Sprintf("Value(kind=%d)", v.Kind)
}

func compareInt64(a, b int64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func compareFloat64(a, b float64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
