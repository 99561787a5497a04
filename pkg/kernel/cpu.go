package kernel

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/bobboyms/olap-engine/pkg/column"
	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/planner"
	"github.com/bobboyms/olap-engine/pkg/types"
)

// CPUKernel executa os operadores em memória do host
type CPUKernel struct{}

func NewCPUKernel() *CPUKernel {
	return &CPUKernel{}
}

// gather materializa um batch novo com as linhas selecionadas, na ordem dada
func gather(in *Batch, rows []int) (*Batch, error) {
	out := make([]*column.Column, len(in.Cols))
	for i, c := range in.Cols {
		out[i] = column.NewColumn(c.Name, c.Type)
		for _, r := range rows {
			if err := out[i].Append(c.ValueAt(r)); err != nil {
				return nil, err
			}
		}
	}
	return NewBatch(out...), nil
}

// EvalCompare avalia o predicado com lógica de três valores:
// retorna false para falso E para NULL (ambos descartam a linha).
// Exportado para o executor reusar a mesma semântica em forma row-wise.
func EvalCompare(v types.Value, pred planner.Predicate) bool {
	switch pred.Op {
	case planner.OpLike:
		if v.Kind != types.KindText || pred.Value.Kind != types.KindText {
			return false
		}
		return likeMatch(string(v.Text), string(pred.Value.Text))
	case planner.OpBetween:
		lo, ok1 := v.Compare(pred.Value)
		hi, ok2 := v.Compare(pred.Value2)
		return ok1 && ok2 && lo >= 0 && hi <= 0
	}

	cmp, ok := v.Compare(pred.Value)
	if !ok {
		return false // Comparação NULL descarta
	}
	switch pred.Op {
	case planner.OpEqual:
		return cmp == 0
	case planner.OpNotEqual:
		return cmp != 0
	case planner.OpGreaterThan:
		return cmp > 0
	case planner.OpGreaterOrEqual:
		return cmp >= 0
	case planner.OpLessThan:
		return cmp < 0
	case planner.OpLessOrEqual:
		return cmp <= 0
	}
	return false
}

// likeMatch implementa LIKE com % (qualquer sequência) e _ (um caractere)
func likeMatch(s, pattern string) bool {
	// Casamento guloso com backtracking sobre %
	var match func(s, p string) bool
	match = func(s, p string) bool {
		for len(p) > 0 {
			switch p[0] {
			case '%':
				// Consome zero ou mais
				for i := 0; i <= len(s); i++ {
					if match(s[i:], p[1:]) {
						return true
					}
				}
				return false
			case '_':
				if len(s) == 0 {
					return false
				}
				s, p = s[1:], p[1:]
			default:
				if len(s) == 0 || s[0] != p[0] {
					return false
				}
				s, p = s[1:], p[1:]
			}
		}
		return len(s) == 0
	}
	return match(s, pattern)
}

// Filter preserva a ordem de entrada, descartando linhas com predicado
// falso ou NULL
func (k *CPUKernel) Filter(in *Batch, spec FilterSpec) (*Batch, error) {
	col := in.Cols[spec.ColIdx]
	rows := make([]int, 0, in.Rows)
	for r := 0; r < in.Rows; r++ {
		if EvalCompare(col.ValueAt(r), spec.Pred) {
			rows = append(rows, r)
		}
	}
	return gather(in, rows)
}

// hashValue calcula o hash de um Value para bucketing de join/group
func hashValue(v types.Value) uint64 {
	var d xxhash.Digest
	d.Reset()
	switch v.Kind {
	case types.KindInteger:
		var buf [9]byte
		buf[0] = byte(types.KindInteger)
		for i := 0; i < 8; i++ {
			buf[i+1] = byte(v.Int >> (8 * i))
		}
		d.Write(buf[:])
	case types.KindFloat:
		d.Write([]byte{byte(types.KindFloat)})
		d.WriteString(v.String())
	case types.KindText:
		d.Write([]byte{byte(types.KindText)})
		d.Write(v.Text)
	case types.KindBoolean:
		if v.Bool {
			d.Write([]byte{byte(types.KindBoolean), 1})
		} else {
			d.Write([]byte{byte(types.KindBoolean), 0})
		}
	}
	return d.Sum64()
}

// HashJoin (inner): constrói buckets do lado direito, sonda com o lado
// esquerdo. Para cada linha da esquerda, emite o produto com todas as
// linhas da direita de chave igual; a ordem de saída é (ordem esquerda,
// ordem direita dentro do bucket). Chave NULL nunca junta.
func (k *CPUKernel) HashJoin(left, right *Batch, spec JoinSpec) (*Batch, error) {
	rightKey := right.Cols[spec.RightKeyIdx]
	buckets := make(map[uint64][]int)
	for r := 0; r < right.Rows; r++ {
		v := rightKey.ValueAt(r)
		if v.IsNull() {
			continue
		}
		h := hashValue(v)
		buckets[h] = append(buckets[h], r)
	}

	leftKey := left.Cols[spec.LeftKeyIdx]
	var leftRows, rightRows []int
	for l := 0; l < left.Rows; l++ {
		v := leftKey.ValueAt(l)
		if v.IsNull() {
			continue
		}
		for _, r := range buckets[hashValue(v)] {
			// Confirma igualdade (colisão de hash não é igualdade)
			if v.Equal(rightKey.ValueAt(r)) {
				leftRows = append(leftRows, l)
				rightRows = append(rightRows, r)
			}
		}
	}

	leftOut, err := gather(left, leftRows)
	if err != nil {
		return nil, err
	}
	rightOut, err := gather(right, rightRows)
	if err != nil {
		return nil, err
	}

	cols := append(leftOut.Cols, rightOut.Cols...)
	return NewBatch(cols...), nil
}

// aggState acumula uma agregação
type aggState struct {
	countAll int64 // Todas as linhas (COUNT(*))
	count    int64 // Apenas não-nulas
	sumInt   int64
	sumFloat float64
	isFloat  bool
	min, max types.Value
}

func (s *aggState) add(v types.Value) {
	s.countAll++
	if v.IsNull() {
		return
	}
	s.count++
	switch v.Kind {
	case types.KindInteger:
		s.sumInt += v.Int
		s.sumFloat += float64(v.Int)
	case types.KindFloat:
		s.isFloat = true
		s.sumFloat += v.Float
	}
	if s.min.IsNull() {
		s.min, s.max = v, v
		return
	}
	if cmp, ok := v.Compare(s.min); ok && cmp < 0 {
		s.min = v
	}
	if cmp, ok := v.Compare(s.max); ok && cmp > 0 {
		s.max = v
	}
}

// result fecha o acumulador. Grupo sem valores não-nulos produz NULL
// (exceto COUNT, que produz 0).
func (s *aggState) result(f planner.AggFunc, star bool) types.Value {
	switch f {
	case planner.AggCount:
		if star {
			return types.NewInt(s.countAll)
		}
		return types.NewInt(s.count)
	case planner.AggSum:
		if s.count == 0 {
			return types.Null()
		}
		if s.isFloat {
			return types.NewFloat(s.sumFloat)
		}
		return types.NewInt(s.sumInt)
	case planner.AggAvg:
		if s.count == 0 {
			return types.Null()
		}
		// Razão exata de SUM pelo COUNT não-nulo
		return types.NewFloat(s.sumFloat / float64(s.count))
	case planner.AggMin:
		return s.min
	case planner.AggMax:
		return s.max
	}
	return types.Null()
}

// aggOutType resolve o tipo físico da coluna de saída de uma agregação
func aggOutType(f planner.AggFunc, in types.DataType) types.DataType {
	switch f {
	case planner.AggCount:
		return types.TypeInt64
	case planner.AggAvg:
		return types.TypeFloat64
	case planner.AggSum:
		if in == types.TypeFloat32 || in == types.TypeFloat64 {
			return types.TypeFloat64
		}
		return types.TypeInt64
	}
	return in
}

// Aggregate reduz o batch inteiro a uma linha
func (k *CPUKernel) Aggregate(in *Batch, specs []AggSpec) (*Batch, error) {
	states := make([]aggState, len(specs))
	for r := 0; r < in.Rows; r++ {
		for i, spec := range specs {
			if spec.Star {
				states[i].countAll++
				continue
			}
			states[i].add(in.Cols[spec.ColIdx].ValueAt(r))
		}
	}

	out := make([]*column.Column, len(specs))
	for i, spec := range specs {
		inType := types.TypeInt64
		if !spec.Star {
			inType = in.Cols[spec.ColIdx].Type
		}
		out[i] = column.NewColumn(spec.As, aggOutType(spec.Func, inType))
		if err := out[i].Append(states[i].result(spec.Func, spec.Star)); err != nil {
			return nil, err
		}
	}
	return NewBatch(out...), nil
}

// Sort é estável, ascendente por padrão; NULL ordena como o menor valor
func (k *CPUKernel) Sort(in *Batch, keys []SortKey) (*Batch, error) {
	rows := make([]int, in.Rows)
	for i := range rows {
		rows[i] = i
	}

	sort.SliceStable(rows, func(a, b int) bool {
		for _, key := range keys {
			col := in.Cols[key.ColIdx]
			cmp := col.ValueAt(rows[a]).CompareTotal(col.ValueAt(rows[b]))
			if cmp == 0 {
				continue
			}
			if key.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})

	return gather(in, rows)
}

// groupKey codifica a chave de grupo de uma linha
func groupKey(in *Batch, groupIdx []int, row int) string {
	var sb strings.Builder
	for _, gi := range groupIdx {
		v := in.Cols[gi].ValueAt(row)
		sb.WriteByte(byte(v.Kind))
		sb.WriteString(v.String())
		sb.WriteByte(0)
	}
	return sb.String()
}

// GroupBy particiona pela chave de grupo e agrega por grupo; saída tem
// uma linha por grupo, na ordem de primeira aparição.
func (k *CPUKernel) GroupBy(in *Batch, groupIdx []int, specs []AggSpec) (*Batch, error) {
	type group struct {
		firstRow int
		states   []aggState
	}
	order := []string{}
	groups := make(map[string]*group)

	for r := 0; r < in.Rows; r++ {
		key := groupKey(in, groupIdx, r)
		g, ok := groups[key]
		if !ok {
			g = &group{firstRow: r, states: make([]aggState, len(specs))}
			groups[key] = g
			order = append(order, key)
		}
		for i, spec := range specs {
			if spec.Star {
				g.states[i].countAll++
				continue
			}
			g.states[i].add(in.Cols[spec.ColIdx].ValueAt(r))
		}
	}

	// Colunas de chave primeiro, depois os agregados
	out := make([]*column.Column, 0, len(groupIdx)+len(specs))
	for _, gi := range groupIdx {
		out = append(out, column.NewColumn(in.Cols[gi].Name, in.Cols[gi].Type))
	}
	for _, spec := range specs {
		inType := types.TypeInt64
		if !spec.Star {
			inType = in.Cols[spec.ColIdx].Type
		}
		out = append(out, column.NewColumn(spec.As, aggOutType(spec.Func, inType)))
	}

	for _, key := range order {
		g := groups[key]
		for c, gi := range groupIdx {
			if err := out[c].Append(in.Cols[gi].ValueAt(g.firstRow)); err != nil {
				return nil, err
			}
		}
		for i, spec := range specs {
			if err := out[len(groupIdx)+i].Append(g.states[i].result(spec.Func, spec.Star)); err != nil {
				return nil, err
			}
		}
	}
	return NewBatch(out...), nil
}

// errUnsupportedFrame sinaliza um frame que o kernel não resolve
func errUnsupportedFrame() error {
	return &engerrors.TypeMismatchError{Expected: "ROWS/RANGE/GROUPS frame", Got: "unknown frame mode"}
}
