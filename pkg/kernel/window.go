package kernel

import (
	"sort"

	"github.com/bobboyms/olap-engine/pkg/column"
	"github.com/bobboyms/olap-engine/pkg/planner"
	"github.com/bobboyms/olap-engine/pkg/types"
)

// window.go: função de janela. A saída preserva a contagem e a ordem de
// entrada; a coluna computada é anexada ao batch.

// Window computa a função sobre cada partição, ordenada pela order key,
// dentro do frame especificado.
func (k *CPUKernel) Window(in *Batch, spec WindowSpec) (*Batch, error) {
	// 1. Particiona preservando a ordem de entrada
	partitions := map[string][]int{}
	var partOrder []string
	for r := 0; r < in.Rows; r++ {
		key := groupKey(in, spec.PartitionIdx, r)
		if _, ok := partitions[key]; !ok {
			partOrder = append(partOrder, key)
		}
		partitions[key] = append(partitions[key], r)
	}

	results := make([]types.Value, in.Rows)

	for _, key := range partOrder {
		rows := partitions[key]

		// 2. Ordena a partição pela order key (estável)
		ord := append([]int(nil), rows...)
		sort.SliceStable(ord, func(a, b int) bool {
			for i, oi := range spec.OrderIdx {
				col := in.Cols[oi]
				cmp := col.ValueAt(ord[a]).CompareTotal(col.ValueAt(ord[b]))
				if cmp == 0 {
					continue
				}
				if spec.OrderDesc[i] {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})

		// 3. Grupos de peers (mesma order key) para RANK/RANGE/GROUPS
		peers := peerGroups(in, spec, ord)

		// 4. Computa por posição
		for pos, row := range ord {
			switch spec.Func {
			case planner.WinRowNumber:
				results[row] = types.NewInt(int64(pos + 1))
			case planner.WinRank:
				// 1 + linhas antes do grupo de peers
				results[row] = types.NewInt(int64(firstOfGroup(peers, pos) + 1))
			case planner.WinDenseRank:
				results[row] = types.NewInt(int64(peers[pos] + 1))
			default:
				lo, hi, err := frameBounds(in, spec, ord, peers, pos)
				if err != nil {
					return nil, err
				}
				var st aggState
				for i := lo; i <= hi && i < len(ord); i++ {
					if i < 0 {
						continue
					}
					st.add(in.Cols[spec.ArgIdx].ValueAt(ord[i]))
				}
				results[row] = st.result(windowAggFunc(spec.Func), false)
			}
		}
	}

	// 5. Anexa a coluna computada preservando ordem e contagem
	outType := windowOutType(spec, in)
	outCol := column.NewColumn(spec.As, outType)
	for r := 0; r < in.Rows; r++ {
		if err := outCol.Append(results[r]); err != nil {
			return nil, err
		}
	}

	cols := append(append([]*column.Column(nil), in.Cols...), outCol)
	return NewBatch(cols...), nil
}

// peerGroups atribui a cada posição o índice do seu grupo de peers
// (linhas com order key igual compartilham grupo)
func peerGroups(in *Batch, spec WindowSpec, ord []int) []int {
	peers := make([]int, len(ord))
	group := 0
	for pos := 1; pos < len(ord); pos++ {
		if !sameOrderKey(in, spec, ord[pos-1], ord[pos]) {
			group++
		}
		peers[pos] = group
	}
	return peers
}

func sameOrderKey(in *Batch, spec WindowSpec, a, b int) bool {
	for _, oi := range spec.OrderIdx {
		col := in.Cols[oi]
		if col.ValueAt(a).CompareTotal(col.ValueAt(b)) != 0 {
			return false
		}
	}
	return true
}

// firstOfGroup retorna a posição da primeira linha do grupo de peers da
// posição dada
func firstOfGroup(peers []int, pos int) int {
	g := peers[pos]
	for pos > 0 && peers[pos-1] == g {
		pos--
	}
	return pos
}

func lastOfGroup(peers []int, pos int) int {
	g := peers[pos]
	for pos+1 < len(peers) && peers[pos+1] == g {
		pos++
	}
	return pos
}

// frameBounds resolve o frame para a posição corrente, retornando
// [lo, hi] inclusivo em posições da partição ordenada.
func frameBounds(in *Batch, spec WindowSpec, ord, peers []int, pos int) (int, int, error) {
	n := len(ord)

	switch spec.Frame.Mode {
	case planner.FrameRows:
		lo := resolveRowsBound(spec.Frame.Start, pos, n, true)
		hi := resolveRowsBound(spec.Frame.End, pos, n, false)
		return lo, hi, nil

	case planner.FrameGroups:
		lo, hi := 0, n-1
		switch spec.Frame.Start.Kind {
		case planner.BoundUnboundedPreceding:
			lo = 0
		case planner.BoundOffsetPreceding:
			lo = firstPosOfGroupID(peers, peers[pos]-spec.Frame.Start.Offset)
		case planner.BoundCurrentRow:
			lo = firstOfGroup(peers, pos)
		case planner.BoundOffsetFollowing:
			lo = firstPosOfGroupID(peers, peers[pos]+spec.Frame.Start.Offset)
		case planner.BoundUnboundedFollowing:
			lo = n
		}
		switch spec.Frame.End.Kind {
		case planner.BoundUnboundedFollowing:
			hi = n - 1
		case planner.BoundOffsetFollowing:
			hi = lastPosOfGroupID(peers, peers[pos]+spec.Frame.End.Offset)
		case planner.BoundCurrentRow:
			hi = lastOfGroup(peers, pos)
		case planner.BoundOffsetPreceding:
			hi = lastPosOfGroupID(peers, peers[pos]-spec.Frame.End.Offset)
		case planner.BoundUnboundedPreceding:
			hi = -1
		}
		return lo, hi, nil

	case planner.FrameRange:
		// Sem order key numérica, offsets de RANGE degeneram para peers
		lo, hi := 0, n-1
		switch spec.Frame.Start.Kind {
		case planner.BoundUnboundedPreceding:
			lo = 0
		case planner.BoundCurrentRow:
			lo = firstOfGroup(peers, pos)
		case planner.BoundOffsetPreceding:
			lo = rangeSeekLow(in, spec, ord, pos, spec.Frame.Start.Offset)
		case planner.BoundOffsetFollowing:
			lo = rangeSeekLow(in, spec, ord, pos, -spec.Frame.Start.Offset)
		case planner.BoundUnboundedFollowing:
			lo = n
		}
		switch spec.Frame.End.Kind {
		case planner.BoundUnboundedFollowing:
			hi = n - 1
		case planner.BoundCurrentRow:
			hi = lastOfGroup(peers, pos)
		case planner.BoundOffsetFollowing:
			hi = rangeSeekHigh(in, spec, ord, pos, spec.Frame.End.Offset)
		case planner.BoundOffsetPreceding:
			hi = rangeSeekHigh(in, spec, ord, pos, -spec.Frame.End.Offset)
		case planner.BoundUnboundedPreceding:
			hi = -1
		}
		return lo, hi, nil
	}
	return 0, 0, errUnsupportedFrame()
}

func resolveRowsBound(b planner.FrameBound, pos, n int, isStart bool) int {
	switch b.Kind {
	case planner.BoundUnboundedPreceding:
		return 0
	case planner.BoundOffsetPreceding:
		return pos - b.Offset
	case planner.BoundCurrentRow:
		return pos
	case planner.BoundOffsetFollowing:
		return pos + b.Offset
	case planner.BoundUnboundedFollowing:
		if isStart {
			return n
		}
		return n - 1
	}
	return pos
}

// firstPosOfGroupID localiza a primeira posição do grupo de peers com o
// id dado (clamp nas bordas)
func firstPosOfGroupID(peers []int, gid int) int {
	if gid < 0 {
		return 0
	}
	for pos, g := range peers {
		if g == gid {
			return pos
		}
		if g > gid {
			return pos
		}
	}
	return len(peers)
}

func lastPosOfGroupID(peers []int, gid int) int {
	if gid < 0 {
		return -1
	}
	last := -1
	for pos, g := range peers {
		if g <= gid {
			last = pos
		}
	}
	return last
}

// rangeSeekLow encontra a primeira posição cuja order key >= key(pos) - offset
// (primeira order key; exige valor numérico)
func rangeSeekLow(in *Batch, spec WindowSpec, ord []int, pos, offset int) int {
	if len(spec.OrderIdx) == 0 {
		return 0
	}
	col := in.Cols[spec.OrderIdx[0]]
	cur := col.ValueAt(ord[pos])
	target := numericMinus(cur, offset)
	for i := 0; i < len(ord); i++ {
		if cmp := col.ValueAt(ord[i]).CompareTotal(target); cmp >= 0 {
			return i
		}
	}
	return len(ord)
}

func rangeSeekHigh(in *Batch, spec WindowSpec, ord []int, pos, offset int) int {
	if len(spec.OrderIdx) == 0 {
		return len(ord) - 1
	}
	col := in.Cols[spec.OrderIdx[0]]
	cur := col.ValueAt(ord[pos])
	target := numericMinus(cur, -offset)
	last := -1
	for i := 0; i < len(ord); i++ {
		if cmp := col.ValueAt(ord[i]).CompareTotal(target); cmp <= 0 {
			last = i
		}
	}
	return last
}

func numericMinus(v types.Value, delta int) types.Value {
	switch v.Kind {
	case types.KindInteger:
		return types.NewInt(v.Int - int64(delta))
	case types.KindFloat:
		return types.NewFloat(v.Float - float64(delta))
	}
	return v
}

func windowAggFunc(f planner.WindowFunc) planner.AggFunc {
	switch f {
	case planner.WinSum:
		return planner.AggSum
	case planner.WinAvg:
		return planner.AggAvg
	case planner.WinMin:
		return planner.AggMin
	case planner.WinMax:
		return planner.AggMax
	case planner.WinCount:
		return planner.AggCount
	}
	return planner.AggCount
}

func windowOutType(spec WindowSpec, in *Batch) types.DataType {
	switch spec.Func {
	case planner.WinRowNumber, planner.WinRank, planner.WinDenseRank, planner.WinCount:
		return types.TypeInt64
	case planner.WinAvg:
		return types.TypeFloat64
	default:
		return aggOutType(windowAggFunc(spec.Func), in.Cols[spec.ArgIdx].Type)
	}
}
