package executor

import (
	stderrors "errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobboyms/olap-engine/pkg/catalog"
	"github.com/bobboyms/olap-engine/pkg/column"
	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/index"
	"github.com/bobboyms/olap-engine/pkg/kernel"
	"github.com/bobboyms/olap-engine/pkg/planner"
	"github.com/bobboyms/olap-engine/pkg/storage"
	"github.com/bobboyms/olap-engine/pkg/txn"
	"github.com/bobboyms/olap-engine/pkg/types"
)

func (e *Executor) execSelect(tx *txn.Transaction, s *planner.SelectStmt) (*column.ResultSet, error) {
	plan, err := e.planner.Plan(s)
	if err != nil {
		return nil, err
	}
	batch, err := e.execPlan(tx, plan)
	if err != nil {
		return nil, err
	}
	return batch.ToResultSet(), nil
}

// kernelFor escolhe o kernel do nó; off-load anotado sem device vira CPU
func (e *Executor) kernelFor(node *planner.PhysicalNode) kernel.Kernel {
	if node.UseAccelerator && e.accel != nil {
		return e.accel
	}
	return e.cpu
}

// runOnKernel executa op com fallback: estouro de memória do acelerador
// degrada para a CPU (erro de recurso, não de query).
func (e *Executor) runOnKernel(node *planner.PhysicalNode, op func(k kernel.Kernel) (*kernel.Batch, error)) (*kernel.Batch, error) {
	k := e.kernelFor(node)
	out, err := op(k)
	if err != nil && k != e.cpu {
		var oom *engerrors.OutOfAcceleratorMemoryError
		if stderrors.As(err, &oom) {
			e.log.Warn("accelerator out of memory, falling back to cpu",
				zap.String("operator", node.Kind.String()),
				zap.Int64("requested", oom.Requested))
			return op(e.cpu)
		}
	}
	return out, err
}

func (e *Executor) execPlan(tx *txn.Transaction, node *planner.PhysicalNode) (*kernel.Batch, error) {
	switch node.Kind {
	case planner.PhysicalTableScan, planner.PhysicalIndexSeek,
		planner.PhysicalIndexRangeScan, planner.PhysicalIndexScan:
		return e.execScan(tx, node)

	case planner.PhysicalFilter:
		in, err := e.execPlan(tx, node.Children[0])
		if err != nil {
			return nil, err
		}
		return e.applyPredicates(node, in, node.Predicates)

	case planner.PhysicalProject:
		in, err := e.execPlan(tx, node.Children[0])
		if err != nil {
			return nil, err
		}
		cols := make([]*column.Column, 0, len(node.Columns))
		for _, ref := range node.Columns {
			idx := in.ColIndex(ref.Column)
			if idx < 0 {
				return nil, &engerrors.UnknownColumnError{Table: ref.Table, Column: ref.Column}
			}
			cols = append(cols, in.Cols[idx])
		}
		return kernel.NewBatch(cols...), nil

	case planner.PhysicalNestedLoopJoin:
		return e.execNestedLoopJoin(tx, node)

	case planner.PhysicalHashJoin:
		left, err := e.execPlan(tx, node.Children[0])
		if err != nil {
			return nil, err
		}
		right, err := e.execPlan(tx, node.Children[1])
		if err != nil {
			return nil, err
		}
		spec, err := joinSpec(node, left, right)
		if err != nil {
			return nil, err
		}
		return e.runOnKernel(node, func(k kernel.Kernel) (*kernel.Batch, error) {
			return k.HashJoin(left, right, *spec)
		})

	case planner.PhysicalAggregate:
		in, err := e.execPlan(tx, node.Children[0])
		if err != nil {
			return nil, err
		}
		specs, err := aggSpecs(node.Aggregates, in)
		if err != nil {
			return nil, err
		}
		return e.runOnKernel(node, func(k kernel.Kernel) (*kernel.Batch, error) {
			return k.Aggregate(in, specs)
		})

	case planner.PhysicalGroupBy:
		in, err := e.execPlan(tx, node.Children[0])
		if err != nil {
			return nil, err
		}
		groupIdx := make([]int, 0, len(node.GroupBy))
		for _, ref := range node.GroupBy {
			gi := in.ColIndex(ref.Column)
			if gi < 0 {
				return nil, &engerrors.UnknownColumnError{Table: ref.Table, Column: ref.Column}
			}
			groupIdx = append(groupIdx, gi)
		}
		specs, err := aggSpecs(node.Aggregates, in)
		if err != nil {
			return nil, err
		}
		return e.runOnKernel(node, func(k kernel.Kernel) (*kernel.Batch, error) {
			return k.GroupBy(in, groupIdx, specs)
		})

	case planner.PhysicalSort:
		in, err := e.execPlan(tx, node.Children[0])
		if err != nil {
			return nil, err
		}
		keys := make([]kernel.SortKey, 0, len(node.OrderBy))
		for _, o := range node.OrderBy {
			ki := in.ColIndex(o.Column.Column)
			if ki < 0 {
				return nil, &engerrors.UnknownColumnError{Table: o.Column.Table, Column: o.Column.Column}
			}
			keys = append(keys, kernel.SortKey{ColIdx: ki, Desc: o.Desc})
		}
		return e.runOnKernel(node, func(k kernel.Kernel) (*kernel.Batch, error) {
			return k.Sort(in, keys)
		})

	case planner.PhysicalLimit:
		in, err := e.execPlan(tx, node.Children[0])
		if err != nil {
			return nil, err
		}
		if in.Rows <= node.Limit {
			return in, nil
		}
		rows := make([]int, node.Limit)
		for i := range rows {
			rows[i] = i
		}
		return gatherBatch(in, rows)

	case planner.PhysicalWindow:
		in, err := e.execPlan(tx, node.Children[0])
		if err != nil {
			return nil, err
		}
		spec, err := windowSpec(node.Window, in)
		if err != nil {
			return nil, err
		}
		return e.runOnKernel(node, func(k kernel.Kernel) (*kernel.Batch, error) {
			return k.Window(in, *spec)
		})
	}

	return nil, &engerrors.SyntaxError{Detail: "unsupported physical operator"}
}

// execScan materializa a tabela visível como batch, usando o access
// method escolhido pelo planner. Índice derrubado entre o plano e a
// execução força replan da subárvore.
func (e *Executor) execScan(tx *txn.Transaction, node *planner.PhysicalNode) (*kernel.Batch, error) {
	def, err := e.catalog.Table(node.Table)
	if err != nil {
		return nil, err
	}

	var pairs []kvPair
	switch node.Kind {
	case planner.PhysicalIndexSeek, planner.PhysicalIndexRangeScan, planner.PhysicalIndexScan:
		// O índice precisa continuar registrado
		if _, ok := e.registry.Lookup(node.Index.Table, node.Index.Column, node.Index.Kind); !ok {
			replanned := e.planner.ReplanSubtree(node)
			e.log.Info("index dropped between plan and execution, replanned subtree",
				zap.String("table", node.Table))
			return e.execScan(tx, replanned)
		}
		pairs, err = e.indexLookup(tx, node)
		if err != nil {
			return nil, err
		}
	default:
		e.txns.ScanVisible(tx, storage.TablePrefix(node.Table), func(k, v []byte) bool {
			pairs = append(pairs, kvPair{key: append([]byte(nil), k...), value: append([]byte(nil), v...)})
			return true
		})
	}

	batch, err := e.decodeRows(def, pairs, node.ParallelDegree)
	if err != nil {
		return nil, err
	}

	// Predicados instalados no scan aplicam pós-decodificação
	return e.applyPredicates(node, batch, node.Predicates)
}

type kvPair struct {
	key   []byte
	value []byte
}

// indexLookup resolve as chaves de linha via índice e busca os valores
// sob a visibilidade da transação
func (e *Executor) indexLookup(tx *txn.Transaction, node *planner.PhysicalNode) ([]kvPair, error) {
	var rowKeys [][]byte
	pred := node.IndexPredicate

	switch node.Kind {
	case planner.PhysicalIndexSeek:
		if postings, found := node.Index.Tree.Get(pred.Value); found {
			rowKeys = append(rowKeys, postings...)
		}

	case planner.PhysicalIndexRangeScan:
		lo, hi := rangeOf(*pred)
		c := index.NewCursor(node.Index.Tree)
		defer c.Close()
		c.Seek(lo)
		for c.Valid() {
			key := c.Key()
			if !hi.IsNull() {
				if cmp := key.CompareTotal(hi); cmp > 0 {
					break
				}
			}
			if matchesRangePred(key, *pred) {
				rowKeys = append(rowKeys, c.RowKeys()...)
			}
			if !c.Next() {
				break
			}
		}

	case planner.PhysicalIndexScan:
		c := index.NewCursor(node.Index.Tree)
		defer c.Close()
		c.Seek(types.Null())
		for c.Valid() {
			rowKeys = append(rowKeys, c.RowKeys()...)
			if !c.Next() {
				break
			}
		}
	}

	pairs := make([]kvPair, 0, len(rowKeys))
	for _, rk := range rowKeys {
		value, found, err := e.txns.Read(tx, rk)
		if err != nil {
			return nil, err
		}
		if !found {
			continue // Linha do índice invisível para este snapshot
		}
		pairs = append(pairs, kvPair{key: rk, value: value})
	}
	return pairs, nil
}

// rangeOf extrai o começo/fim do seek de range
func rangeOf(pred planner.Predicate) (types.Value, types.Value) {
	switch pred.Op {
	case planner.OpGreaterThan, planner.OpGreaterOrEqual:
		return pred.Value, types.Null()
	case planner.OpLessThan, planner.OpLessOrEqual:
		return types.Null(), pred.Value
	case planner.OpBetween:
		return pred.Value, pred.Value2
	}
	return types.Null(), types.Null()
}

func matchesRangePred(key types.Value, pred planner.Predicate) bool {
	cmp, ok := key.Compare(pred.Value)
	if !ok {
		return false
	}
	switch pred.Op {
	case planner.OpGreaterThan:
		return cmp > 0
	case planner.OpGreaterOrEqual:
		return cmp >= 0
	case planner.OpLessThan:
		return cmp < 0
	case planner.OpLessOrEqual:
		return cmp <= 0
	case planner.OpBetween:
		hi, ok := key.Compare(pred.Value2)
		return ok && cmp >= 0 && hi <= 0
	}
	return false
}

// decodeRows converte os documentos BSON em batch colunar. Com
// parallel-degree > 1 a decodificação particiona entre workers
// (errgroup), preservando a ordem dos chunks.
func (e *Executor) decodeRows(def *catalog.TableDef, pairs []kvPair, degree int) (*kernel.Batch, error) {
	if degree < 1 {
		degree = 1
	}

	decoded := make([]map[string]types.Value, len(pairs))
	if degree == 1 || len(pairs) < degree*2 {
		for i, p := range pairs {
			_, row, err := storage.BsonToRow(p.value)
			if err != nil {
				return nil, err
			}
			decoded[i] = row
		}
	} else {
		var g errgroup.Group
		chunk := (len(pairs) + degree - 1) / degree
		for w := 0; w < degree; w++ {
			start := w * chunk
			end := start + chunk
			if end > len(pairs) {
				end = len(pairs)
			}
			if start >= end {
				break
			}
			g.Go(func() error {
				for i := start; i < end; i++ {
					_, row, err := storage.BsonToRow(pairs[i].value)
					if err != nil {
						return err
					}
					decoded[i] = row
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	cols := make([]*column.Column, len(def.Columns))
	for i, cdef := range def.Columns {
		cols[i] = column.NewColumn(cdef.Name, cdef.Type)
	}
	for _, row := range decoded {
		for i, cdef := range def.Columns {
			v, ok := row[cdef.Name]
			if !ok {
				v = types.Null()
			}
			if err := cols[i].Append(v); err != nil {
				return nil, err
			}
		}
	}
	return kernel.NewBatch(cols...), nil
}

// applyPredicates roda os filtros em sequência no kernel do nó
func (e *Executor) applyPredicates(node *planner.PhysicalNode, in *kernel.Batch, preds []planner.Predicate) (*kernel.Batch, error) {
	out := in
	for _, pred := range preds {
		ci := out.ColIndex(pred.Column.Column)
		if ci < 0 {
			return nil, &engerrors.UnknownColumnError{Table: pred.Column.Table, Column: pred.Column.Column}
		}
		spec := kernel.FilterSpec{ColIdx: ci, Pred: pred}
		var err error
		out, err = e.runOnKernel(node, func(k kernel.Kernel) (*kernel.Batch, error) {
			return k.Filter(out, spec)
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// execNestedLoopJoin materializa os dois lados e emite o produto das
// linhas que casam (tudo, se não há condição)
func (e *Executor) execNestedLoopJoin(tx *txn.Transaction, node *planner.PhysicalNode) (*kernel.Batch, error) {
	left, err := e.execPlan(tx, node.Children[0])
	if err != nil {
		return nil, err
	}
	right, err := e.execPlan(tx, node.Children[1])
	if err != nil {
		return nil, err
	}

	var leftKey, rightKey *column.Column
	if node.JoinCond != nil && node.JoinCond.Left.Column != "" {
		li := left.ColIndex(node.JoinCond.Left.Column)
		ri := right.ColIndex(node.JoinCond.Right.Column)
		if li < 0 || ri < 0 {
			// As colunas podem estar trocadas após o reorder dos filhos
			li = left.ColIndex(node.JoinCond.Right.Column)
			ri = right.ColIndex(node.JoinCond.Left.Column)
		}
		if li < 0 || ri < 0 {
			return nil, &engerrors.UnknownColumnError{Column: node.JoinCond.Left.Column}
		}
		leftKey, rightKey = left.Cols[li], right.Cols[ri]
	}

	var leftRows, rightRows []int
	for l := 0; l < left.Rows; l++ {
		for r := 0; r < right.Rows; r++ {
			if leftKey != nil {
				if !leftKey.ValueAt(l).Equal(rightKey.ValueAt(r)) {
					continue
				}
			}
			leftRows = append(leftRows, l)
			rightRows = append(rightRows, r)
		}
	}

	leftOut, err := gatherBatch(left, leftRows)
	if err != nil {
		return nil, err
	}
	rightOut, err := gatherBatch(right, rightRows)
	if err != nil {
		return nil, err
	}
	return kernel.NewBatch(append(leftOut.Cols, rightOut.Cols...)...), nil
}

// gatherBatch reconstrói um batch com as linhas dadas
func gatherBatch(in *kernel.Batch, rows []int) (*kernel.Batch, error) {
	cols := make([]*column.Column, len(in.Cols))
	for i, c := range in.Cols {
		cols[i] = column.NewColumn(c.Name, c.Type)
		for _, r := range rows {
			if err := cols[i].Append(c.ValueAt(r)); err != nil {
				return nil, err
			}
		}
	}
	return kernel.NewBatch(cols...), nil
}

// joinSpec resolve as colunas de junção para índices do batch
func joinSpec(node *planner.PhysicalNode, left, right *kernel.Batch) (*kernel.JoinSpec, error) {
	li := left.ColIndex(node.JoinCond.Left.Column)
	ri := right.ColIndex(node.JoinCond.Right.Column)
	if li < 0 || ri < 0 {
		li = left.ColIndex(node.JoinCond.Right.Column)
		ri = right.ColIndex(node.JoinCond.Left.Column)
	}
	if li < 0 || ri < 0 {
		return nil, &engerrors.UnknownColumnError{Column: node.JoinCond.Left.Column}
	}
	return &kernel.JoinSpec{LeftKeyIdx: li, RightKeyIdx: ri}, nil
}

// aggSpecs resolve as agregações para índices do batch
func aggSpecs(aggs []planner.AggregateExpr, in *kernel.Batch) ([]kernel.AggSpec, error) {
	specs := make([]kernel.AggSpec, 0, len(aggs))
	for _, a := range aggs {
		spec := kernel.AggSpec{Func: a.Func, Star: a.Star, As: aggName(a)}
		if !a.Star {
			ci := in.ColIndex(a.Column.Column)
			if ci < 0 {
				return nil, &engerrors.UnknownColumnError{Table: a.Column.Table, Column: a.Column.Column}
			}
			spec.ColIdx = ci
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func aggName(a planner.AggregateExpr) string {
	if a.Star {
		return "count_star"
	}
	return a.Func.String() + "_" + a.Column.Column
}

// windowSpec resolve a janela para índices do batch
func windowSpec(w *planner.WindowExpr, in *kernel.Batch) (*kernel.WindowSpec, error) {
	spec := &kernel.WindowSpec{
		Func:  w.Func,
		Frame: w.Frame,
		As:    w.As,
	}
	if spec.As == "" {
		spec.As = w.Func.String()
	}
	if w.Column.Column != "" {
		ci := in.ColIndex(w.Column.Column)
		if ci < 0 {
			return nil, &engerrors.UnknownColumnError{Column: w.Column.Column}
		}
		spec.ArgIdx = ci
	}
	for _, p := range w.PartitionBy {
		ci := in.ColIndex(p.Column)
		if ci < 0 {
			return nil, &engerrors.UnknownColumnError{Column: p.Column}
		}
		spec.PartitionIdx = append(spec.PartitionIdx, ci)
	}
	for _, o := range w.OrderBy {
		ci := in.ColIndex(o.Column.Column)
		if ci < 0 {
			return nil, &engerrors.UnknownColumnError{Column: o.Column.Column}
		}
		spec.OrderIdx = append(spec.OrderIdx, ci)
		spec.OrderDesc = append(spec.OrderDesc, o.Desc)
	}
	return spec, nil
}

// evalRowPredicate avalia um predicado em forma row-wise (UPDATE/DELETE)
func evalRowPredicate(row map[string]types.Value, pred planner.Predicate) bool {
	v, ok := row[pred.Column.Column]
	if !ok {
		return false
	}
	return kernel.EvalCompare(v, pred)
}
