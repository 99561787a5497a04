package planner

import (
	"sort"

	"github.com/bobboyms/olap-engine/pkg/catalog"
)

// optimizer.go: passes de reescrita, aplicados nesta ordem:
//  1. predicate pushdown (lógico)
//  2. join reordering
//  3. seleção física (physical.go)
//  4. physical predicate pushdown
//  5. anotação de paralelismo
//  6. anotação de acelerador

// pushdownPredicates move predicados qualificados (T.c) dos Filters para
// os descendentes da tabela T, inclusive o lado T de um join. Predicados
// não-qualificados ficam no Filter. Livre de duplicatas: um predicado
// idêntico já instalado no alvo não é reinstalado.
func pushdownPredicates(node *LogicalNode) *LogicalNode {
	for i, c := range node.Children {
		node.Children[i] = pushdownPredicates(c)
	}

	if node.Kind != LogicalFilter {
		return node
	}

	var remaining []Predicate
	for _, pred := range node.Predicates {
		if pred.Column.Table == "" {
			remaining = append(remaining, pred)
			continue
		}
		if !installOnTable(node.Children[0], pred) {
			remaining = append(remaining, pred)
		}
	}
	node.Predicates = remaining

	// Filter esvaziado sai da árvore (o filho assume o lugar; o nó
	// substituído é desligado para não vazar no rewrite in-place)
	if len(node.Predicates) == 0 {
		child := node.Children[0]
		node.Children = nil
		return child
	}
	return node
}

// installOnTable desce até os Scans da tabela do predicado e instala a
// cópia lá. Retorna true se algum alvo recebeu.
func installOnTable(node *LogicalNode, pred Predicate) bool {
	installed := false
	walk(node, func(n *LogicalNode) {
		if n.Kind == LogicalScan && n.Table == pred.Column.Table {
			if !hasPredicate(n.Predicates, pred) {
				n.Predicates = append(n.Predicates, pred)
			}
			installed = true
		}
	})
	return installed
}

func hasPredicate(preds []Predicate, pred Predicate) bool {
	for _, p := range preds {
		if p.Equal(pred) {
			return true
		}
	}
	return false
}

// reorderJoins ordena os filhos imediatos de cada Join por cardinalidade
// estimada ascendente (menor à esquerda), desempate por nome de tabela
// lexicográfico. Aplicado bottom-up; a transformação é idempotente.
func reorderJoins(node *LogicalNode, stats *catalog.Stats) {
	for _, c := range node.Children {
		reorderJoins(c, stats)
	}

	if node.Kind != LogicalJoin || len(node.Children) < 2 {
		return
	}

	type ranked struct {
		child *LogicalNode
		rows  uint64
		name  string
	}
	items := make([]ranked, len(node.Children))
	for i, c := range node.Children {
		items[i] = ranked{
			child: c,
			rows:  estimateLogicalRows(c, stats),
			name:  leftmostTable(c),
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].rows != items[j].rows {
			return items[i].rows < items[j].rows
		}
		return items[i].name < items[j].name
	})
	for i := range items {
		node.Children[i] = items[i].child
	}
}

// estimateLogicalRows estima a cardinalidade de saída de um nó lógico.
// Tabela sem estatísticas assume o default do catálogo (10³).
func estimateLogicalRows(node *LogicalNode, stats *catalog.Stats) uint64 {
	switch node.Kind {
	case LogicalScan:
		return estimateFilterRows(stats.RowCount(node.Table), len(node.Predicates))
	case LogicalFilter:
		return estimateFilterRows(estimateLogicalRows(node.Children[0], stats), len(node.Predicates))
	case LogicalJoin:
		var max uint64
		for _, c := range node.Children {
			if r := estimateLogicalRows(c, stats); r > max {
				max = r
			}
		}
		return max
	case LogicalAggregate:
		return 1
	case LogicalGroupBy:
		est := estimateLogicalRows(node.Children[0], stats) / 10
		if est == 0 {
			est = 1
		}
		return est
	case LogicalLimit:
		child := estimateLogicalRows(node.Children[0], stats)
		if uint64(node.Limit) < child {
			return uint64(node.Limit)
		}
		return child
	default:
		if len(node.Children) > 0 {
			return estimateLogicalRows(node.Children[0], stats)
		}
		return catalog.DefaultRowCount
	}
}

func leftmostTable(node *LogicalNode) string {
	if node.Kind == LogicalScan {
		return node.Table
	}
	if len(node.Children) > 0 {
		return leftmostTable(node.Children[0])
	}
	return ""
}

// isScanKind indica se o nó físico lê uma tabela
func isScanKind(k PhysicalKind) bool {
	switch k {
	case PhysicalTableScan, PhysicalIndexSeek, PhysicalIndexRangeScan, PhysicalIndexScan:
		return true
	}
	return false
}

// pushdownPhysicalPredicates absorve Filters cujo filho é um scan da
// mesma tabela (ou scan de query mono-tabela, para predicados não
// qualificados). O Filter esvaziado sai do plano.
func pushdownPhysicalPredicates(node *PhysicalNode) *PhysicalNode {
	for i, c := range node.Children {
		node.Children[i] = pushdownPhysicalPredicates(c)
	}

	if node.Kind != PhysicalFilter || len(node.Children) != 1 {
		return node
	}
	child := node.Children[0]
	if !isScanKind(child.Kind) {
		return node
	}

	var remaining []Predicate
	for _, pred := range node.Predicates {
		if pred.Column.Table != "" && pred.Column.Table != child.Table {
			remaining = append(remaining, pred)
			continue
		}
		if !hasPredicate(child.Predicates, pred) {
			child.Predicates = append(child.Predicates, pred)
		}
	}
	node.Predicates = remaining

	if len(node.Predicates) == 0 {
		node.Children = nil
		return child
	}
	return node
}

// annotateParallelism define o parallel-degree dos operadores que
// particionam bem, limitado pelas opções do planner.
func (p *Planner) annotateParallelism(node *PhysicalNode) {
	walkPhysical(node, func(n *PhysicalNode) {
		n.ParallelDegree = 1
		if p.opts.MaxParallelDegree <= 1 {
			return
		}
		switch {
		case isScanKind(n.Kind), n.Kind == PhysicalFilter,
			n.Kind == PhysicalHashJoin, n.Kind == PhysicalGroupBy:
			if n.EstRows >= p.opts.ParallelRowThreshold {
				degree := int(n.EstRows / p.opts.ParallelRowThreshold)
				if degree > p.opts.MaxParallelDegree {
					degree = p.opts.MaxParallelDegree
				}
				if degree > 1 {
					n.ParallelDegree = degree
				}
			}
		}
	})
}

// offloadable lista os kinds elegíveis para acelerador
func offloadable(k PhysicalKind) bool {
	switch k {
	case PhysicalTableScan, PhysicalFilter, PhysicalNestedLoopJoin,
		PhysicalHashJoin, PhysicalAggregate, PhysicalSort,
		PhysicalGroupBy, PhysicalWindow:
		return true
	}
	return false
}

// annotateAccelerator marca use-accelerator nó a nó, de forma
// independente (uma folha no acelerador pode alimentar um operador na
// CPU). Condições: (i) acelerador presente; (ii) cardinalidade >=
// min_rows_for_offload; (iii) custo no acelerador < 0.8 × custo na CPU.
// force_accelerator pula (ii) e (iii) mas ainda exige (i).
func (p *Planner) annotateAccelerator(node *PhysicalNode) {
	walkPhysical(node, func(n *PhysicalNode) {
		n.UseAccelerator = false
		if !p.opts.AcceleratorPresent || !offloadable(n.Kind) {
			return
		}
		if p.opts.ForceAccelerator {
			n.UseAccelerator = true
			return
		}
		if n.EstRows < p.opts.MinRowsForOffload {
			return
		}
		if p.cost.nodeAcceleratorCost(n) < 0.8*p.cost.nodeCPUCost(n) {
			n.UseAccelerator = true
		}
	})
}
