package planner

import (
	"github.com/bobboyms/olap-engine/pkg/index"
	"github.com/bobboyms/olap-engine/pkg/types"
)

// PhysicalKind enumera os operadores físicos
type PhysicalKind int

const (
	PhysicalTableScan PhysicalKind = iota
	PhysicalIndexSeek
	PhysicalIndexRangeScan
	PhysicalIndexScan
	PhysicalFilter
	PhysicalProject
	PhysicalNestedLoopJoin
	PhysicalHashJoin
	PhysicalAggregate
	PhysicalGroupBy
	PhysicalSort
	PhysicalLimit
	PhysicalWindow
)

func (k PhysicalKind) String() string {
	return [...]string{
		"TableScan", "IndexSeek", "IndexRangeScan", "IndexScan",
		"Filter", "Project", "NestedLoopJoin", "HashJoin",
		"Aggregate", "GroupBy", "Sort", "Limit", "Window",
	}[k]
}

// AccessMethod descreve o meio físico de leitura de uma tabela
type AccessMethod int

const (
	AccessNone AccessMethod = iota
	AccessFullScan
	AccessIndexSeek
	AccessIndexRange
	AccessIndexScan
)

func (a AccessMethod) String() string {
	return [...]string{"-", "full_scan", "index_seek", "index_range", "index_scan"}[a]
}

// PhysicalNode é um nó do plano físico.
// Invariante: IndexSeek/IndexRangeScan referenciam um índice presente
// no registry no momento do planejamento, com a coluna líder do predicado.
type PhysicalNode struct {
	Kind           PhysicalKind
	Access         AccessMethod
	Table          string
	Predicates     []Predicate
	Columns        []ColumnRef
	Aggregates     []AggregateExpr
	GroupBy        []ColumnRef
	OrderBy        []OrderItem
	Limit          int
	Window         *WindowExpr
	JoinCond       *JoinCondition
	Children       []*PhysicalNode
	UseAccelerator bool
	ParallelDegree int
	Index          *index.Meta // IndexSeek/IndexRangeScan/IndexScan
	IndexPredicate *Predicate  // O predicado servido pelo índice
	EstRows        uint64
}

// HashJoinThreshold: acima disso de cardinalidade em um dos lados,
// NestedLoopJoin vira HashJoin (condição de igualdade exigida)
const HashJoinThreshold = 1000

// selectPhysical converte a árvore lógica otimizada em plano físico,
// aplicando as regras de seleção de access method.
func (p *Planner) selectPhysical(node *LogicalNode) *PhysicalNode {
	switch node.Kind {
	case LogicalScan:
		return p.selectScanAccess(node.Table, node.Predicates)

	case LogicalJoin:
		left := p.selectPhysical(node.Children[0])
		right := p.selectPhysical(node.Children[1])
		out := &PhysicalNode{
			Kind:           PhysicalNestedLoopJoin,
			JoinCond:       node.JoinCond,
			Children:       []*PhysicalNode{left, right},
			ParallelDegree: 1,
		}
		// Upgrade para HashJoin: lados tabulares, condição de igualdade,
		// e pelo menos um lado acima do limiar
		if node.JoinCond != nil && node.JoinCond.Left.Column != "" &&
			(left.EstRows > HashJoinThreshold || right.EstRows > HashJoinThreshold) {
			out.Kind = PhysicalHashJoin
		}
		out.EstRows = p.estimateJoinRows(left, right)
		return out

	case LogicalFilter:
		child := p.selectPhysical(node.Children[0])
		out := &PhysicalNode{
			Kind:           PhysicalFilter,
			Predicates:     node.Predicates,
			Children:       []*PhysicalNode{child},
			ParallelDegree: 1,
		}
		out.EstRows = estimateFilterRows(child.EstRows, len(node.Predicates))
		return out

	case LogicalProject:
		child := p.selectPhysical(node.Children[0])
		return &PhysicalNode{
			Kind:           PhysicalProject,
			Columns:        node.Columns,
			Children:       []*PhysicalNode{child},
			ParallelDegree: 1,
			EstRows:        child.EstRows,
		}

	case LogicalAggregate:
		child := p.selectPhysical(node.Children[0])
		return &PhysicalNode{
			Kind:           PhysicalAggregate,
			Aggregates:     node.Aggregates,
			Children:       []*PhysicalNode{child},
			ParallelDegree: 1,
			EstRows:        1,
		}

	case LogicalGroupBy:
		child := p.selectPhysical(node.Children[0])
		est := child.EstRows / 10
		if est == 0 {
			est = 1
		}
		return &PhysicalNode{
			Kind:           PhysicalGroupBy,
			GroupBy:        node.GroupBy,
			Aggregates:     node.Aggregates,
			Children:       []*PhysicalNode{child},
			ParallelDegree: 1,
			EstRows:        est,
		}

	case LogicalSort:
		child := p.selectPhysical(node.Children[0])
		return &PhysicalNode{
			Kind:           PhysicalSort,
			OrderBy:        node.OrderBy,
			Children:       []*PhysicalNode{child},
			ParallelDegree: 1,
			EstRows:        child.EstRows,
		}

	case LogicalLimit:
		child := p.selectPhysical(node.Children[0])
		est := child.EstRows
		if uint64(node.Limit) < est {
			est = uint64(node.Limit)
		}
		return &PhysicalNode{
			Kind:           PhysicalLimit,
			Limit:          node.Limit,
			Children:       []*PhysicalNode{child},
			ParallelDegree: 1,
			EstRows:        est,
		}

	case LogicalWindow:
		child := p.selectPhysical(node.Children[0])
		return &PhysicalNode{
			Kind:           PhysicalWindow,
			Window:         node.Window,
			Children:       []*PhysicalNode{child},
			ParallelDegree: 1,
			EstRows:        child.EstRows, // Janela preserva contagem
		}
	}
	return nil
}

// selectScanAccess aplica as regras de access method para um Scan:
//   - T.c = v com índice em (T,c)            -> IndexSeek
//   - T.c em {<,<=,>,>=,BETWEEN} com índice  -> IndexRangeScan
//   - Outro predicado com índice em coluna referenciada -> IndexScan
//   - Caso contrário                          -> TableScan
func (p *Planner) selectScanAccess(table string, preds []Predicate) *PhysicalNode {
	out := &PhysicalNode{
		Table:          table,
		Predicates:     preds,
		ParallelDegree: 1,
	}

	baseRows := p.stats.RowCount(table)

	for i := range preds {
		pred := &preds[i]
		if pred.Op == OpEqual {
			if meta, ok := p.registry.BestForColumn(table, pred.Column.Column, false); ok {
				out.Kind = PhysicalIndexSeek
				out.Access = AccessIndexSeek
				out.Index = meta
				out.IndexPredicate = pred
				out.EstRows = p.stats.EstimateEquality(table, pred.Column.Column)
				return out
			}
		}
	}

	for i := range preds {
		pred := &preds[i]
		if pred.Op.IsRange() {
			if meta, ok := p.registry.BestForColumn(table, pred.Column.Column, true); ok {
				out.Kind = PhysicalIndexRangeScan
				out.Access = AccessIndexRange
				out.Index = meta
				out.IndexPredicate = pred
				lo, hi := rangeBounds(*pred)
				out.EstRows = p.stats.EstimateRange(table, pred.Column.Column, lo, hi)
				return out
			}
		}
	}

	// Qualquer outro predicado com índice em coluna referenciada
	for i := range preds {
		pred := &preds[i]
		if meta, ok := p.registry.BestForColumn(table, pred.Column.Column, false); ok {
			out.Kind = PhysicalIndexScan
			out.Access = AccessIndexScan
			out.Index = meta
			out.IndexPredicate = pred
			out.EstRows = estimateFilterRows(baseRows, len(preds))
			return out
		}
	}

	out.Kind = PhysicalTableScan
	out.Access = AccessFullScan
	out.EstRows = estimateFilterRows(baseRows, len(preds))
	return out
}

// rangeBounds extrai (lo, hi) de um predicado de range
func rangeBounds(pred Predicate) (types.Value, types.Value) {
	switch pred.Op {
	case OpGreaterThan, OpGreaterOrEqual:
		return pred.Value, types.Null()
	case OpLessThan, OpLessOrEqual:
		return types.Null(), pred.Value
	case OpBetween:
		return pred.Value, pred.Value2
	}
	return types.Null(), types.Null()
}

// estimateFilterRows aplica seletividade de 1/3 por predicado
func estimateFilterRows(base uint64, npreds int) uint64 {
	est := base
	for i := 0; i < npreds; i++ {
		est = est / 3
	}
	if est == 0 && base > 0 {
		est = 1
	}
	return est
}

// estimateJoinRows: heurística de igualdade — o output fica na ordem do
// lado maior
func (p *Planner) estimateJoinRows(left, right *PhysicalNode) uint64 {
	if left.EstRows > right.EstRows {
		return left.EstRows
	}
	return right.EstRows
}

// walkPhysical aplica fn em pós-ordem
func walkPhysical(node *PhysicalNode, fn func(*PhysicalNode)) {
	for _, c := range node.Children {
		walkPhysical(c, fn)
	}
	fn(node)
}
