package planner

// LogicalKind enumera os nós do plano lógico
type LogicalKind int

const (
	LogicalScan LogicalKind = iota
	LogicalFilter
	LogicalProject
	LogicalJoin
	LogicalAggregate
	LogicalGroupBy
	LogicalSort
	LogicalLimit
	LogicalWindow
)

func (k LogicalKind) String() string {
	return [...]string{
		"Scan", "Filter", "Project", "Join", "Aggregate",
		"GroupBy", "Sort", "Limit", "Window",
	}[k]
}

// LogicalNode é um nó do plano lógico. A árvore é reescrita in place
// pelos passes do otimizador; nós substituídos são desligados da árvore
// (sem alocações órfãs penduradas nos filhos).
type LogicalNode struct {
	Kind       LogicalKind
	Table      string // Apenas Scan
	Columns    []ColumnRef
	Predicates []Predicate
	Aggregates []AggregateExpr
	GroupBy    []ColumnRef
	OrderBy    []OrderItem
	Limit      int
	Window     *WindowExpr
	JoinCond   *JoinCondition
	Children   []*LogicalNode
}

// buildLogical abaixa a AST para o plano lógico respeitando a
// precedência de cláusulas: Scan -> Join -> Filter -> Aggregate/GroupBy
// -> Sort -> Project -> Limit (construção pós-ordem, left-deep).
func buildLogical(stmt *SelectStmt) *LogicalNode {
	// Scans nas folhas
	root := &LogicalNode{Kind: LogicalScan, Table: stmt.From.Name}

	// Joins left-deep: ((t1 ⋈ t2) ⋈ t3)
	for _, j := range stmt.Joins {
		right := &LogicalNode{Kind: LogicalScan, Table: j.Table.Name}
		cond := j.On
		root = &LogicalNode{
			Kind:     LogicalJoin,
			JoinCond: &cond,
			Children: []*LogicalNode{root, right},
		}
	}

	// Filter acima do join
	if len(stmt.Where) > 0 {
		root = &LogicalNode{
			Kind:       LogicalFilter,
			Predicates: append([]Predicate(nil), stmt.Where...),
			Children:   []*LogicalNode{root},
		}
	}

	// Aggregate / GroupBy
	if len(stmt.GroupBy) > 0 {
		root = &LogicalNode{
			Kind:       LogicalGroupBy,
			GroupBy:    append([]ColumnRef(nil), stmt.GroupBy...),
			Aggregates: append([]AggregateExpr(nil), stmt.Aggregates...),
			Children:   []*LogicalNode{root},
		}
	} else if len(stmt.Aggregates) > 0 {
		root = &LogicalNode{
			Kind:       LogicalAggregate,
			Aggregates: append([]AggregateExpr(nil), stmt.Aggregates...),
			Children:   []*LogicalNode{root},
		}
	}

	// Window functions preservam a contagem de linhas
	for i := range stmt.Windows {
		w := stmt.Windows[i]
		root = &LogicalNode{
			Kind:     LogicalWindow,
			Window:   &w,
			Children: []*LogicalNode{root},
		}
	}

	// Sort
	if len(stmt.OrderBy) > 0 {
		root = &LogicalNode{
			Kind:     LogicalSort,
			OrderBy:  append([]OrderItem(nil), stmt.OrderBy...),
			Children: []*LogicalNode{root},
		}
	}

	// Project
	if len(stmt.Projection) > 0 {
		root = &LogicalNode{
			Kind:     LogicalProject,
			Columns:  append([]ColumnRef(nil), stmt.Projection...),
			Children: []*LogicalNode{root},
		}
	}

	// Limit por último
	if stmt.Limit > 0 {
		root = &LogicalNode{
			Kind:     LogicalLimit,
			Limit:    stmt.Limit,
			Children: []*LogicalNode{root},
		}
	}

	return root
}

// walk aplica fn em pós-ordem
func walk(node *LogicalNode, fn func(*LogicalNode)) {
	for _, c := range node.Children {
		walk(c, fn)
	}
	fn(node)
}

// tablesUnder coleta as tabelas alcançáveis a partir do nó
func tablesUnder(node *LogicalNode) map[string]bool {
	out := make(map[string]bool)
	walk(node, func(n *LogicalNode) {
		if n.Kind == LogicalScan {
			out[n.Table] = true
		}
	})
	return out
}
