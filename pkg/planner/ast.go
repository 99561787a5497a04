package planner

import (
	"github.com/bobboyms/olap-engine/pkg/catalog"
	"github.com/bobboyms/olap-engine/pkg/index"
	"github.com/bobboyms/olap-engine/pkg/types"
)

// ast.go: contrato com o parser (externo). As formas abaixo são o que o
// planner consome; o tokenizer/parser que as produz vive fora do engine.

// CompareOp enumera os operadores de predicado
type CompareOp int

const (
	OpEqual          CompareOp = iota // =
	OpNotEqual                        // !=
	OpGreaterThan                     // >
	OpGreaterOrEqual                  // >=
	OpLessThan                        // <
	OpLessOrEqual                     // <=
	OpBetween                         // BETWEEN x AND y
	OpLike                            // LIKE
)

func (op CompareOp) String() string {
	return [...]string{"=", "!=", ">", ">=", "<", "<=", "BETWEEN", "LIKE"}[op]
}

// IsRange indica se o operador define um range (serve IndexRangeScan)
func (op CompareOp) IsRange() bool {
	switch op {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpBetween:
		return true
	}
	return false
}

// ColumnRef referencia (tabela opcional, coluna)
type ColumnRef struct {
	Table  string // Vazio = não qualificada
	Column string
}

// Predicate é a comparação (coluna, op, valor [, valor2])
type Predicate struct {
	Column ColumnRef
	Op     CompareOp
	Value  types.Value
	Value2 types.Value // Apenas BETWEEN
}

// Equal compara predicados (dedupe no pushdown)
func (p Predicate) Equal(other Predicate) bool {
	return p.Column == other.Column && p.Op == other.Op &&
		p.Value.CompareTotal(other.Value) == 0 &&
		p.Value2.CompareTotal(other.Value2) == 0
}

// AggFunc enumera as agregações suportadas
type AggFunc int

const (
	AggSum AggFunc = iota
	AggCount
	AggMin
	AggMax
	AggAvg
)

func (f AggFunc) String() string {
	return [...]string{"SUM", "COUNT", "MIN", "MAX", "AVG"}[f]
}

// AggregateExpr é uma agregação na projeção.
// Star marca COUNT(*) (conta linhas, NULL incluso).
type AggregateExpr struct {
	Func   AggFunc
	Column ColumnRef
	Star   bool
}

// WindowFunc enumera as funções de janela
type WindowFunc int

const (
	WinRowNumber WindowFunc = iota
	WinRank
	WinDenseRank
	WinSum
	WinAvg
	WinMin
	WinMax
	WinCount
)

func (f WindowFunc) String() string {
	return [...]string{"ROW_NUMBER", "RANK", "DENSE_RANK", "SUM", "AVG", "MIN", "MAX", "COUNT"}[f]
}

// FrameMode enumera os modos de frame da janela
type FrameMode int

const (
	FrameRows FrameMode = iota
	FrameRange
	FrameGroups
)

// FrameBoundKind enumera os limites de frame
type FrameBoundKind int

const (
	BoundUnboundedPreceding FrameBoundKind = iota
	BoundOffsetPreceding
	BoundCurrentRow
	BoundOffsetFollowing
	BoundUnboundedFollowing
)

// FrameBound é um limite com offset opcional
type FrameBound struct {
	Kind   FrameBoundKind
	Offset int
}

// WindowFrame delimita o frame da função de janela
type WindowFrame struct {
	Mode  FrameMode
	Start FrameBound
	End   FrameBound
}

// DefaultFrame é RANGE BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW
func DefaultFrame() WindowFrame {
	return WindowFrame{
		Mode:  FrameRange,
		Start: FrameBound{Kind: BoundUnboundedPreceding},
		End:   FrameBound{Kind: BoundCurrentRow},
	}
}

// WindowExpr é uma função de janela na projeção
type WindowExpr struct {
	Func        WindowFunc
	Column      ColumnRef // Argumento (ignorado por ROW_NUMBER/RANK/DENSE_RANK)
	PartitionBy []ColumnRef
	OrderBy     []OrderItem
	Frame       WindowFrame
	As          string // Nome da coluna de saída
}

// OrderItem é um item de ORDER BY
type OrderItem struct {
	Column ColumnRef
	Desc   bool
}

// JoinCondition é a igualdade de um join
type JoinCondition struct {
	Left  ColumnRef
	Right ColumnRef
}

// TableRef referencia uma tabela no FROM
type TableRef struct {
	Name string
}

// JoinClause é um JOIN no FROM
type JoinClause struct {
	Table TableRef
	On    JoinCondition
}

// Statement é o nó raiz da AST
type Statement interface {
	stmtNode()
}

// SelectStmt: SELECT cols FROM t [JOIN ...] [WHERE] [GROUP BY] [ORDER BY] [LIMIT]
type SelectStmt struct {
	From       TableRef
	Joins      []JoinClause
	Projection []ColumnRef // Vazio = *
	Aggregates []AggregateExpr
	Windows    []WindowExpr
	Where      []Predicate // Conjunção (AND)
	GroupBy    []ColumnRef
	OrderBy    []OrderItem
	Limit      int // <= 0 = sem limite
}

// InsertStmt: INSERT INTO t (cols) VALUES rows
type InsertStmt struct {
	Table   string
	Columns []string
	Rows    [][]types.Value
}

// UpdateStmt: UPDATE t SET col=v WHERE preds
type UpdateStmt struct {
	Table string
	Set   map[string]types.Value
	Where []Predicate
}

// DeleteStmt: DELETE FROM t WHERE preds
type DeleteStmt struct {
	Table string
	Where []Predicate
}

// CreateTableStmt registra uma tabela nova
type CreateTableStmt struct {
	Def catalog.TableDef
}

// DropTableStmt remove a tabela
type DropTableStmt struct {
	Table string
}

// AlterTableStmt adiciona ou remove uma coluna
type AlterTableStmt struct {
	Table      string
	AddColumn  *catalog.ColumnDef
	DropColumn string
}

// CreateIndexStmt registra um índice
type CreateIndexStmt struct {
	Table  string
	Column string
	Kind   index.Kind
	Unique bool
}

// DropIndexStmt remove um índice
type DropIndexStmt struct {
	Table  string
	Column string
	Kind   index.Kind
}

func (*SelectStmt) stmtNode()      {}
func (*InsertStmt) stmtNode()      {}
func (*UpdateStmt) stmtNode()      {}
func (*DeleteStmt) stmtNode()      {}
func (*CreateTableStmt) stmtNode() {}
func (*DropTableStmt) stmtNode()   {}
func (*AlterTableStmt) stmtNode()  {}
func (*CreateIndexStmt) stmtNode() {}
func (*DropIndexStmt) stmtNode()   {}
