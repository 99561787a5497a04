package kernel

import (
	"github.com/bobboyms/olap-engine/pkg/column"
	"github.com/bobboyms/olap-engine/pkg/planner"
)

// kernel.go: contrato uniforme dos operadores. Entradas são buffers
// colunares tipados com contagem de linhas; a saída é um batch novo com
// a contagem produzida. Implementações de CPU e acelerador são
// intercambiáveis atrás desta interface; quem escolhe é o planner.

// Batch é o quantum de dados entre operadores
type Batch struct {
	Cols []*column.Column
	Rows int
}

// NewBatch monta um batch a partir de colunas com o mesmo RowCount
func NewBatch(cols ...*column.Column) *Batch {
	b := &Batch{Cols: cols}
	if len(cols) > 0 {
		b.Rows = cols[0].RowCount
	}
	return b
}

// ToResultSet converte o batch para a forma de saída do executor
func (b *Batch) ToResultSet() *column.ResultSet {
	return column.NewResultSet(b.Cols...)
}

// ColIndex localiza uma coluna pelo nome (-1 se ausente)
func (b *Batch) ColIndex(name string) int {
	for i, c := range b.Cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// FilterSpec descreve um filtro de comparação sobre uma coluna
type FilterSpec struct {
	ColIdx int
	Pred   planner.Predicate
}

// AggSpec descreve uma agregação
type AggSpec struct {
	Func   planner.AggFunc
	ColIdx int  // Ignorado quando Star
	Star   bool // COUNT(*)
	As     string
}

// SortKey descreve uma chave de ordenação
type SortKey struct {
	ColIdx int
	Desc   bool
}

// WindowSpec descreve uma função de janela já resolvida para índices
type WindowSpec struct {
	Func         planner.WindowFunc
	ArgIdx       int // Ignorado por ROW_NUMBER/RANK/DENSE_RANK
	PartitionIdx []int
	OrderIdx     []int
	OrderDesc    []bool
	Frame        planner.WindowFrame
	As           string
}

// JoinSpec descreve um hash join interno
type JoinSpec struct {
	LeftKeyIdx  int
	RightKeyIdx int
}

// Kernel é a interface uniforme de execução por operador.
// Semântica dos contratos:
//   - Filter: preserva a ordem, descarta linhas com predicado falso ou NULL
//   - HashJoin (inner): para cada linha da esquerda, o produto com as
//     linhas da direita de chave igual; ordem (esquerda, direita no bucket)
//   - Aggregate: NULLs fora, exceto COUNT(*); AVG é SUM/COUNT não-nulo exato
//   - Sort: estável, ascendente por padrão, NULL é o menor
//   - GroupBy: particiona pela chave, agrega por grupo, uma linha por grupo
//   - Window: preserva a contagem de linhas; frame ROWS/RANGE/GROUPS
type Kernel interface {
	Filter(in *Batch, spec FilterSpec) (*Batch, error)
	HashJoin(left, right *Batch, spec JoinSpec) (*Batch, error)
	Aggregate(in *Batch, specs []AggSpec) (*Batch, error)
	Sort(in *Batch, keys []SortKey) (*Batch, error)
	GroupBy(in *Batch, groupIdx []int, specs []AggSpec) (*Batch, error)
	Window(in *Batch, spec WindowSpec) (*Batch, error)
}
