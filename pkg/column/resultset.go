package column

import (
	"github.com/bobboyms/olap-engine/pkg/types"
)

// ResultSet é a saída de uma query: lista ordenada de colunas + contagem
// lógica de linhas. Duas formas equivalentes são aceitas pelo executor:
// colunar (I/O de kernels) e row-wise (emissão ao cliente). As transformações
// entre elas preservam a semântica de NULL.
type ResultSet struct {
	Columns  []*Column
	RowCount int
}

// NewResultSet monta um ResultSet a partir de colunas já populadas.
// Todas precisam ter o mesmo RowCount.
func NewResultSet(cols ...*Column) *ResultSet {
	rs := &ResultSet{Columns: cols}
	if len(cols) > 0 {
		rs.RowCount = cols[0].RowCount
	}
	return rs
}

// Row materializa a linha i como slice de Values (forma row-wise)
func (rs *ResultSet) Row(i int) []types.Value {
	row := make([]types.Value, len(rs.Columns))
	for c, col := range rs.Columns {
		row[c] = col.ValueAt(i)
	}
	return row
}

// Rows materializa o ResultSet inteiro em forma row-wise
func (rs *ResultSet) Rows() [][]types.Value {
	rows := make([][]types.Value, rs.RowCount)
	for i := 0; i < rs.RowCount; i++ {
		rows[i] = rs.Row(i)
	}
	return rows
}

// ColumnNames retorna os nomes na ordem das colunas
func (rs *ResultSet) ColumnNames() []string {
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = c.Name
	}
	return names
}

// FromRows converte a forma row-wise de volta para colunar.
// schema define nome e tipo de cada coluna de saída.
func FromRows(schema []ColumnSpec, rows [][]types.Value) (*ResultSet, error) {
	cols := make([]*Column, len(schema))
	for i, s := range schema {
		cols[i] = NewColumn(s.Name, s.Type)
	}
	for _, row := range rows {
		for i := range schema {
			if err := cols[i].Append(row[i]); err != nil {
				return nil, err
			}
		}
	}
	return NewResultSet(cols...), nil
}

// ColumnSpec descreve uma coluna de saída
type ColumnSpec struct {
	Name string
	Type types.DataType
}
