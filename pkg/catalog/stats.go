package catalog

import (
	"sync"

	"github.com/bobboyms/olap-engine/pkg/types"
)

// DefaultRowCount é a cardinalidade assumida para tabelas sem estatísticas
const DefaultRowCount = 1000

// ColumnStats guarda as estatísticas de uma coluna
type ColumnStats struct {
	Cardinality uint64 // Valores distintos estimados
	Min         types.Value
	Max         types.Value
	NullCount   uint64
}

// TableStats guarda as estatísticas de uma tabela
type TableStats struct {
	RowCount uint64
	Columns  map[string]*ColumnStats
}

// Stats é o catálogo de estatísticas consultado pelo cost model.
// Atualizado por INSERT/DELETE/DROP TABLE no executor.
type Stats struct {
	mu     sync.RWMutex
	tables map[string]*TableStats
}

func NewStats() *Stats {
	return &Stats{
		tables: make(map[string]*TableStats),
	}
}

// RowCount retorna a contagem da tabela, ou DefaultRowCount se ausente
func (s *Stats) RowCount(table string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ts, ok := s.tables[table]; ok {
		return ts.RowCount
	}
	return DefaultRowCount
}

// HasTable indica se existem estatísticas coletadas para a tabela
func (s *Stats) HasTable(table string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[table]
	return ok
}

// SetRowCount instala a contagem da tabela
func (s *Stats) SetRowCount(table string, count uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(table).RowCount = count
}

// AddRows soma delta (negativo em DELETE) à contagem
func (s *Stats) AddRows(table string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.ensure(table)
	if delta < 0 && uint64(-delta) > ts.RowCount {
		ts.RowCount = 0
		return
	}
	ts.RowCount = uint64(int64(ts.RowCount) + delta)
}

// SetColumnStats instala as estatísticas de uma coluna
func (s *Stats) SetColumnStats(table, column string, cs *ColumnStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(table).Columns[column] = cs
}

// ColumnStats retorna as estatísticas da coluna, se coletadas
func (s *Stats) ColumnStats(table, column string) (*ColumnStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.tables[table]
	if !ok {
		return nil, false
	}
	cs, ok := ts.Columns[column]
	return cs, ok
}

// EstimateRange estima quantas linhas caem em [lo, hi] na coluna,
// por interpolação uniforme entre min e max. lo/hi NULL significam
// range aberto daquele lado.
func (s *Stats) EstimateRange(table, column string, lo, hi types.Value) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.tables[table]
	if !ok {
		return DefaultRowCount / 3
	}
	cs, ok := ts.Columns[column]
	if !ok || cs.Min.IsNull() || cs.Max.IsNull() {
		return ts.RowCount / 3
	}

	nonNull := ts.RowCount - cs.NullCount
	span := numericSpan(cs.Min, cs.Max)
	if span <= 0 {
		return nonNull
	}

	loF := numericOf(cs.Min)
	hiF := numericOf(cs.Max)
	if !lo.IsNull() {
		loF = numericOf(lo)
	}
	if !hi.IsNull() {
		hiF = numericOf(hi)
	}
	if hiF < loF {
		return 0
	}

	frac := (hiF - loF) / span
	if frac > 1 {
		frac = 1
	}
	return uint64(float64(nonNull) * frac)
}

// EstimateEquality estima a seletividade de um predicado de igualdade
func (s *Stats) EstimateEquality(table, column string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.tables[table]
	if !ok {
		return DefaultRowCount / 10
	}
	cs, ok := ts.Columns[column]
	if !ok || cs.Cardinality == 0 {
		return ts.RowCount / 10
	}
	est := ts.RowCount / cs.Cardinality
	if est == 0 {
		est = 1
	}
	return est
}

func (s *Stats) ensure(table string) *TableStats {
	ts, ok := s.tables[table]
	if !ok {
		ts = &TableStats{Columns: make(map[string]*ColumnStats)}
		s.tables[table] = ts
	}
	return ts
}

// numericOf projeta o valor em um eixo numérico para interpolação.
// Texto usa o primeiro byte (grosseiro, mas estável).
func numericOf(v types.Value) float64 {
	switch v.Kind {
	case types.KindInteger:
		return float64(v.Int)
	case types.KindFloat:
		return v.Float
	case types.KindText:
		if len(v.Text) == 0 {
			return 0
		}
		return float64(v.Text[0])
	case types.KindBoolean:
		if v.Bool {
			return 1
		}
		return 0
	}
	return 0
}

func numericSpan(min, max types.Value) float64 {
	return numericOf(max) - numericOf(min)
}
