package index

import (
	"sync"
	"sync/atomic"

	"github.com/bobboyms/olap-engine/pkg/errors"
)

// Kind enumera os tipos de índice disponíveis
type Kind int

const (
	KindBTree Kind = iota // Suporta igualdade e range
	KindHash              // Apenas igualdade
)

func (k Kind) String() string {
	return [...]string{"BTREE", "HASH"}[k]
}

// Meta descreve um índice registrado
type Meta struct {
	Table  string
	Column string
	Kind   Kind
	Unique bool
	Tree   *BPlusTree
}

// Registry rastreia os índices disponíveis por (tabela, coluna, tipo).
// A lista é copy-on-write: leitores (o planner, em toda query) nunca
// bloqueiam escritores (CREATE/DROP INDEX).
type Registry struct {
	mu   sync.Mutex   // Serializa escritores
	list atomic.Value // []*Meta
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.list.Store([]*Meta(nil))
	return r
}

func (r *Registry) load() []*Meta {
	return r.list.Load().([]*Meta)
}

// Add registra um índice novo (substitui se já existir a mesma tripla)
func (r *Registry) Add(meta *Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.load()
	next := make([]*Meta, 0, len(old)+1)
	for _, m := range old {
		if m.Table == meta.Table && m.Column == meta.Column && m.Kind == meta.Kind {
			continue
		}
		next = append(next, m)
	}
	next = append(next, meta)
	r.list.Store(next)
}

// Drop remove o índice da tripla dada
func (r *Registry) Drop(table, column string, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.load()
	next := make([]*Meta, 0, len(old))
	found := false
	for _, m := range old {
		if m.Table == table && m.Column == column && m.Kind == kind {
			found = true
			continue
		}
		next = append(next, m)
	}
	if !found {
		return &errors.IndexNotFoundError{Table: table, Column: column}
	}
	r.list.Store(next)
	return nil
}

// Lookup retorna o índice exato da tripla, se registrado
func (r *Registry) Lookup(table, column string, kind Kind) (*Meta, bool) {
	for _, m := range r.load() {
		if m.Table == table && m.Column == column && m.Kind == kind {
			return m, true
		}
	}
	return nil, false
}

// ForTable lista os índices de uma tabela
func (r *Registry) ForTable(table string) []*Meta {
	var out []*Meta
	for _, m := range r.load() {
		if m.Table == table {
			out = append(out, m)
		}
	}
	return out
}

// BestForColumn responde "melhor índice para este predicado":
// BTree serve igualdade e range; Hash apenas igualdade. Empate
// favorece BTree (mais versátil para o executor).
func (r *Registry) BestForColumn(table, column string, needsRange bool) (*Meta, bool) {
	var hash *Meta
	for _, m := range r.load() {
		if m.Table != table || m.Column != column {
			continue
		}
		if m.Kind == KindBTree {
			return m, true
		}
		if m.Kind == KindHash && !needsRange {
			hash = m
		}
	}
	if hash != nil {
		return hash, true
	}
	return nil, false
}
