package executor

import (
	"go.uber.org/zap"

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

// Executor dirige planos físicos sobre o storage MVCC, despachando
// operadores para o kernel escolhido pelo planner (CPU ou acelerador).
type Executor struct {
	catalog  *catalog.Catalog
	stats    *catalog.Stats
	registry *index.Registry
	txns     *txn.Manager
	planner  *planner.Planner
	cpu      kernel.Kernel
	accel    kernel.Kernel // nil = sem acelerador
	log      *zap.Logger
}

func New(cat *catalog.Catalog, stats *catalog.Stats, registry *index.Registry,
	txns *txn.Manager, pl *planner.Planner, accel kernel.Kernel, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		catalog:  cat,
		stats:    stats,
		registry: registry,
		txns:     txns,
		planner:  pl,
		cpu:      kernel.NewCPUKernel(),
		accel:    accel,
		log:      log,
	}
}

// Execute roda um statement dentro da transação dada.
// Erros de operador abortam a query; o chamador decide abortar a
// transação (o wrapper autocommit faz isso).
func (e *Executor) Execute(tx *txn.Transaction, stmt planner.Statement) (*column.ResultSet, error) {
	switch s := stmt.(type) {
	case *planner.SelectStmt:
		return e.execSelect(tx, s)
	case *planner.InsertStmt:
		return nil, e.execInsert(tx, s)
	case *planner.UpdateStmt:
		return nil, e.execUpdate(tx, s)
	case *planner.DeleteStmt:
		return nil, e.execDelete(tx, s)
	case *planner.CreateTableStmt:
		return nil, e.execCreateTable(s)
	case *planner.DropTableStmt:
		return nil, e.execDropTable(tx, s)
	case *planner.AlterTableStmt:
		return nil, e.execAlterTable(s)
	case *planner.CreateIndexStmt:
		return nil, e.execCreateIndex(tx, s)
	case *planner.DropIndexStmt:
		return nil, e.registry.Drop(s.Table, s.Column, s.Kind)
	}
	return nil, &engerrors.SyntaxError{Detail: "unsupported statement"}
}

// ExecuteAuto roda em transação própria (autocommit): commit no sucesso,
// abort em qualquer erro.
func (e *Executor) ExecuteAuto(stmt planner.Statement) (*column.ResultSet, error) {
	tx, err := e.txns.Begin(txn.RepeatableRead)
	if err != nil {
		return nil, err
	}
	rs, err := e.Execute(tx, stmt)
	if err != nil {
		e.txns.Abort(tx)
		return nil, err
	}
	if err := e.txns.Commit(tx); err != nil {
		e.txns.Abort(tx)
		return nil, err
	}
	return rs, nil
}

// === DDL ===

func (e *Executor) execCreateTable(s *planner.CreateTableStmt) error {
	def := s.Def
	if err := e.catalog.CreateTable(&def); err != nil {
		return err
	}
	// A chave primária ganha um índice único automático
	if pk, ok := def.PrimaryKey(); ok {
		e.registry.Add(&index.Meta{
			Table:  def.Name,
			Column: pk.Name,
			Kind:   index.KindBTree,
			Unique: true,
			Tree:   index.NewUniqueTree(index.DefaultDegree),
		})
	}
	return nil
}

func (e *Executor) execDropTable(tx *txn.Transaction, s *planner.DropTableStmt) error {
	if err := e.catalog.DropTable(s.Table); err != nil {
		return err
	}
	for _, meta := range e.registry.ForTable(s.Table) {
		e.registry.Drop(meta.Table, meta.Column, meta.Kind)
	}
	// Tombstones para as linhas da tabela
	var keys [][]byte
	e.txns.ScanVisible(tx, storage.TablePrefix(s.Table), func(k, v []byte) bool {
		keys = append(keys, append([]byte(nil), k...))
		return true
	})
	for _, k := range keys {
		if err := e.txns.Delete(tx, k); err != nil {
			return err
		}
	}
	e.stats.SetRowCount(s.Table, 0)
	return nil
}

func (e *Executor) execAlterTable(s *planner.AlterTableStmt) error {
	if s.AddColumn != nil {
		return e.catalog.AlterTableAddColumn(s.Table, *s.AddColumn)
	}
	if s.DropColumn != "" {
		return e.catalog.AlterTableDropColumn(s.Table, s.DropColumn)
	}
	return &engerrors.SyntaxError{Detail: "empty ALTER TABLE"}
}

func (e *Executor) execCreateIndex(tx *txn.Transaction, s *planner.CreateIndexStmt) error {
	def, err := e.catalog.Table(s.Table)
	if err != nil {
		return err
	}
	if _, ok := def.Column(s.Column); !ok {
		return &engerrors.UnknownColumnError{Table: s.Table, Column: s.Column}
	}

	var tree *index.BPlusTree
	if s.Unique {
		tree = index.NewUniqueTree(index.DefaultDegree)
	} else {
		tree = index.NewTree(index.DefaultDegree)
	}
	meta := &index.Meta{
		Table:  s.Table,
		Column: s.Column,
		Kind:   s.Kind,
		Unique: s.Unique,
		Tree:   tree,
	}

	// Backfill com as linhas visíveis
	var backfillErr error
	e.txns.ScanVisible(tx, storage.TablePrefix(s.Table), func(k, v []byte) bool {
		_, row, err := storage.BsonToRow(v)
		if err != nil {
			backfillErr = err
			return false
		}
		val, ok := row[s.Column]
		if !ok || val.IsNull() {
			return true // NULL fica fora do índice
		}
		if err := tree.Insert(val, append([]byte(nil), k...)); err != nil {
			backfillErr = err
			return false
		}
		return true
	})
	if backfillErr != nil {
		return backfillErr
	}

	e.registry.Add(meta)
	return nil
}

// === DML ===

func (e *Executor) execInsert(tx *txn.Transaction, s *planner.InsertStmt) error {
	def, err := e.catalog.Table(s.Table)
	if err != nil {
		return err
	}
	pk, ok := def.PrimaryKey()
	if !ok {
		return &engerrors.ConstraintViolationError{Constraint: "missing primary key", Key: s.Table}
	}

	colOrder := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		colOrder[i] = c.Name
	}

	for _, values := range s.Rows {
		if len(values) != len(s.Columns) {
			return &engerrors.SyntaxError{Detail: "row arity does not match column list"}
		}
		row := make(map[string]types.Value, len(values))
		for i, name := range s.Columns {
			cdef, ok := def.Column(name)
			if !ok {
				return &engerrors.UnknownColumnError{Table: s.Table, Column: name}
			}
			v := values[i]
			if !v.IsNull() && v.Kind != cdef.Type.ValueKind() {
				return &engerrors.TypeMismatchError{
					Expected: cdef.Type.String(),
					Got:      v.Kind.String(),
				}
			}
			row[name] = v
		}

		pkVal, ok := row[pk.Name]
		if !ok || pkVal.IsNull() {
			return &engerrors.ConstraintViolationError{Constraint: "null primary key", Key: pk.Name}
		}

		rowKey := storage.RowKey(s.Table, pkVal)

		// Unicidade da PK sob o snapshot da transação
		if _, exists, err := e.txns.Read(tx, rowKey); err != nil {
			return err
		} else if exists {
			return &engerrors.ConstraintViolationError{Constraint: "duplicate primary key", Key: pkVal.String()}
		}

		data, err := storage.RowToBson(colOrder, row)
		if err != nil {
			return err
		}
		if err := e.txns.Write(tx, rowKey, data); err != nil {
			return err
		}

		// Índices secundários
		for _, meta := range e.registry.ForTable(s.Table) {
			val, ok := row[meta.Column]
			if !ok || val.IsNull() {
				continue
			}
			if err := meta.Tree.Insert(val, rowKey); err != nil {
				return err
			}
		}
		e.stats.AddRows(s.Table, 1)
	}
	return nil
}

func (e *Executor) execUpdate(tx *txn.Transaction, s *planner.UpdateStmt) error {
	def, err := e.catalog.Table(s.Table)
	if err != nil {
		return err
	}
	for name := range s.Set {
		if _, ok := def.Column(name); !ok {
			return &engerrors.UnknownColumnError{Table: s.Table, Column: name}
		}
	}

	matches, err := e.collectMatches(tx, s.Table, s.Where)
	if err != nil {
		return err
	}

	colOrder := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		colOrder[i] = c.Name
	}

	for _, match := range matches {
		updated := match.row
		for name, v := range s.Set {
			// Índice da coluna alterada acompanha o novo valor
			for _, meta := range e.registry.ForTable(s.Table) {
				if meta.Column != name {
					continue
				}
				if old, ok := updated[name]; ok && !old.IsNull() {
					meta.Tree.Remove(old, match.key)
				}
				if !v.IsNull() {
					if err := meta.Tree.Insert(v, match.key); err != nil {
						return err
					}
				}
			}
			updated[name] = v
		}
		data, err := storage.RowToBson(colOrder, updated)
		if err != nil {
			return err
		}
		if err := e.txns.Write(tx, match.key, data); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) execDelete(tx *txn.Transaction, s *planner.DeleteStmt) error {
	if _, err := e.catalog.Table(s.Table); err != nil {
		return err
	}

	matches, err := e.collectMatches(tx, s.Table, s.Where)
	if err != nil {
		return err
	}

	for _, match := range matches {
		if err := e.txns.Delete(tx, match.key); err != nil {
			return err
		}
		for _, meta := range e.registry.ForTable(s.Table) {
			if v, ok := match.row[meta.Column]; ok && !v.IsNull() {
				meta.Tree.Remove(v, match.key)
			}
		}
		e.stats.AddRows(s.Table, -1)
	}
	return nil
}

// rowMatch é uma linha visível que satisfez o WHERE
type rowMatch struct {
	key []byte
	row map[string]types.Value
}

func (e *Executor) collectMatches(tx *txn.Transaction, table string, where []planner.Predicate) ([]rowMatch, error) {
	var matches []rowMatch
	var scanErr error
	e.txns.ScanVisible(tx, storage.TablePrefix(table), func(k, v []byte) bool {
		_, row, err := storage.BsonToRow(v)
		if err != nil {
			scanErr = err
			return false
		}
		for _, pred := range where {
			if !evalRowPredicate(row, pred) {
				return true
			}
		}
		matches = append(matches, rowMatch{key: append([]byte(nil), k...), row: row})
		return true
	})
	return matches, scanErr
}
