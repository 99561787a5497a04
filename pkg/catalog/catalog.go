package catalog

import (
	"sync"

	"github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/types"
)

// ColumnDef descreve uma coluna do esquema
type ColumnDef struct {
	Name    string
	Type    types.DataType
	Primary bool
}

// TableDef descreve uma tabela registrada
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// Column localiza a definição de uma coluna pelo nome
func (t *TableDef) Column(name string) (*ColumnDef, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// PrimaryKey retorna a coluna de chave primária
func (t *TableDef) PrimaryKey() (*ColumnDef, bool) {
	for i := range t.Columns {
		if t.Columns[i].Primary {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Catalog guarda os esquemas das tabelas. Protegido por RWMutex:
// DDL é raro, consultas de esquema são constantes.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*TableDef
}

func NewCatalog() *Catalog {
	return &Catalog{
		tables: make(map[string]*TableDef),
	}
}

// CreateTable registra a tabela nova
func (c *Catalog) CreateTable(def *TableDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[def.Name]; exists {
		return &errors.TableAlreadyExistsError{Name: def.Name}
	}
	c.tables[def.Name] = def
	return nil
}

// DropTable remove a tabela
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[name]; !exists {
		return &errors.UnknownRelationError{Name: name}
	}
	delete(c.tables, name)
	return nil
}

// AlterTableAddColumn anexa uma coluna nova ao fim do esquema
func (c *Catalog) AlterTableAddColumn(table string, col ColumnDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	def, exists := c.tables[table]
	if !exists {
		return &errors.UnknownRelationError{Name: table}
	}
	if _, dup := def.Column(col.Name); dup {
		return &errors.ConstraintViolationError{Constraint: "duplicate column", Key: col.Name}
	}
	def.Columns = append(def.Columns, col)
	return nil
}

// AlterTableDropColumn remove uma coluna (a PK não pode sair)
func (c *Catalog) AlterTableDropColumn(table, column string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	def, exists := c.tables[table]
	if !exists {
		return &errors.UnknownRelationError{Name: table}
	}
	for i := range def.Columns {
		if def.Columns[i].Name == column {
			if def.Columns[i].Primary {
				return &errors.ConstraintViolationError{Constraint: "drop primary key", Key: column}
			}
			def.Columns = append(def.Columns[:i], def.Columns[i+1:]...)
			return nil
		}
	}
	return &errors.UnknownColumnError{Table: table, Column: column}
}

// Table resolve o nome para a definição
func (c *Catalog) Table(name string) (*TableDef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, exists := c.tables[name]
	if !exists {
		return nil, &errors.UnknownRelationError{Name: name}
	}
	return def, nil
}

// ListTables retorna os nomes registrados
func (c *Catalog) ListTables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}
